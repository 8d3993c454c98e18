package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kestrelnet/cascade/internal/models"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func postRefresh(t *testing.T, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	handler := RefreshHandler(zaptest.NewLogger(t), nil, "http://localhost:9080")
	req := httptest.NewRequest(http.MethodPost, "/v1/refresh", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestRefreshHandlerRejectsEmptyList(t *testing.T) {
	rec := postRefresh(t, models.RefreshSubmission{IPs: []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must not be empty")
}

func TestRefreshHandlerRejectsOversizedList(t *testing.T) {
	ips := make([]string, refreshRequestMaxIPs+1)
	for i := range ips {
		ips[i] = "192.0.2.1"
	}
	rec := postRefresh(t, models.RefreshSubmission{IPs: ips})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds maximum")
}

func TestRefreshHandlerRejectsNonIPv4Entries(t *testing.T) {
	rec := postRefresh(t, models.RefreshSubmission{IPs: []string{"8.8.8.8", "2001:db8::1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not a valid IPv4")
}

func TestRefreshHandlerRejectsMalformedJSON(t *testing.T) {
	handler := RefreshHandler(zaptest.NewLogger(t), nil, "http://localhost:9080")
	req := httptest.NewRequest(http.MethodPost, "/v1/refresh", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_json")
}
