package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kestrelnet/cascade/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/job-1", r.URL.Path)
		json.NewEncoder(w).Encode(models.EnrichmentJob{
			ID:           "job-1",
			Kind:         models.JobKindRefresh,
			State:        models.JobStateProcessing,
			IPsTotal:     100,
			IPsProcessed: 40,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	job, err := c.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateProcessing, job.State)
	assert.InDelta(t, 40.0, job.Progress(), 0.01)
}

func TestGetJobNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListJobsBuildsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "refresh", q.Get("kind"))
		assert.Equal(t, "processing", q.Get("state"))
		assert.Equal(t, "10", q.Get("limit"))

		json.NewEncoder(w).Encode(models.JobListResponse{
			Jobs:  []models.EnrichmentJob{{ID: "job-1"}},
			Total: 1,
			Limit: 10,
		})
	}))
	defer server.Close()

	kind := models.JobKindRefresh
	state := models.JobStateProcessing
	c := NewClient(server.URL)
	list, err := c.ListJobs(context.Background(), ListJobsOptions{Kind: &kind, State: &state, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "job-1", list.Jobs[0].ID)
}
