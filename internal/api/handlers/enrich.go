package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kestrelnet/cascade/internal/cascade"
	"github.com/kestrelnet/cascade/internal/models"
	"go.uber.org/zap"
)

// Enricher is the cascade entry point the handler invokes synchronously.
type Enricher interface {
	EnrichIP(ctx context.Context, ip string, opts ...cascade.EnrichOption) (*models.IPRecord, error)
}

// EnrichHandler serves POST /v1/enrich/{ip}: one synchronous cascade run.
// The cascade records per-source failures in metadata, so a 200 here only
// means the inventory write committed.
func EnrichHandler(logger *zap.Logger, enricher Enricher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		ip := chi.URLParam(r, "ip")
		if ip == "" {
			enrichErrorResponse(w, "missing_parameter", "ip is required", http.StatusBadRequest)
			return
		}
		if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
			// Malformed input still flows through the cascade (it records a
			// bogon), but a plainly non-IPv4 path segment is a caller bug.
			logger.Warn("rejecting non-IPv4 enrich request", zap.String("ip", ip))
			enrichErrorResponse(w, "invalid_parameter", "ip must be a valid IPv4 address", http.StatusBadRequest)
			return
		}

		rec, err := enricher.EnrichIP(ctx, ip)
		if err != nil {
			logger.Error("enrich failed", zap.String("ip", ip), zap.Error(err))
			switch cascade.KindOf(err) {
			case cascade.KindStorageConflict:
				enrichErrorResponse(w, "storage_conflict", "Inventory write conflicted, retry later", http.StatusConflict)
			default:
				enrichErrorResponse(w, "internal_error", "Enrichment failed", http.StatusInternalServerError)
			}
			return
		}

		result := models.EnrichResult{
			IP:               rec.IP,
			CurrentASN:       rec.CurrentASN(),
			GeoCountry:       rec.GeoCountry(),
			IsBogon:          rec.IsBogon(),
			IsScanner:        rec.IsScanner(),
			ObservationCount: rec.ObservationCount,
			Enrichment:       rec.Enrichment,
		}
		if rec.Enrichment != nil && rec.Enrichment.Meta != nil {
			result.EnrichmentComplete = rec.Enrichment.Meta.Completeness()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.Error("failed to encode enrich response", zap.String("ip", ip), zap.Error(err))
		}
	}
}

func enrichErrorResponse(w http.ResponseWriter, errorCode, message string, statusCode int) {
	response := struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}{
		Error:     errorCode,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
