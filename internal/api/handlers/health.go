package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

// HealthResponse reports the API's view of its own dependencies.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthHandler answers readiness probes, checking inventory-store
// connectivity against the already-established connection rather than
// dialing a fresh one per probe.
func HealthHandler(logger *zap.Logger, dbClient *surrealdb.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		services := map[string]string{"api": "ok"}

		dbStatus := "ok"
		if dbClient == nil {
			dbStatus = "unavailable"
		} else if _, err := dbClient.Version(ctx); err != nil {
			logger.Debug("inventory store health probe failed", zap.Error(err))
			dbStatus = "unavailable"
		}
		services["database"] = dbStatus

		overall := "healthy"
		if dbStatus != "ok" {
			overall = "degraded"
			logger.Warn("inventory store connectivity issue", zap.String("db_status", dbStatus))
		}

		response := HealthResponse{
			Status:    overall,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Services:  services,
		}

		w.Header().Set("Content-Type", "application/json")
		// 200 even when degraded: the process is alive and can still serve
		// cached reads.
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode health response", zap.Error(err))
		}
	}
}
