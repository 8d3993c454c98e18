package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kestrelnet/cascade/internal/db"
	"github.com/kestrelnet/cascade/internal/models"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

// GetJobHandler serves GET /v1/jobs/{job_id}: current state and progress
// counters for one batch-driver job.
func GetJobHandler(dbClient *surrealdb.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		jobID := chi.URLParam(r, "job_id")
		if jobID == "" {
			jobErrorResponse(w, "missing_parameter", "job_id is required", http.StatusBadRequest)
			return
		}

		job, err := db.GetJob(ctx, dbClient, logger, jobID)
		if err != nil {
			logger.Error("failed to get job", zap.Error(err), zap.String("job_id", jobID))
			jobErrorResponse(w, "internal_error", "Failed to retrieve job", http.StatusInternalServerError)
			return
		}
		if job == nil {
			jobErrorResponse(w, "not_found", "Job not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(job); err != nil {
			logger.Error("failed to encode job response", zap.Error(err), zap.String("job_id", jobID))
		}
	}
}

// ListJobsHandler serves GET /v1/jobs with optional kind/state filters and
// pagination.
func ListJobsHandler(dbClient *surrealdb.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		req := models.JobListRequest{
			Limit:     50,
			Offset:    0,
			OrderBy:   "created_at",
			OrderDesc: true,
		}

		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			limit, err := strconv.Atoi(limitStr)
			if err != nil {
				jobErrorResponse(w, "invalid_parameter", "limit must be an integer", http.StatusBadRequest)
				return
			}
			req.Limit = limit
		}
		if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
			offset, err := strconv.Atoi(offsetStr)
			if err != nil {
				jobErrorResponse(w, "invalid_parameter", "offset must be an integer", http.StatusBadRequest)
				return
			}
			req.Offset = offset
		}
		if kindStr := r.URL.Query().Get("kind"); kindStr != "" {
			kind := models.JobKind(kindStr)
			req.Kind = &kind
		}
		if stateStr := r.URL.Query().Get("state"); stateStr != "" {
			state := models.JobState(stateStr)
			req.State = &state
		}
		if orderBy := r.URL.Query().Get("order_by"); orderBy != "" {
			req.OrderBy = orderBy
		}
		if orderDesc := r.URL.Query().Get("order_desc"); orderDesc != "" {
			req.OrderDesc = orderDesc != "false"
		}

		if err := req.Validate(); err != nil {
			jobErrorResponse(w, "invalid_parameter", err.Error(), http.StatusBadRequest)
			return
		}

		response, err := db.ListJobs(ctx, dbClient, logger, req)
		if err != nil {
			logger.Error("failed to list jobs", zap.Error(err))
			jobErrorResponse(w, "internal_error", "Failed to list jobs", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode list response", zap.Error(err))
		}
	}
}

func jobErrorResponse(w http.ResponseWriter, errorCode, message string, statusCode int) {
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
