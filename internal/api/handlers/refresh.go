package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kestrelnet/cascade/internal/db"
	"github.com/kestrelnet/cascade/internal/models"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

const refreshRequestMaxIPs = 10000

// RefreshHandler accepts a batch of addresses, creates a job row, and
// triggers the durable refresh workflow asynchronously; callers poll
// /v1/jobs/{id} for progress.
func RefreshHandler(logger *zap.Logger, dbClient *surrealdb.DB, workflowURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		body, err := io.ReadAll(io.LimitReader(r.Body, 4*1024*1024))
		if err != nil {
			refreshErrorResponse(w, "invalid_request", "Failed to read request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		var req models.RefreshSubmission
		if err := json.Unmarshal(body, &req); err != nil {
			refreshErrorResponse(w, "invalid_json", "Invalid JSON format", http.StatusBadRequest)
			return
		}
		if len(req.IPs) == 0 {
			refreshErrorResponse(w, "invalid_parameter", "ips must not be empty", http.StatusBadRequest)
			return
		}
		if len(req.IPs) > refreshRequestMaxIPs {
			refreshErrorResponse(w, "invalid_parameter",
				fmt.Sprintf("ips exceeds maximum of %d", refreshRequestMaxIPs), http.StatusBadRequest)
			return
		}
		for _, ip := range req.IPs {
			if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
				refreshErrorResponse(w, "invalid_parameter",
					fmt.Sprintf("%q is not a valid IPv4 address", ip), http.StatusBadRequest)
				return
			}
		}

		job, err := db.CreateJob(ctx, dbClient, logger, models.JobKindRefresh, len(req.IPs))
		if err != nil {
			logger.Error("failed to create refresh job", zap.Error(err))
			refreshErrorResponse(w, "internal_error", "Failed to create job", http.StatusInternalServerError)
			return
		}

		logger.Info("refresh accepted",
			zap.String("job_id", job.ID),
			zap.Int("ips_total", len(req.IPs)))

		// Fire-and-forget: the workflow owns progress from here.
		go func() {
			if err := triggerRefreshWorkflow(context.Background(), workflowURL, job.ID, req.IPs, logger); err != nil {
				logger.Error("failed to trigger refresh workflow",
					zap.Error(err),
					zap.String("job_id", job.ID))
			}
		}()

		response := models.RefreshAccepted{
			JobID:     job.ID,
			Status:    "accepted",
			IPsTotal:  len(req.IPs),
			Message:   "Refresh submitted, processing asynchronously",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode refresh response", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// triggerRefreshWorkflow invokes RefreshWorkflow through the workflow
// runtime's HTTP ingress, keyed by job ID so retriggering the same job
// joins the existing run instead of starting a second one.
func triggerRefreshWorkflow(ctx context.Context, workflowURL, jobID string, ips []string, logger *zap.Logger) error {
	url := fmt.Sprintf("%s/RefreshWorkflow/%s/run", workflowURL, jobID)

	payload, err := json.Marshal(map[string]interface{}{
		"job_id": jobID,
		"ips":    ips,
	})
	if err != nil {
		return fmt.Errorf("marshal workflow request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build workflow request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("trigger workflow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("workflow trigger failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	logger.Info("refresh workflow triggered",
		zap.String("job_id", jobID),
		zap.Int("status_code", resp.StatusCode))
	return nil
}

func refreshErrorResponse(w http.ResponseWriter, errorCode, message string, statusCode int) {
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
