package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kestrelnet/cascade/internal/models"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

// CreateJob creates a new batch-driver job record with a UUIDv7 (time-ordered) ID.
func CreateJob(ctx context.Context, db *surrealdb.DB, logger *zap.Logger, kind models.JobKind, ipsTotal int) (*models.EnrichmentJob, error) {
	jobID, err := uuid.NewV7()
	if err != nil {
		logger.Error("failed to generate UUID v7", zap.Error(err))
		jobID = uuid.New()
	}

	now := time.Now().UTC()
	job := &models.EnrichmentJob{
		ID:        jobID.String(),
		Kind:      kind,
		State:     models.JobStatePending,
		IPsTotal:  ipsTotal,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `CREATE job CONTENT {
		id: $id,
		kind: $kind,
		state: $state,
		ips_total: $ips_total,
		ips_processed: 0,
		ips_failed: 0,
		created_at: $created_at,
		updated_at: $updated_at,
		completed_at: NONE,
		error_msg: NONE
	}`

	result, err := surrealdb.Query[map[string]interface{}](ctx, db, query, map[string]interface{}{
		"id":         job.ID,
		"kind":       string(job.Kind),
		"state":      job.State.String(),
		"ips_total":  job.IPsTotal,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	})
	if err != nil {
		logger.Error("failed to create job", zap.Error(err), zap.String("job_id", job.ID))
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if result != nil && len(*result) > 0 && (*result)[0].Error != nil {
		logger.Error("query returned error", zap.Error((*result)[0].Error), zap.String("job_id", job.ID))
		return nil, fmt.Errorf("query error: %w", (*result)[0].Error)
	}

	logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("state", job.State.String()))

	return job, nil
}

// GetJob retrieves a job by its ID. Returns nil if the job is not found.
func GetJob(ctx context.Context, db *surrealdb.DB, logger *zap.Logger, jobID string) (*models.EnrichmentJob, error) {
	query := `SELECT * FROM job WHERE id = $id LIMIT 1`

	result, err := surrealdb.Query[map[string]interface{}](ctx, db, query, map[string]interface{}{
		"id": jobID,
	})
	if err != nil {
		logger.Error("failed to query job", zap.Error(err), zap.String("job_id", jobID))
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	if result == nil || len(*result) == 0 {
		return nil, nil
	}

	queryResult := (*result)[0]
	if queryResult.Error != nil {
		logger.Error("query returned error", zap.Error(queryResult.Error), zap.String("job_id", jobID))
		return nil, fmt.Errorf("query error: %w", queryResult.Error)
	}
	if queryResult.Result == nil {
		return nil, nil
	}

	job, err := parseJobResult(queryResult.Result)
	if err != nil {
		logger.Error("failed to parse job result", zap.Error(err), zap.String("job_id", jobID))
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	return job, nil
}

// UpdateJobState reads the job, checks the transition against the state
// machine defined in models.EnrichmentJob, then writes the new state. The
// read and the write are separate queries, not one atomic operation.
func UpdateJobState(ctx context.Context, db *surrealdb.DB, logger *zap.Logger, jobID string, newState models.JobState, errorMsg *string) error {
	job, err := GetJob(ctx, db, logger, jobID)
	if err != nil {
		return fmt.Errorf("failed to get job for state update: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if !job.CanTransition(newState) {
		logger.Warn("invalid state transition attempted",
			zap.String("job_id", jobID),
			zap.String("current_state", job.State.String()),
			zap.String("new_state", newState.String()))
		return fmt.Errorf("invalid state transition from %s to %s", job.State, newState)
	}

	now := time.Now().UTC()
	query := `UPDATE job SET state = $state, updated_at = $updated_at`
	params := map[string]interface{}{
		"state":      newState.String(),
		"updated_at": now,
	}

	if newState == models.JobStateCompleted || newState == models.JobStateFailed {
		query += `, completed_at = $completed_at`
		params["completed_at"] = now
	}
	if errorMsg != nil {
		query += `, error_msg = $error_msg`
		params["error_msg"] = *errorMsg
	}

	query += ` WHERE id = $id`
	params["id"] = jobID

	result, err := surrealdb.Query[map[string]interface{}](ctx, db, query, params)
	if err != nil {
		logger.Error("failed to update job state", zap.Error(err), zap.String("job_id", jobID))
		return fmt.Errorf("failed to update job state: %w", err)
	}
	if result != nil && len(*result) > 0 && (*result)[0].Error != nil {
		logger.Error("query returned error", zap.Error((*result)[0].Error), zap.String("job_id", jobID))
		return fmt.Errorf("query error: %w", (*result)[0].Error)
	}

	logger.Info("job state updated",
		zap.String("job_id", jobID),
		zap.String("old_state", job.State.String()),
		zap.String("new_state", newState.String()))

	return nil
}

// UpdateJobProgress advances the processed/failed IP counters for a running
// batch job; used by the backfill and refresh drivers after each batch.
func UpdateJobProgress(ctx context.Context, db *surrealdb.DB, logger *zap.Logger, jobID string, processedDelta, failedDelta int, currentPass string) error {
	query := `UPDATE job SET
		ips_processed += $processed_delta,
		ips_failed += $failed_delta,
		current_pass = $current_pass,
		updated_at = $updated_at
		WHERE id = $id`

	_, err := surrealdb.Query[map[string]interface{}](ctx, db, query, map[string]interface{}{
		"id":              jobID,
		"processed_delta": processedDelta,
		"failed_delta":    failedDelta,
		"current_pass":    currentPass,
		"updated_at":      time.Now().UTC(),
	})
	if err != nil {
		logger.Error("failed to update job progress", zap.Error(err), zap.String("job_id", jobID))
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// ListJobs retrieves a paginated list of jobs based on filters.
func ListJobs(ctx context.Context, db *surrealdb.DB, logger *zap.Logger, req models.JobListRequest) (*models.JobListResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid list request: %w", err)
	}

	query := `SELECT * FROM job`
	params := make(map[string]interface{})

	var whereClauses []string
	if req.Kind != nil {
		whereClauses = append(whereClauses, "kind = $kind")
		params["kind"] = string(*req.Kind)
	}
	if req.State != nil {
		whereClauses = append(whereClauses, "state = $state")
		params["state"] = req.State.String()
	}
	if len(whereClauses) > 0 {
		query += ` WHERE `
		for i, clause := range whereClauses {
			if i > 0 {
				query += ` AND `
			}
			query += clause
		}
	}

	orderDir := "DESC"
	if !req.OrderDesc {
		orderDir = "ASC"
	}
	query += fmt.Sprintf(` ORDER BY %s %s`, req.OrderBy, orderDir)
	query += ` LIMIT $limit START $offset`
	params["limit"] = req.Limit
	params["offset"] = req.Offset

	results, err := surrealdb.Query[[]map[string]interface{}](ctx, db, query, params)
	if err != nil {
		logger.Error("failed to list jobs", zap.Error(err))
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]models.EnrichmentJob, 0)
	if results != nil && len(*results) > 0 {
		queryResult := (*results)[0]
		if queryResult.Error != nil {
			logger.Error("query returned error", zap.Error(queryResult.Error))
			return nil, fmt.Errorf("query error: %w", queryResult.Error)
		}
		if queryResult.Result != nil {
			for _, jobData := range queryResult.Result {
				job, err := parseJobResult(jobData)
				if err != nil {
					logger.Warn("failed to parse job in list", zap.Error(err))
					continue
				}
				jobs = append(jobs, *job)
			}
		}
	}

	total := len(jobs)
	response := &models.JobListResponse{
		Jobs:       jobs,
		Total:      total,
		Limit:      req.Limit,
		Offset:     req.Offset,
		HasMore:    len(jobs) == req.Limit,
		NextOffset: req.Offset + len(jobs),
	}

	return response, nil
}

// parseJobResult parses a SurrealDB row into an EnrichmentJob struct.
func parseJobResult(data map[string]interface{}) (*models.EnrichmentJob, error) {
	job := &models.EnrichmentJob{}

	id, ok := data["id"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid id field")
	}
	job.ID = id

	if kind, ok := data["kind"].(string); ok {
		job.Kind = models.JobKind(kind)
	}

	state, ok := data["state"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid state field")
	}
	job.State = models.JobState(state)

	if createdAt, err := parseTimeField(data, "created_at"); err == nil {
		job.CreatedAt = createdAt
	}
	if updatedAt, err := parseTimeField(data, "updated_at"); err == nil {
		job.UpdatedAt = updatedAt
	}
	if completedAt, err := parseTimeField(data, "completed_at"); err == nil {
		job.CompletedAt = &completedAt
	}

	if errorMsg, ok := data["error_msg"].(string); ok && errorMsg != "" {
		job.ErrorMessage = &errorMsg
	}
	if ipsTotal, ok := getIntField(data, "ips_total"); ok {
		job.IPsTotal = ipsTotal
	}
	if ipsProcessed, ok := getIntField(data, "ips_processed"); ok {
		job.IPsProcessed = ipsProcessed
	}
	if ipsFailed, ok := getIntField(data, "ips_failed"); ok {
		job.IPsFailed = ipsFailed
	}
	if currentPass, ok := data["current_pass"].(string); ok {
		job.CurrentPass = currentPass
	}

	return job, nil
}
