package workflows

import (
	"context"
	"fmt"
	"time"

	restate "github.com/restatedev/sdk-go"
	"github.com/kestrelnet/cascade/internal/backfill"
	"github.com/kestrelnet/cascade/internal/models"
)

// refreshMaxBatch caps one workflow invocation; larger address lists are
// split by the caller.
const refreshMaxBatch = 10000

// JobTracker is the slice of the store the workflow needs to keep the
// job row honest; internal/db.Store satisfies it.
type JobTracker interface {
	UpdateJobState(ctx context.Context, jobID string, state models.JobState, errorMsg *string) error
}

// RefreshWorkflow runs the three-pass refresh driver as a durable
// workflow, bracketed by job state transitions so progress survives a
// worker restart and stays queryable afterwards.
type RefreshWorkflow struct {
	driver *backfill.Refresh
	jobs   JobTracker
}

func NewRefreshWorkflow(driver *backfill.Refresh, jobs JobTracker) *RefreshWorkflow {
	return &RefreshWorkflow{driver: driver, jobs: jobs}
}

// ServiceName returns the Restate service name
func (w *RefreshWorkflow) ServiceName() string {
	return "RefreshWorkflow"
}

// RefreshRequest names the job row to track and the addresses to refresh.
type RefreshRequest struct {
	JobID string   `json:"job_id"`
	IPs   []string `json:"ips"`
}

// Validate rejects empty and oversized batches.
func (r *RefreshRequest) Validate() error {
	if len(r.IPs) == 0 {
		return fmt.Errorf("no IPs provided")
	}
	if len(r.IPs) > refreshMaxBatch {
		return fmt.Errorf("batch size exceeds maximum of %d (got %d)", refreshMaxBatch, len(r.IPs))
	}
	return nil
}

// RefreshResponse summarizes the run.
type RefreshResponse struct {
	JobID        string          `json:"job_id"`
	State        models.JobState `json:"state"`
	IPsProcessed int             `json:"ips_processed"`
	IPsFailed    int             `json:"ips_failed"`
}

// Run executes the three passes with durable steps around the state
// transitions and the driver itself.
func (w *RefreshWorkflow) Run(ctx restate.Context, req RefreshRequest) (RefreshResponse, error) {
	if err := req.Validate(); err != nil {
		return RefreshResponse{}, err
	}

	_, err := restate.Run[string](ctx, func(ctx restate.RunContext) (string, error) {
		return "", w.updateState(req.JobID, models.JobStateProcessing, nil)
	})
	if err != nil {
		return RefreshResponse{JobID: req.JobID, State: models.JobStateFailed},
			fmt.Errorf("mark job processing: %w", err)
	}

	summary, err := restate.Run[*backfill.RefreshSummary](ctx, func(ctx restate.RunContext) (*backfill.RefreshSummary, error) {
		runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()
		return w.driver.Run(runCtx, req.IPs)
	})
	if err != nil {
		msg := err.Error()
		_, _ = restate.Run[string](ctx, func(ctx restate.RunContext) (string, error) {
			return "", w.updateState(req.JobID, models.JobStateFailed, &msg)
		})
		return RefreshResponse{JobID: req.JobID, State: models.JobStateFailed},
			fmt.Errorf("refresh run: %w", err)
	}

	_, err = restate.Run[string](ctx, func(ctx restate.RunContext) (string, error) {
		return "", w.updateState(req.JobID, models.JobStateCompleted, nil)
	})
	if err != nil {
		// The refresh itself finished; a failed completion write is not
		// worth replaying the whole run for.
		return RefreshResponse{
			JobID:        req.JobID,
			State:        models.JobStateCompleted,
			IPsProcessed: summary.IPsProcessed,
			IPsFailed:    summary.IPsFailed,
		}, nil
	}

	return RefreshResponse{
		JobID:        req.JobID,
		State:        models.JobStateCompleted,
		IPsProcessed: summary.IPsProcessed,
		IPsFailed:    summary.IPsFailed,
	}, nil
}

func (w *RefreshWorkflow) updateState(jobID string, state models.JobState, errorMsg *string) error {
	if w.jobs == nil || jobID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return w.jobs.UpdateJobState(ctx, jobID, state, errorMsg)
}
