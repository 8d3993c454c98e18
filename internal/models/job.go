package models

import (
	"fmt"
	"time"
)

// JobState represents the state of a backfill or refresh batch job.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// IsValid checks if the job state is one of the allowed values.
func (s JobState) IsValid() bool {
	switch s {
	case JobStatePending, JobStateProcessing, JobStateCompleted, JobStateFailed:
		return true
	default:
		return false
	}
}

func (s JobState) String() string {
	return string(s)
}

// JobKind distinguishes the two batch drivers that report through
// EnrichmentJob: the ASN backfill driver and the three-pass refresh driver.
type JobKind string

const (
	JobKindASNBackfill JobKind = "asn_backfill"
	JobKindRefresh     JobKind = "refresh"
)

// EnrichmentJob tracks one run of a batch driver so its progress is
// queryable after the fact, not just streamed to a status sink.
type EnrichmentJob struct {
	ID              string     `json:"id"`
	Kind            JobKind    `json:"kind"`
	State           JobState   `json:"state"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	IPsTotal        int        `json:"ips_total"`
	IPsProcessed    int        `json:"ips_processed"`
	IPsFailed       int        `json:"ips_failed"`
	CurrentPass     string     `json:"current_pass,omitempty"` // refresh driver's three passes
}

// JobStateTransition defines one edge of the job state machine.
type JobStateTransition struct {
	From JobState
	To   JobState
}

// AllowedTransitions defines the valid state machine transitions for jobs.
// Terminal states (completed/failed) have no outgoing transitions.
var AllowedTransitions = map[JobStateTransition]bool{
	{JobStatePending, JobStateProcessing}: true,
	{JobStatePending, JobStateFailed}:     true,

	{JobStateProcessing, JobStateCompleted}: true,
	{JobStateProcessing, JobStateFailed}:    true,
}

// CanTransition checks if a state transition is allowed.
func (j *EnrichmentJob) CanTransition(newState JobState) bool {
	if !newState.IsValid() {
		return false
	}
	if j.State == newState {
		return true
	}
	transition := JobStateTransition{From: j.State, To: newState}
	return AllowedTransitions[transition]
}

// TransitionTo attempts to transition the job to a new state.
func (j *EnrichmentJob) TransitionTo(newState JobState) error {
	if !j.CanTransition(newState) {
		return fmt.Errorf("invalid state transition from %s to %s", j.State, newState)
	}

	j.State = newState
	j.UpdatedAt = time.Now().UTC()

	if newState == JobStateCompleted || newState == JobStateFailed {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}

	return nil
}

// SetError sets the error message and transitions to failed state.
func (j *EnrichmentJob) SetError(errMsg string) error {
	j.ErrorMessage = &errMsg
	return j.TransitionTo(JobStateFailed)
}

// Progress reports completion as a percentage of IPsTotal, used by the
// status sink and the `cascade backfill`/`cascade refresh` CLI progress bar.
func (j *EnrichmentJob) Progress() float64 {
	if j.IPsTotal == 0 {
		return 0
	}
	return float64(j.IPsProcessed) / float64(j.IPsTotal) * 100
}

// JobListRequest represents the parameters for listing jobs.
type JobListRequest struct {
	Kind      *JobKind
	State     *JobState
	Limit     int
	Offset    int
	OrderBy   string
	OrderDesc bool
}

// Validate validates and normalizes the JobListRequest parameters.
func (r *JobListRequest) Validate() error {
	if r.Limit < 1 {
		r.Limit = 50
	}
	if r.Limit > 500 {
		return fmt.Errorf("limit cannot exceed 500 (got %d)", r.Limit)
	}
	if r.Offset < 0 {
		return fmt.Errorf("offset cannot be negative (got %d)", r.Offset)
	}
	if r.State != nil && !r.State.IsValid() {
		return fmt.Errorf("invalid state: %s", *r.State)
	}
	if r.OrderBy == "" {
		r.OrderBy = "created_at"
	}
	validOrderFields := map[string]bool{"created_at": true, "updated_at": true}
	if !validOrderFields[r.OrderBy] {
		return fmt.Errorf("invalid order_by field: %s (must be 'created_at' or 'updated_at')", r.OrderBy)
	}
	return nil
}

// JobListResponse represents the response for listing jobs.
type JobListResponse struct {
	Jobs       []EnrichmentJob `json:"jobs"`
	Total      int             `json:"total"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
	HasMore    bool            `json:"has_more"`
	NextOffset int             `json:"next_offset"`
}

// EnrichResult is the API response for a synchronous single-IP enrichment:
// the committed record plus the derived projections analysts ask for first.
type EnrichResult struct {
	IP                 string      `json:"ip"`
	CurrentASN         *int        `json:"current_asn"`
	GeoCountry         string      `json:"geo_country"`
	IsBogon            bool        `json:"is_bogon"`
	IsScanner          bool        `json:"is_scanner"`
	ObservationCount   int         `json:"observation_count"`
	Enrichment         *Enrichment `json:"enrichment"`
	EnrichmentComplete float64     `json:"enrichment_completeness"`
}

// RefreshSubmission is the API request body for a batch refresh.
type RefreshSubmission struct {
	IPs []string `json:"ips"`
}

// RefreshAccepted is the API's 202 response for an accepted refresh batch.
type RefreshAccepted struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	IPsTotal  int    `json:"ips_total"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
