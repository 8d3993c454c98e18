package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kestrelnet/cascade/internal/models"
)

// GetJob retrieves a batch-driver job by its ID.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.EnrichmentJob, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var job models.EnrichmentJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job response: %w", err)
	}
	return &job, nil
}

// ListJobsOptions filters and paginates a job listing.
type ListJobsOptions struct {
	Kind      *models.JobKind
	State     *models.JobState
	Limit     int
	Offset    int
	OrderBy   string
	OrderDesc bool
}

// ListJobs retrieves a paginated list of batch-driver jobs.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOptions) (*models.JobListResponse, error) {
	params := url.Values{}
	if opts.Kind != nil {
		params.Set("kind", string(*opts.Kind))
	}
	if opts.State != nil {
		params.Set("state", opts.State.String())
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.OrderBy != "" {
		params.Set("order_by", opts.OrderBy)
	}
	params.Set("order_desc", strconv.FormatBool(opts.OrderDesc))

	path := "/v1/jobs/"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var list models.JobListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse job list response: %w", err)
	}
	return &list, nil
}
