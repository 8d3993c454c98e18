package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kestrelnet/cascade/internal/models"
)

// Enrich runs the cascade synchronously for one address and returns the
// committed record with its derived projections.
func (c *Client) Enrich(ctx context.Context, ip string) (*models.EnrichResult, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/enrich/"+ip, nil)
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

	var result models.EnrichResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse enrich response: %w", err)
	}
	return &result, nil
}

// Refresh submits a batch of addresses for asynchronous re-enrichment and
// returns the job handle to poll.
func (c *Client) Refresh(ctx context.Context, ips []string) (*models.RefreshAccepted, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/refresh/", models.RefreshSubmission{IPs: ips})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, handleErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var accepted models.RefreshAccepted
	if err := json.Unmarshal(body, &accepted); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	return &accepted, nil
}
