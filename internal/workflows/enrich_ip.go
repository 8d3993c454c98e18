// Package workflows exposes the cascade through Restate's durable
// execution runtime: each external side effect runs inside a journaled
// step, so a crashed worker resumes instead of repeating completed work.
package workflows

import (
	"context"
	"fmt"
	"time"

	restate "github.com/restatedev/sdk-go"
	"github.com/kestrelnet/cascade/internal/backfill"
	"github.com/kestrelnet/cascade/internal/models"
)

// EnrichIPWorkflow wraps a single-address cascade run.
type EnrichIPWorkflow struct {
	enricher backfill.Enricher
}

func NewEnrichIPWorkflow(enricher backfill.Enricher) *EnrichIPWorkflow {
	return &EnrichIPWorkflow{enricher: enricher}
}

// ServiceName returns the Restate service name
func (w *EnrichIPWorkflow) ServiceName() string {
	return "EnrichIPWorkflow"
}

// EnrichIPRequest asks for one address to be enriched.
type EnrichIPRequest struct {
	IP string `json:"ip"`
}

// Validate rejects a request the cascade could never satisfy.
func (r *EnrichIPRequest) Validate() error {
	if r.IP == "" {
		return fmt.Errorf("no IP provided")
	}
	if len(r.IP) > 15 {
		return fmt.Errorf("address %q exceeds dotted-quad length", r.IP)
	}
	return nil
}

// EnrichIPResponse carries the committed inventory record back to the
// ingress caller.
type EnrichIPResponse struct {
	IP     string            `json:"ip"`
	Record *models.IPRecord  `json:"record"`
}

// Run executes the cascade for one address inside a durable step.
func (w *EnrichIPWorkflow) Run(ctx restate.Context, req EnrichIPRequest) (EnrichIPResponse, error) {
	if err := req.Validate(); err != nil {
		return EnrichIPResponse{}, err
	}

	record, err := restate.Run[*models.IPRecord](ctx, func(ctx restate.RunContext) (*models.IPRecord, error) {
		// External I/O uses its own bounded context, not the Restate one.
		callCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		return w.enricher.EnrichIP(callCtx, req.IP)
	})
	if err != nil {
		return EnrichIPResponse{IP: req.IP}, fmt.Errorf("enrich %s: %w", req.IP, err)
	}

	return EnrichIPResponse{IP: req.IP, Record: record}, nil
}
