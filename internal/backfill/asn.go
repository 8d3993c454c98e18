// Package backfill holds the two batch drivers that compose the cascade at
// scale: the ASN-inventory backfill, which replays stale inventory rows in
// large batches, and the three-pass refresh for ad-hoc re-enrichment of an
// explicit address list.
package backfill

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kestrelnet/cascade/internal/cascade"
	"github.com/kestrelnet/cascade/internal/models"
	"github.com/kestrelnet/cascade/internal/status"
	"go.uber.org/zap"
)

const (
	asnBackfillLock      = "asn_backfill"
	asnBackfillLockTTL   = 2 * time.Hour
	asnBackfillBatchSize = 1000
	asnBatchPause        = 1 * time.Second

	// bulkTransportThreshold is the batch size at which the TCP bulk
	// transport beats firing individual DNS queries.
	bulkTransportThreshold = 100

	staleAfter   = 90 * 24 * time.Hour
	recentWindow = 30 * 24 * time.Hour
)

// Enricher is the cascade entry point the drivers call per IP.
type Enricher interface {
	EnrichIP(ctx context.Context, ip string, opts ...cascade.EnrichOption) (*models.IPRecord, error)
}

// BulkASN is the TCP bulk whois transport; batch failures surface as an
// error for that batch only.
type BulkASN interface {
	LookupBatch(ctx context.Context, ips []string) (map[string]*models.CymruRecord, error)
}

// DNSASN is the concurrent reverse-DNS transport used for small batches.
type DNSASN interface {
	LookupBatch(ctx context.Context, ips []string) map[string]*models.CymruRecord
}

// BackfillStore is the persistence surface the ASN backfill driver needs:
// candidate selection, the run lock, and job tracking.
type BackfillStore interface {
	SelectIPsNeedingEnrichment(ctx context.Context, staleAfter, recentWindow time.Duration, limit, offset int) ([]string, error)
	AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, holder string) error
	CreateJob(ctx context.Context, kind models.JobKind, ipsTotal int) (*models.EnrichmentJob, error)
	UpdateJobState(ctx context.Context, jobID string, state models.JobState, errorMsg *string) error
	UpdateJobProgress(ctx context.Context, jobID string, processedDelta, failedDelta int, currentPass string) error
}

// ASNBackfill replays stale IP-inventory rows through the cascade to
// (re)populate the ASN inventory. Runs are mutually exclusive via a named
// lock, idempotent, and resumable: interrupted work is simply re-selected
// by the staleness query on the next run.
type ASNBackfill struct {
	store    BackfillStore
	enricher Enricher
	bulk     BulkASN
	dns      DNSASN
	sink     status.Sink
	logger   *zap.Logger

	batchSize int
	pause     time.Duration
	holder    string
}

func NewASNBackfill(store BackfillStore, enricher Enricher, bulk BulkASN, dns DNSASN, sink status.Sink, logger *zap.Logger) *ASNBackfill {
	if sink == nil {
		sink = status.Nop{}
	}
	hostname, _ := os.Hostname()
	return &ASNBackfill{
		store:     store,
		enricher:  enricher,
		bulk:      bulk,
		dns:       dns,
		sink:      sink,
		logger:    logger,
		batchSize: asnBackfillBatchSize,
		pause:     asnBatchPause,
		holder:    fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

// Summary reports one backfill run.
type Summary struct {
	JobID        string `json:"job_id"`
	IPsProcessed int    `json:"ips_processed"`
	IPsFailed    int    `json:"ips_failed"`
	Batches      int    `json:"batches"`
}

// Run drives the backfill until the staleness query returns no more
// candidates or ctx is cancelled. It returns an error if the run lock is
// already held elsewhere.
func (b *ASNBackfill) Run(ctx context.Context) (*Summary, error) {
	acquired, err := b.store.AcquireLock(ctx, asnBackfillLock, b.holder, asnBackfillLockTTL)
	if err != nil {
		return nil, fmt.Errorf("backfill: acquire run lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("backfill: another run holds the %s lock", asnBackfillLock)
	}
	defer func() {
		if err := b.store.ReleaseLock(context.Background(), asnBackfillLock, b.holder); err != nil {
			b.logger.Warn("backfill lock release failed", zap.Error(err))
		}
	}()

	job, err := b.store.CreateJob(ctx, models.JobKindASNBackfill, 0)
	if err != nil {
		return nil, fmt.Errorf("backfill: create job: %w", err)
	}
	if err := b.store.UpdateJobState(ctx, job.ID, models.JobStateProcessing, nil); err != nil {
		return nil, fmt.Errorf("backfill: mark job processing: %w", err)
	}

	summary := &Summary{JobID: job.ID}
	runErr := b.runBatches(ctx, job.ID, summary)

	if runErr != nil {
		msg := runErr.Error()
		_ = b.store.UpdateJobState(context.Background(), job.ID, models.JobStateFailed, &msg)
		return summary, runErr
	}
	if err := b.store.UpdateJobState(ctx, job.ID, models.JobStateCompleted, nil); err != nil {
		b.logger.Warn("backfill job completion update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	return summary, nil
}

func (b *ASNBackfill) runBatches(ctx context.Context, jobID string, summary *Summary) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Offset stays zero: processed rows drop out of the staleness
		// predicate once their enrichment_ts advances.
		ips, err := b.store.SelectIPsNeedingEnrichment(ctx, staleAfter, recentWindow, b.batchSize, 0)
		if err != nil {
			return fmt.Errorf("select batch: %w", err)
		}
		if len(ips) == 0 {
			return nil
		}
		summary.Batches++

		prefetched := b.lookupBatch(ctx, ips)

		failed := 0
		for _, ip := range ips {
			opts := []cascade.EnrichOption{cascade.WithBackfillMode()}
			if rec, ok := prefetched[ip]; ok {
				opts = append(opts, cascade.WithCymruResult(rec))
			}
			if _, err := b.enricher.EnrichIP(ctx, ip, opts...); err != nil {
				failed++
				b.logger.Warn("backfill enrich failed", zap.String("ip", ip), zap.Error(err))
			}
		}

		summary.IPsProcessed += len(ips)
		summary.IPsFailed += failed
		if err := b.store.UpdateJobProgress(ctx, jobID, len(ips), failed, ""); err != nil {
			b.logger.Warn("backfill progress update failed", zap.String("job_id", jobID), zap.Error(err))
		}
		b.sink.Emit(status.Update{
			Phase:        fmt.Sprintf("Backfill batch %d", summary.Batches),
			IPsProcessed: summary.IPsProcessed,
			IPsTotal:     summary.IPsProcessed,
			Errors:       summary.IPsFailed,
			Timestamp:    time.Now().UTC(),
		})

		if len(ips) < b.batchSize {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.pause):
		}
	}
}

// lookupBatch picks the transport by batch size: bulk TCP for large
// batches, concurrent DNS for small ones. A transport failure leaves the
// map empty and the per-IP cascade records the misses.
func (b *ASNBackfill) lookupBatch(ctx context.Context, ips []string) map[string]*models.CymruRecord {
	if len(ips) >= bulkTransportThreshold && b.bulk != nil {
		results, err := b.bulk.LookupBatch(ctx, ips)
		if err != nil {
			b.logger.Warn("bulk transport failed for batch, results partial", zap.Int("batch_size", len(ips)), zap.Error(err))
		}
		return results
	}
	if b.dns != nil {
		return b.dns.LookupBatch(ctx, ips)
	}
	return nil
}
