package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelnet/cascade/internal/cascade"
	"github.com/kestrelnet/cascade/internal/models"
	"github.com/kestrelnet/cascade/internal/status"
	"go.uber.org/zap"
)

const (
	refreshChunkSize       = 500
	defaultCommitInterval  = 100
)

// GeoSource matches the cascade's offline source dependency; pass 1 calls
// it directly rather than through the cascade so the grouping into
// "ASN known" / "ASN missing" happens before any network transport runs.
type GeoSource interface {
	Lookup(ip string) (*models.MaxMindRecord, error)
}

// FreshnessStore lets the driver skip still-fresh records before any
// lookup work happens, so re-running a refresh back-to-back touches
// timestamps without spending transport or API budget.
type FreshnessStore interface {
	GetIP(ctx context.Context, ip string) (*models.IPRecord, error)
}

// Refresh is the three-pass re-enrichment driver for an explicit list of
// addresses: offline sweep, chunked bulk ASN lookups for the gaps, then a
// merge-and-commit pass per address through the cascade.
type Refresh struct {
	store    FreshnessStore
	geo      GeoSource
	bulk     BulkASN
	enricher Enricher
	sink     status.Sink
	logger   *zap.Logger

	commitInterval int
}

func NewRefresh(store FreshnessStore, geo GeoSource, bulk BulkASN, enricher Enricher, sink status.Sink, commitInterval int, logger *zap.Logger) *Refresh {
	if sink == nil {
		sink = status.Nop{}
	}
	if commitInterval <= 0 {
		commitInterval = defaultCommitInterval
	}
	return &Refresh{
		store:          store,
		geo:            geo,
		bulk:           bulk,
		enricher:       enricher,
		sink:           sink,
		logger:         logger,
		commitInterval: commitInterval,
	}
}

// RefreshSummary reports one refresh run.
type RefreshSummary struct {
	IPsTotal     int `json:"ips_total"`
	IPsProcessed int `json:"ips_processed"`
	IPsFailed    int `json:"ips_failed"`
	CymruBatches int `json:"cymru_batches"`
	CymruErrors  int `json:"cymru_errors"`
}

// Run executes the three passes over ips. Per-batch and per-IP failures are
// logged and counted but never abort the run; only context cancellation
// stops it early.
func (r *Refresh) Run(ctx context.Context, ips []string) (*RefreshSummary, error) {
	summary := &RefreshSummary{IPsTotal: len(ips)}
	if len(ips) == 0 {
		return summary, nil
	}

	// Pass 1: offline lookups, splitting the list by whether an ASN is
	// already known. Addresses whose stored enrichment is still fresh skip
	// all three passes' lookup work; the cascade just touches them.
	geoResults := make(map[string]*models.MaxMindRecord, len(ips))
	fresh := make(map[string]bool)
	var needCymru []string
	for i, ip := range ips {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if r.store != nil {
			existing, err := r.store.GetIP(ctx, ip)
			if err == nil && existing != nil && existing.Enrichment.IsFresh(existing.EnrichmentTS, time.Now()) {
				fresh[ip] = true
				continue
			}
		}
		var rec *models.MaxMindRecord
		if r.geo != nil {
			looked, err := r.geo.Lookup(ip)
			if err != nil {
				r.logger.Debug("refresh pass 1 lookup failed", zap.String("ip", ip), zap.Error(err))
			} else {
				rec = looked
			}
		}
		geoResults[ip] = rec
		if rec == nil || rec.ASN == nil {
			needCymru = append(needCymru, ip)
		}
		if (i+1)%r.commitInterval == 0 || i+1 == len(ips) {
			r.sink.Emit(status.Update{
				Phase:        "Pass 1/3: offline lookups",
				IPsProcessed: i + 1,
				IPsTotal:     len(ips),
				Timestamp:    time.Now().UTC(),
			})
		}
	}

	// Pass 2: chunked bulk ASN lookups for the addresses still missing an
	// ASN. A failed chunk is logged and skipped; its addresses fall through
	// to the cascade's per-IP failure recording in pass 3.
	cymruResults := make(map[string]*models.CymruRecord, len(needCymru))
	totalChunks := (len(needCymru) + refreshChunkSize - 1) / refreshChunkSize
	for chunkIdx := 0; chunkIdx*refreshChunkSize < len(needCymru); chunkIdx++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		start := chunkIdx * refreshChunkSize
		end := start + refreshChunkSize
		if end > len(needCymru) {
			end = len(needCymru)
		}
		chunk := needCymru[start:end]
		summary.CymruBatches++

		if r.bulk != nil {
			results, err := r.bulk.LookupBatch(ctx, chunk)
			if err != nil {
				summary.CymruErrors++
				r.logger.Warn("refresh pass 2 batch failed, continuing",
					zap.Int("batch", chunkIdx+1),
					zap.Int("batches_total", totalChunks),
					zap.Error(err))
			}
			for ip, rec := range results {
				cymruResults[ip] = rec
			}
		}

		r.sink.Emit(status.Update{
			Phase:        fmt.Sprintf("Pass 2/3: Cymru batch %d/%d", chunkIdx+1, totalChunks),
			IPsProcessed: end,
			IPsTotal:     len(needCymru),
			Errors:       summary.CymruErrors,
			Timestamp:    time.Now().UTC(),
		})
	}

	// Pass 3: merge and commit through the cascade, which also applies the
	// scanner-intel activity filter and budget.
	for i, ip := range ips {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		var opts []cascade.EnrichOption
		if !fresh[ip] {
			opts = append(opts, cascade.WithGeoResult(geoResults[ip]))
			if rec, ok := cymruResults[ip]; ok {
				opts = append(opts, cascade.WithCymruResult(rec))
			}
		}
		if _, err := r.enricher.EnrichIP(ctx, ip, opts...); err != nil {
			summary.IPsFailed++
			r.logger.Warn("refresh pass 3 enrich failed", zap.String("ip", ip), zap.Error(err))
		}
		summary.IPsProcessed++

		if (i+1)%r.commitInterval == 0 || i+1 == len(ips) {
			r.sink.Emit(status.Update{
				Phase:        fmt.Sprintf("Pass 3/3: processed %d of %d", i+1, len(ips)),
				IPsProcessed: i + 1,
				IPsTotal:     len(ips),
				Errors:       summary.IPsFailed,
				Timestamp:    time.Now().UTC(),
			})
		}
	}

	return summary, nil
}
