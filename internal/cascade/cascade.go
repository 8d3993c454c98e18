// Package cascade orchestrates the multi-source IP enrichment pipeline:
// bogon short-circuit, offline geo/ASN lookup, bulk ASN fallback, and the
// activity-gated scanner-intel call, merged into one inventory record with
// full metadata about what was attempted, skipped, and why.
package cascade

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kestrelnet/cascade/internal/bogon"
	"github.com/kestrelnet/cascade/internal/cache"
	"github.com/kestrelnet/cascade/internal/enrichment"
	"github.com/kestrelnet/cascade/internal/models"
	"github.com/kestrelnet/cascade/internal/telemetry"
	"go.uber.org/zap"
)

const (
	cymruCacheTTL = 90 * 24 * time.Hour

	// Reason tags recorded in metadata. These are part of the stored
	// record shape; renaming them invalidates freshness comparisons made
	// by downstream analytics.
	ReasonBogonDetected  = "bogon_detected"
	ReasonMaxMindMiss    = "ip_not_found_or_db_unavailable"
	ReasonCymruNXDomain  = "nxdomain_or_timeout"
	ReasonMalformedInput = "malformed_input"
)

// GeoSource is the offline geo/ASN database. A nil source (databases failed
// validation at startup) degrades every lookup to a miss.
type GeoSource interface {
	Lookup(ip string) (*models.MaxMindRecord, error)
}

// ASNSource is the real-time bulk ASN transport used for single addresses;
// the batch drivers talk to the TCP transport directly. An address that is
// absent from the returned map (or mapped to nil) failed in the transport.
type ASNSource interface {
	LookupBatch(ctx context.Context, ips []string) map[string]*models.CymruRecord
}

// ScannerSource resolves scanner-intel classification, applying its own
// cache, budget, and rate limiting.
type ScannerSource interface {
	Lookup(ctx context.Context, ip string) (*enrichment.ScannerOutcome, error)
}

// Inventory is the persistence surface the orchestrator commits through.
// internal/db.Store is the production implementation.
type Inventory interface {
	GetIP(ctx context.Context, ip string) (*models.IPRecord, error)
	UpsertIP(ctx context.Context, ip string, enrichment *models.Enrichment) (*models.IPRecord, error)
	EnsureASN(ctx context.Context, asn int, org, country string, rir *models.RIRRegistry) (*models.ASNRecord, error)
	BumpASNCounters(ctx context.Context, asn, ipDelta, sessionDelta int) error
	LatestSession(ctx context.Context, ip string) (*models.SessionSummary, error)
}

// Orchestrator owns the source adapters and shared limiters for the life of
// the process; EnrichIP is safe for concurrent use, with per-address source
// calls strictly ordered within one invocation.
type Orchestrator struct {
	inv     Inventory
	geo     GeoSource
	asn     ASNSource
	scanner ScannerSource
	cache   *cache.Manager
	hooks   telemetry.Hooks
	logger  *zap.Logger
	now     func() time.Time

	asnInventory bool
}

func New(inv Inventory, geo GeoSource, asn ASNSource, scanner ScannerSource, mgr *cache.Manager, hooks telemetry.Hooks, logger *zap.Logger) *Orchestrator {
	if hooks == nil {
		hooks = telemetry.Noop{}
	}
	return &Orchestrator{
		inv:          inv,
		geo:          geo,
		asn:          asn,
		scanner:      scanner,
		cache:        mgr,
		hooks:        hooks,
		logger:       logger,
		now:          time.Now,
		asnInventory: true,
	}
}

// DisableASNInventory turns off ASN-inventory maintenance for sensors that
// opt out; IP records still carry their derived ASN.
func (o *Orchestrator) DisableASNInventory() {
	o.asnInventory = false
}

type enrichOptions struct {
	session       *models.SessionSummary
	backfillMode  bool
	geoResult     *models.MaxMindRecord
	geoResultSet  bool
	cymruResult   *models.CymruRecord
	cymruResultSet bool
}

// EnrichOption tunes one EnrichIP invocation.
type EnrichOption func(*enrichOptions)

// WithSession supplies session context for the scanner-intel activity
// filter, skipping the inventory lookup the orchestrator would otherwise
// perform.
func WithSession(s *models.SessionSummary) EnrichOption {
	return func(o *enrichOptions) { o.session = s }
}

// WithBackfillMode skips the scanner-intel source entirely, the policy for
// bulk replays where per-IP API spend is not justified.
func WithBackfillMode() EnrichOption {
	return func(o *enrichOptions) { o.backfillMode = true }
}

// WithGeoResult feeds a pre-fetched offline lookup (nil meaning a miss), so
// the refresh driver's pass 3 reuses pass 1's work.
func WithGeoResult(rec *models.MaxMindRecord) EnrichOption {
	return func(o *enrichOptions) {
		o.geoResult = rec
		o.geoResultSet = true
	}
}

// WithCymruResult feeds a pre-fetched bulk ASN lookup (nil meaning the
// batch failed for this address), from the refresh driver's pass 2 or the
// backfill driver's batched TCP lookups.
func WithCymruResult(rec *models.CymruRecord) EnrichOption {
	return func(o *enrichOptions) {
		o.cymruResult = rec
		o.cymruResultSet = true
	}
}

// EnrichIP runs the full cascade for one address and returns the committed
// inventory record. Individual source failures never abort the run; the
// returned record's metadata describes exactly what happened. The only
// fatal outcome is an inventory commit that still fails after one retry.
func (o *Orchestrator) EnrichIP(ctx context.Context, ip string, opts ...EnrichOption) (*models.IPRecord, error) {
	ctx, end := o.hooks.StartSpan(ctx, "cascade.enrich_ip")
	defer end()
	start := o.now()

	var options enrichOptions
	for _, opt := range opts {
		opt(&options)
	}

	existing, err := o.inv.GetIP(ctx, ip)
	if err != nil {
		return nil, storageError(err)
	}
	if existing != nil && existing.Enrichment.IsFresh(existing.EnrichmentTS, o.now()) {
		o.hooks.AddCounter(ctx, "cascade.fresh_short_circuit", 1, nil)
		rec, err := o.inv.UpsertIP(ctx, ip, nil)
		if err != nil {
			return nil, storageError(err)
		}
		return rec, nil
	}

	meta := models.NewMeta(o.now())
	enr := &models.Enrichment{Meta: meta}

	verdict := bogon.Classify(ip)
	enr.Validation = &models.Validation{
		IsPrivate:   verdict.IsPrivate,
		IsReserved:  verdict.IsReserved,
		IsLoopback:  verdict.IsLoopback,
		IsMulticast: verdict.IsMulticast,
		IsBogon:     verdict.IsBogon,
	}

	if verdict.IsBogon {
		if verdict.Reason == "malformed-address" || verdict.Reason == "not-ipv4" {
			meta.FailureReasons[models.SourceValidation] = ReasonMalformedInput
		}
		for _, s := range []models.SourceName{models.SourceMaxMind, models.SourceCymru, models.SourceGreyNoise} {
			meta.Skip(s, ReasonBogonDetected)
		}
		o.hooks.AddCounter(ctx, "cascade.bogon_detected", 1, nil)
		return o.finalize(ctx, ip, enr, existing, start)
	}

	o.runMaxMind(ctx, ip, enr, options)

	if enr.MaxMind == nil || enr.MaxMind.ASN == nil {
		o.runCymru(ctx, ip, enr, options)
	}

	o.runScanner(ctx, ip, enr, options)

	return o.finalize(ctx, ip, enr, existing, start)
}

func (o *Orchestrator) runMaxMind(ctx context.Context, ip string, enr *models.Enrichment, options enrichOptions) {
	ctx, end := o.hooks.StartSpan(ctx, "cascade.lookup_maxmind")
	defer end()
	meta := enr.Meta
	meta.Attempt(models.SourceMaxMind)

	var rec *models.MaxMindRecord
	if options.geoResultSet {
		rec = options.geoResult
	} else if o.geo != nil {
		looked, err := o.geo.Lookup(ip)
		if err != nil {
			o.logger.Debug("maxmind lookup failed", zap.String("ip", ip), zap.Error(err))
		} else {
			rec = looked
		}
	}

	if rec == nil || (rec.CountryCode == "" && rec.ASN == nil) {
		meta.Fail(models.SourceMaxMind, ReasonMaxMindMiss)
		o.hooks.AddCounter(ctx, "cascade.source_failure", 1, map[string]string{"source": "maxmind"})
		return
	}

	enr.MaxMind = rec
	meta.Succeed(models.SourceMaxMind)
	meta.CacheHits[models.SourceMaxMind] = "db_query"
	o.hooks.AddCounter(ctx, "cascade.source_success", 1, map[string]string{"source": "maxmind"})
}

func (o *Orchestrator) runCymru(ctx context.Context, ip string, enr *models.Enrichment, options enrichOptions) {
	ctx, end := o.hooks.StartSpan(ctx, "cascade.lookup_cymru")
	defer end()
	meta := enr.Meta
	meta.Attempt(models.SourceCymru)

	var rec *models.CymruRecord
	found := false

	if options.cymruResultSet {
		rec, found = options.cymruResult, options.cymruResult != nil
	} else {
		cacheKey := "cymru:" + ip
		if o.cache != nil {
			if raw, tier, err := o.cache.Get(ctx, cacheKey, cymruCacheTTL); err == nil && tier != cache.TierMiss {
				var cached models.CymruRecord
				if err := json.Unmarshal([]byte(raw), &cached); err == nil {
					rec, found = &cached, true
					meta.CacheHits[models.SourceCymru] = string(tier)
					o.hooks.AddCounter(ctx, "cascade.cache_hit", 1, map[string]string{"source": "cymru", "tier": string(tier)})
				}
			}
		}

		if !found && o.asn != nil {
			results := o.asn.LookupBatch(ctx, []string{ip})
			if r, ok := results[ip]; ok && r != nil {
				rec, found = r, true
				// A null-ASN record means "not globally routed" and is a
				// cacheable answer; transport failures are not cached.
				if o.cache != nil {
					if encoded, err := json.Marshal(r); err == nil {
						if err := o.cache.Set(ctx, cacheKey, string(encoded), cymruCacheTTL); err != nil {
							o.logger.Warn("cymru cache write failed", zap.String("ip", ip), zap.Error(err))
						}
					}
				}
			}
		}
	}

	if !found || rec.ASN == nil {
		meta.Fail(models.SourceCymru, ReasonCymruNXDomain)
		o.hooks.AddCounter(ctx, "cascade.source_failure", 1, map[string]string{"source": "cymru"})
		return
	}

	enr.Cymru = rec
	meta.Succeed(models.SourceCymru)
	o.hooks.AddCounter(ctx, "cascade.source_success", 1, map[string]string{"source": "cymru"})
}

func (o *Orchestrator) runScanner(ctx context.Context, ip string, enr *models.Enrichment, options enrichOptions) {
	ctx, end := o.hooks.StartSpan(ctx, "cascade.lookup_greynoise")
	defer end()
	meta := enr.Meta

	if options.backfillMode {
		meta.Skip(models.SourceGreyNoise, enrichment.SkipBackfillMode)
		return
	}

	session := options.session
	if session == nil {
		latest, err := o.inv.LatestSession(ctx, ip)
		if err != nil {
			o.logger.Debug("latest session lookup failed", zap.String("ip", ip), zap.Error(err))
		} else {
			session = latest
		}
	}
	if !session.AdmitsScannerIntel() {
		meta.Skip(models.SourceGreyNoise, enrichment.SkipLowActivityFilter)
		return
	}

	if o.scanner == nil {
		meta.Skip(models.SourceGreyNoise, enrichment.SkipNoAPIKey)
		return
	}

	outcome, err := o.scanner.Lookup(ctx, ip)
	if err != nil {
		meta.Attempt(models.SourceGreyNoise)
		meta.Fail(models.SourceGreyNoise, enrichment.FailureNetworkError)
		o.hooks.AddCounter(ctx, "cascade.source_failure", 1, map[string]string{"source": "greynoise"})
		o.logger.Warn("scanner lookup errored", zap.String("ip", ip), zap.Error(err))
		return
	}

	switch {
	case outcome.SkipReason != "":
		meta.Skip(models.SourceGreyNoise, outcome.SkipReason)
	case outcome.FailureReason != "":
		meta.Attempt(models.SourceGreyNoise)
		meta.Fail(models.SourceGreyNoise, outcome.FailureReason)
		o.hooks.AddCounter(ctx, "cascade.source_failure", 1, map[string]string{"source": "greynoise"})
	default:
		meta.Attempt(models.SourceGreyNoise)
		enr.GreyNoise = outcome.Record
		meta.Succeed(models.SourceGreyNoise)
		if outcome.CacheHit {
			meta.CacheHits[models.SourceGreyNoise] = string(outcome.CacheTier)
			o.hooks.AddCounter(ctx, "cascade.cache_hit", 1, map[string]string{"source": "greynoise", "tier": string(outcome.CacheTier)})
		}
		o.hooks.AddCounter(ctx, "cascade.source_success", 1, map[string]string{"source": "greynoise"})
	}
}

// finalize stamps the duration, links the ASN inventory, and commits the IP
// record, retrying the commit once on a conflict before surfacing it.
func (o *Orchestrator) finalize(ctx context.Context, ip string, enr *models.Enrichment, existing *models.IPRecord, start time.Time) (*models.IPRecord, error) {
	enr.Meta.TotalDurationMS = o.now().Sub(start).Milliseconds()
	o.hooks.ObserveDuration(ctx, "cascade.enrich_duration", o.now().Sub(start), nil)

	if asn := enr.CurrentASN(); asn != nil && o.asnInventory {
		asnCtx, endASN := o.hooks.StartSpan(ctx, "cascade.ensure_asn_inventory")
		org, country := "", ""
		if enr.MaxMind != nil {
			org = enr.MaxMind.ASNOrg
		}
		if c := enr.GeoCountry(); c != "XX" {
			country = c
		}
		var rir *models.RIRRegistry
		if enr.Cymru != nil {
			rir = registryToRIR(enr.Cymru.Registry)
		}

		asnRec, err := o.inv.EnsureASN(asnCtx, *asn, org, country, rir)
		if err != nil {
			endASN()
			return nil, storageError(err)
		}

		newLink := existing == nil || existing.CurrentASN() == nil || *existing.CurrentASN() != *asn
		if newLink {
			if err := o.inv.BumpASNCounters(asnCtx, *asn, 1, 0); err != nil {
				o.logger.Warn("asn counter bump failed", zap.Int("asn", *asn), zap.Error(err))
			}
			if asnRec == nil || asnRec.FirstSeen.Equal(asnRec.LastSeen) {
				o.hooks.AddCounter(asnCtx, "cascade.asn_created", 1, nil)
			} else {
				o.hooks.AddCounter(asnCtx, "cascade.asn_updated", 1, nil)
			}
		}
		endASN()
	}

	rec, err := o.inv.UpsertIP(ctx, ip, enr)
	if err != nil {
		o.logger.Warn("inventory upsert conflict, retrying once", zap.String("ip", ip), zap.Error(err))
		rec, err = o.inv.UpsertIP(ctx, ip, enr)
		if err != nil {
			return nil, storageConflict(err)
		}
	}
	return rec, nil
}

// registryToRIR maps the bulk ASN source's lowercase registry tags onto the
// five RIRs; unknown tags map to nil rather than polluting the inventory.
func registryToRIR(registry string) *models.RIRRegistry {
	var r models.RIRRegistry
	switch registry {
	case "arin":
		r = models.RIRARIN
	case "ripencc", "ripe":
		r = models.RIRRIPE
	case "apnic":
		r = models.RIRAPNIC
	case "lacnic":
		r = models.RIRLACNIC
	case "afrinic":
		r = models.RIRAFRINIC
	default:
		return nil
	}
	return &r
}
