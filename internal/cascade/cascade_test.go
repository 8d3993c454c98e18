package cascade

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kestrelnet/cascade/internal/cache"
	"github.com/kestrelnet/cascade/internal/enrichment"
	"github.com/kestrelnet/cascade/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeInventory struct {
	ips      map[string]*models.IPRecord
	asns     map[int]*models.ASNRecord
	sessions map[string]*models.SessionSummary

	failUpserts int
	upsertCalls int
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		ips:      map[string]*models.IPRecord{},
		asns:     map[int]*models.ASNRecord{},
		sessions: map[string]*models.SessionSummary{},
	}
}

func (f *fakeInventory) GetIP(_ context.Context, ip string) (*models.IPRecord, error) {
	return f.ips[ip], nil
}

func (f *fakeInventory) UpsertIP(_ context.Context, ip string, e *models.Enrichment) (*models.IPRecord, error) {
	f.upsertCalls++
	if f.failUpserts > 0 {
		f.failUpserts--
		return nil, fmt.Errorf("simulated uniqueness conflict")
	}
	now := time.Now().UTC()
	rec, ok := f.ips[ip]
	if !ok {
		rec = &models.IPRecord{IP: ip, FirstSeen: now, ObservationCount: 0}
		f.ips[ip] = rec
	}
	rec.LastSeen = now
	rec.ObservationCount++
	if e != nil {
		rec.Enrichment = e
		rec.EnrichmentTS = now
	}
	return rec, nil
}

func (f *fakeInventory) EnsureASN(_ context.Context, asn int, org, country string, rir *models.RIRRegistry) (*models.ASNRecord, error) {
	now := time.Now().UTC()
	rec, ok := f.asns[asn]
	if !ok {
		rec = &models.ASNRecord{ASNNumber: asn, OrganizationName: org, CountryCode: country, RIRRegistry: rir, FirstSeen: now, LastSeen: now}
		f.asns[asn] = rec
		return rec, nil
	}
	if rec.OrganizationName == "" {
		rec.OrganizationName = org
	}
	if rec.CountryCode == "" {
		rec.CountryCode = country
	}
	if rec.RIRRegistry == nil {
		rec.RIRRegistry = rir
	}
	rec.LastSeen = now
	return rec, nil
}

func (f *fakeInventory) BumpASNCounters(_ context.Context, asn, ipDelta, sessionDelta int) error {
	if rec, ok := f.asns[asn]; ok {
		rec.UniqueIPCount += ipDelta
		rec.TotalSessionCount += sessionDelta
	}
	return nil
}

func (f *fakeInventory) LatestSession(_ context.Context, ip string) (*models.SessionSummary, error) {
	return f.sessions[ip], nil
}

type fakeGeo struct {
	records map[string]*models.MaxMindRecord
	calls   int
}

func (f *fakeGeo) Lookup(ip string) (*models.MaxMindRecord, error) {
	f.calls++
	return f.records[ip], nil
}

type fakeASN struct {
	records map[string]*models.CymruRecord
	calls   int
}

func (f *fakeASN) LookupBatch(_ context.Context, ips []string) map[string]*models.CymruRecord {
	f.calls++
	out := make(map[string]*models.CymruRecord, len(ips))
	for _, ip := range ips {
		if rec, ok := f.records[ip]; ok {
			out[ip] = rec
		}
	}
	return out
}

type fakeScanner struct {
	outcome *enrichment.ScannerOutcome
	calls   int
}

func (f *fakeScanner) Lookup(_ context.Context, _ string) (*enrichment.ScannerOutcome, error) {
	f.calls++
	return f.outcome, nil
}

func intPtr(n int) *int { return &n }

func TestEnrichPublicIPWithOfflineASN(t *testing.T) {
	inv := newFakeInventory()
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{
		"8.8.8.8": {CountryCode: "US", CountryName: "United States", ASN: intPtr(15169), ASNOrg: "GOOGLE"},
	}}
	asn := &fakeASN{records: map[string]*models.CymruRecord{}}

	o := New(inv, geo, asn, nil, nil, nil, zaptest.NewLogger(t))
	rec, err := o.EnrichIP(context.Background(), "8.8.8.8")
	require.NoError(t, err)

	meta := rec.Enrichment.Meta
	assert.Equal(t, []models.SourceName{models.SourceMaxMind}, meta.SourcesAttempted)
	assert.Equal(t, []models.SourceName{models.SourceMaxMind}, meta.SourcesSucceeded)
	assert.Equal(t, "US", rec.Enrichment.MaxMind.CountryCode)
	require.NotNil(t, rec.CurrentASN())
	assert.Equal(t, 15169, *rec.CurrentASN())
	assert.Equal(t, 0, asn.calls, "cymru must not be consulted when the offline source already supplied an ASN")

	asnRec, ok := inv.asns[15169]
	require.True(t, ok, "asn inventory row must exist for the linked ASN")
	assert.Contains(t, asnRec.OrganizationName, "GOOGLE")
	assert.Equal(t, 1, asnRec.UniqueIPCount)
}

func TestEnrichPrivateAddressShortCircuits(t *testing.T) {
	inv := newFakeInventory()
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{}}
	asn := &fakeASN{records: map[string]*models.CymruRecord{}}

	o := New(inv, geo, asn, nil, nil, nil, zaptest.NewLogger(t))
	rec, err := o.EnrichIP(context.Background(), "192.168.1.100")
	require.NoError(t, err)

	v := rec.Enrichment.Validation
	assert.True(t, v.IsPrivate)
	assert.True(t, v.IsBogon)
	assert.Nil(t, rec.CurrentASN())

	meta := rec.Enrichment.Meta
	assert.Empty(t, meta.SourcesAttempted)
	assert.ElementsMatch(t,
		[]models.SourceName{models.SourceMaxMind, models.SourceCymru, models.SourceGreyNoise},
		meta.SourcesSkipped)
	for _, s := range meta.SourcesSkipped {
		assert.Equal(t, ReasonBogonDetected, meta.SkipReasons[s])
	}
	assert.Equal(t, 0, geo.calls, "no external lookups for a bogon")
	assert.Equal(t, 0, asn.calls)
}

func TestOfflineMissFallsBackToCymru(t *testing.T) {
	inv := newFakeInventory()
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{}}
	asn := &fakeASN{records: map[string]*models.CymruRecord{
		"185.220.101.4": {ASN: intPtr(64512), BGPPrefix: "185.220.101.0/24", CountryCode: "DE", Registry: "ripencc"},
	}}

	o := New(inv, geo, asn, nil, nil, nil, zaptest.NewLogger(t))
	rec, err := o.EnrichIP(context.Background(), "185.220.101.4")
	require.NoError(t, err)

	meta := rec.Enrichment.Meta
	assert.Equal(t, []models.SourceName{models.SourceMaxMind, models.SourceCymru}, meta.SourcesAttempted)
	assert.Equal(t, []models.SourceName{models.SourceCymru}, meta.SourcesSucceeded)
	assert.Equal(t, ReasonMaxMindMiss, meta.FailureReasons[models.SourceMaxMind])
	require.NotNil(t, rec.CurrentASN())
	assert.Equal(t, 64512, *rec.CurrentASN())
	assert.Equal(t, "DE", rec.GeoCountry())

	asnRec, ok := inv.asns[64512]
	require.True(t, ok)
	require.NotNil(t, asnRec.RIRRegistry)
	assert.Equal(t, models.RIRRIPE, *asnRec.RIRRegistry)
}

func TestCymruNXDomainIsRecordedAsFailure(t *testing.T) {
	inv := newFakeInventory()
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{}}
	asn := &fakeASN{records: map[string]*models.CymruRecord{
		"203.0.114.7": {ASN: nil},
	}}

	o := New(inv, geo, asn, nil, nil, nil, zaptest.NewLogger(t))
	rec, err := o.EnrichIP(context.Background(), "203.0.114.7")
	require.NoError(t, err)

	meta := rec.Enrichment.Meta
	assert.Equal(t, ReasonCymruNXDomain, meta.FailureReasons[models.SourceCymru])
	assert.Nil(t, rec.CurrentASN())
	assert.Empty(t, inv.asns, "an unrouted address must not create an asn inventory row")
}

func TestFreshRecordShortCircuitsExternalLookups(t *testing.T) {
	inv := newFakeInventory()
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{
		"1.1.1.1": {CountryCode: "AU", ASN: intPtr(13335), ASNOrg: "CLOUDFLARENET"},
	}}

	o := New(inv, geo, &fakeASN{}, nil, nil, nil, zaptest.NewLogger(t))
	first, err := o.EnrichIP(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	require.Equal(t, 1, geo.calls)
	firstCount := first.ObservationCount
	firstEnrichment := first.Enrichment

	second, err := o.EnrichIP(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, 1, geo.calls, "second call must perform zero external lookups")
	assert.Equal(t, firstCount+1, second.ObservationCount)
	assert.Same(t, firstEnrichment, second.Enrichment, "existing enrichment is preserved")
}

func TestBudgetExhaustedSkipKeepsOtherSources(t *testing.T) {
	inv := newFakeInventory()
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{
		"9.9.9.9": {CountryCode: "US", ASN: intPtr(19281), ASNOrg: "QUAD9-AS-1"},
	}}
	scanner := &fakeScanner{outcome: &enrichment.ScannerOutcome{SkipReason: enrichment.SkipDailyBudgetExhausted}}

	o := New(inv, geo, &fakeASN{}, scanner, nil, nil, zaptest.NewLogger(t))
	rec, err := o.EnrichIP(context.Background(), "9.9.9.9",
		WithSession(&models.SessionSummary{VTFlagged: true}))
	require.NoError(t, err)

	meta := rec.Enrichment.Meta
	assert.Contains(t, meta.SourcesSkipped, models.SourceGreyNoise)
	assert.Equal(t, enrichment.SkipDailyBudgetExhausted, meta.SkipReasons[models.SourceGreyNoise])
	assert.Equal(t, []models.SourceName{models.SourceMaxMind}, meta.SourcesSucceeded)
	require.NotNil(t, rec.CurrentASN())
	assert.Equal(t, 19281, *rec.CurrentASN())
}

func TestScannerAdmittedByActivityFilter(t *testing.T) {
	inv := newFakeInventory()
	inv.sessions["6.7.8.9"] = &models.SessionSummary{CommandCount: 25}
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{
		"6.7.8.9": {CountryCode: "NL", ASN: intPtr(1103)},
	}}
	scanner := &fakeScanner{outcome: &enrichment.ScannerOutcome{
		Record: &models.GreyNoiseRecord{Noise: true, Classification: "malicious", Name: "mass scanner"},
	}}

	o := New(inv, geo, &fakeASN{}, scanner, nil, nil, zaptest.NewLogger(t))
	rec, err := o.EnrichIP(context.Background(), "6.7.8.9")
	require.NoError(t, err)

	assert.Equal(t, 1, scanner.calls)
	require.NotNil(t, rec.Enrichment.GreyNoise)
	assert.True(t, rec.IsScanner())
	assert.Equal(t,
		[]models.SourceName{models.SourceMaxMind, models.SourceGreyNoise},
		rec.Enrichment.Meta.SourcesAttempted)
}

func TestLowActivitySkipsScannerWithoutCalling(t *testing.T) {
	inv := newFakeInventory()
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{
		"6.7.8.9": {CountryCode: "NL", ASN: intPtr(1103)},
	}}
	scanner := &fakeScanner{outcome: &enrichment.ScannerOutcome{Record: &models.GreyNoiseRecord{Noise: true}}}

	o := New(inv, geo, &fakeASN{}, scanner, nil, nil, zaptest.NewLogger(t))
	rec, err := o.EnrichIP(context.Background(), "6.7.8.9")
	require.NoError(t, err)

	assert.Equal(t, 0, scanner.calls)
	assert.Equal(t, enrichment.SkipLowActivityFilter, rec.Enrichment.Meta.SkipReasons[models.SourceGreyNoise])
}

func TestBackfillModeSkipsScanner(t *testing.T) {
	inv := newFakeInventory()
	inv.sessions["6.7.8.9"] = &models.SessionSummary{CommandCount: 100}
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{
		"6.7.8.9": {CountryCode: "NL", ASN: intPtr(1103)},
	}}
	scanner := &fakeScanner{outcome: &enrichment.ScannerOutcome{Record: &models.GreyNoiseRecord{Noise: true}}}

	o := New(inv, geo, &fakeASN{}, scanner, nil, nil, zaptest.NewLogger(t))
	rec, err := o.EnrichIP(context.Background(), "6.7.8.9", WithBackfillMode())
	require.NoError(t, err)

	assert.Equal(t, 0, scanner.calls)
	assert.Equal(t, enrichment.SkipBackfillMode, rec.Enrichment.Meta.SkipReasons[models.SourceGreyNoise])
}

func TestMalformedInputBecomesBogonRecord(t *testing.T) {
	inv := newFakeInventory()
	o := New(inv, &fakeGeo{}, &fakeASN{}, nil, nil, nil, zaptest.NewLogger(t))

	rec, err := o.EnrichIP(context.Background(), "not-an-address")
	require.NoError(t, err)
	assert.True(t, rec.IsBogon())
	assert.Equal(t, ReasonMalformedInput, rec.Enrichment.Meta.FailureReasons[models.SourceValidation])
}

func TestCymruCacheHitRecordsTierAndSkipsTransport(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mgr := cache.NewManager(nil, cache.NewDiskStore(t.TempDir()), true, logger)

	cached := &models.CymruRecord{ASN: intPtr(7018), BGPPrefix: "12.0.0.0/8", CountryCode: "US", Registry: "arin"}
	encoded := `{"asn":7018,"bgp_prefix":"12.0.0.0/8","country_code":"US","registry":"arin"}`
	require.NoError(t, mgr.Set(context.Background(), "cymru:12.0.0.1", encoded, time.Hour))

	inv := newFakeInventory()
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{}}
	asn := &fakeASN{records: map[string]*models.CymruRecord{}}

	o := New(inv, geo, asn, nil, mgr, nil, logger)
	rec, err := o.EnrichIP(context.Background(), "12.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, 0, asn.calls, "cache hit must not reach the transport")
	require.NotNil(t, rec.Enrichment.Cymru)
	assert.Equal(t, *cached.ASN, *rec.Enrichment.Cymru.ASN)
	assert.NotEmpty(t, rec.Enrichment.Meta.CacheHits[models.SourceCymru])
}

func TestUpsertConflictRetriedOnce(t *testing.T) {
	inv := newFakeInventory()
	inv.failUpserts = 1
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{
		"8.8.4.4": {CountryCode: "US", ASN: intPtr(15169)},
	}}

	o := New(inv, geo, &fakeASN{}, nil, nil, nil, zaptest.NewLogger(t))
	rec, err := o.EnrichIP(context.Background(), "8.8.4.4")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestUpsertConflictSurfacedAfterRetry(t *testing.T) {
	inv := newFakeInventory()
	inv.failUpserts = 2
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{
		"8.8.4.4": {CountryCode: "US", ASN: intPtr(15169)},
	}}

	o := New(inv, geo, &fakeASN{}, nil, nil, nil, zaptest.NewLogger(t))
	_, err := o.EnrichIP(context.Background(), "8.8.4.4")
	require.Error(t, err)
	assert.Equal(t, KindStorageConflict, KindOf(err))
}

func TestDisabledASNInventorySkipsASNWrites(t *testing.T) {
	inv := newFakeInventory()
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{
		"8.8.8.8": {CountryCode: "US", ASN: intPtr(15169)},
	}}

	o := New(inv, geo, &fakeASN{}, nil, nil, nil, zaptest.NewLogger(t))
	o.DisableASNInventory()

	rec, err := o.EnrichIP(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	require.NotNil(t, rec.CurrentASN(), "the record still carries its derived ASN")
	assert.Empty(t, inv.asns, "no asn inventory rows when the flag is off")
}

func TestPrefetchedResultsAvoidSourceCalls(t *testing.T) {
	inv := newFakeInventory()
	geo := &fakeGeo{records: map[string]*models.MaxMindRecord{}}
	asn := &fakeASN{records: map[string]*models.CymruRecord{}}

	o := New(inv, geo, asn, nil, nil, nil, zaptest.NewLogger(t))
	rec, err := o.EnrichIP(context.Background(), "77.88.8.8",
		WithGeoResult(&models.MaxMindRecord{CountryCode: "RU", ASN: intPtr(13238), ASNOrg: "YANDEX"}),
		WithBackfillMode())
	require.NoError(t, err)

	assert.Equal(t, 0, geo.calls)
	assert.Equal(t, 0, asn.calls)
	require.NotNil(t, rec.CurrentASN())
	assert.Equal(t, 13238, *rec.CurrentASN())
}
