package models

import "time"

// SourceName identifies one of the three cascade sources.
type SourceName string

const (
	SourceMaxMind   SourceName = "maxmind"
	SourceCymru     SourceName = "cymru"
	SourceGreyNoise SourceName = "greynoise"

	// SourceValidation is the local bogon check; it appears only in
	// failure_reasons (malformed input) and never in the attempted list.
	SourceValidation SourceName = "validation"
)

// EnrichmentVersion is bumped whenever the shape of Enrichment changes in a
// way that would make an older stored record stale.
const EnrichmentVersion = 1

// Validation holds the bogon classifier's verdict for an address.
type Validation struct {
	IsPrivate   bool `json:"is_private"`
	IsReserved  bool `json:"is_reserved"`
	IsLoopback  bool `json:"is_loopback"`
	IsMulticast bool `json:"is_multicast"`
	IsBogon     bool `json:"is_bogon"`
}

// MaxMindRecord is the offline geo/ASN source's payload. Every field may be
// absent (zero value) when the underlying database did not populate it.
type MaxMindRecord struct {
	CountryCode string  `json:"country_code,omitempty"`
	CountryName string  `json:"country_name,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	ASN         *int    `json:"asn,omitempty"`
	ASNOrg      string  `json:"asn_org,omitempty"`
}

// CymruRecord is the Team Cymru-style bulk ASN source's payload. A record
// with ASN == nil means the address resolved but is not globally routed
// (NXDOMAIN / "NA" sentinel), which is distinct from a lookup failure.
type CymruRecord struct {
	ASN           *int   `json:"asn"`
	BGPPrefix     string `json:"bgp_prefix,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
	Registry      string `json:"registry,omitempty"`
	AllocatedDate string `json:"allocated_date,omitempty"`
}

// GreyNoiseRecord is the scanner-intel source's payload, passed through
// close to verbatim from the vendor response.
type GreyNoiseRecord struct {
	Noise          bool   `json:"noise"`
	Classification string `json:"classification,omitempty"`
	Name           string `json:"name,omitempty"`
	Raw            map[string]interface{} `json:"raw,omitempty"`
}

// Meta describes exactly what the cascade attempted for one enrichment pass.
type Meta struct {
	EnrichmentVersion   int               `json:"enrichment_version"`
	EnrichmentTimestamp time.Time         `json:"enrichment_timestamp"`
	SourcesAttempted    []SourceName      `json:"sources_attempted"`
	SourcesSucceeded    []SourceName      `json:"sources_succeeded"`
	SourcesFailed       []SourceName      `json:"sources_failed"`
	SourcesSkipped      []SourceName      `json:"sources_skipped"`
	SkipReasons         map[SourceName]string `json:"skip_reasons,omitempty"`
	FailureReasons      map[SourceName]string `json:"failure_reasons,omitempty"`
	CacheHits           map[SourceName]string `json:"cache_hits,omitempty"`
	TotalDurationMS     int64             `json:"total_duration_ms"`
}

// NewMeta returns a Meta with every collection initialized, never nil, so
// JSON serialization always emits `[]`/`{}` instead of `null`.
func NewMeta(now time.Time) *Meta {
	return &Meta{
		EnrichmentVersion:   EnrichmentVersion,
		EnrichmentTimestamp: now,
		SourcesAttempted:    []SourceName{},
		SourcesSucceeded:    []SourceName{},
		SourcesFailed:       []SourceName{},
		SourcesSkipped:      []SourceName{},
		SkipReasons:         map[SourceName]string{},
		FailureReasons:      map[SourceName]string{},
		CacheHits:           map[SourceName]string{},
	}
}

func (m *Meta) Attempt(s SourceName) {
	m.SourcesAttempted = append(m.SourcesAttempted, s)
}

func (m *Meta) Succeed(s SourceName) {
	m.SourcesSucceeded = append(m.SourcesSucceeded, s)
}

func (m *Meta) Fail(s SourceName, reason string) {
	m.SourcesFailed = append(m.SourcesFailed, s)
	m.FailureReasons[s] = reason
}

func (m *Meta) Skip(s SourceName, reason string) {
	m.SourcesSkipped = append(m.SourcesSkipped, s)
	m.SkipReasons[s] = reason
}

// Completeness is succeeded / (attempted - skipped) as a percentage,
// clamped to [0, 100]. Skipped sources were never attempted in the
// externally-visible sense, so they do not count against completeness.
func (m *Meta) Completeness() float64 {
	denom := len(m.SourcesAttempted) - len(m.SourcesSkipped)
	if denom <= 0 {
		return 100
	}
	pct := float64(len(m.SourcesSucceeded)) / float64(denom) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Enrichment is the closed sum of per-source payloads plus required Meta.
// This is the typed, in-memory shape; it is marshaled to JSON only at the
// storage boundary (internal/db).
type Enrichment struct {
	Validation *Validation      `json:"validation,omitempty"`
	MaxMind    *MaxMindRecord   `json:"maxmind,omitempty"`
	Cymru      *CymruRecord     `json:"cymru,omitempty"`
	GreyNoise  *GreyNoiseRecord `json:"greynoise,omitempty"`
	Meta       *Meta            `json:"_meta"`
}

// CurrentASN implements the merge policy: maxmind.asn wins over cymru.asn.
func (e *Enrichment) CurrentASN() *int {
	if e == nil {
		return nil
	}
	if e.MaxMind != nil && e.MaxMind.ASN != nil {
		return e.MaxMind.ASN
	}
	if e.Cymru != nil && e.Cymru.ASN != nil {
		return e.Cymru.ASN
	}
	return nil
}

// GeoCountry implements the merge policy: maxmind country, else cymru
// country, else the conventional "unknown country" code.
func (e *Enrichment) GeoCountry() string {
	if e == nil {
		return "XX"
	}
	if e.MaxMind != nil && e.MaxMind.CountryCode != "" {
		return e.MaxMind.CountryCode
	}
	if e.Cymru != nil && e.Cymru.CountryCode != "" {
		return e.Cymru.CountryCode
	}
	return "XX"
}

// IsBogon reports whether the validation step classified the address as
// unroutable.
func (e *Enrichment) IsBogon() bool {
	return e != nil && e.Validation != nil && e.Validation.IsBogon
}

// IsScanner reports whether the scanner-intel source classified the address
// as noise (i.e. known to scan the Internet at scale).
func (e *Enrichment) IsScanner() bool {
	return e != nil && e.GreyNoise != nil && e.GreyNoise.Noise
}

// Sources returns the set of source names present in the enrichment.
func (e *Enrichment) Sources() []SourceName {
	if e == nil {
		return nil
	}
	var out []SourceName
	if e.MaxMind != nil {
		out = append(out, SourceMaxMind)
	}
	if e.Cymru != nil {
		out = append(out, SourceCymru)
	}
	if e.GreyNoise != nil {
		out = append(out, SourceGreyNoise)
	}
	return out
}

// IsFresh reports whether a stored enrichment still satisfies every
// per-source freshness window: 7 days for greynoise when present, 90 days
// for geo/ASN data. An enrichment without greynoise (e.g. no API key
// configured) can still be fresh on the strength of the other sources;
// DESIGN.md records that decision.
func (e *Enrichment) IsFresh(enrichmentTS, now time.Time) bool {
	if e == nil {
		return false
	}
	age := now.Sub(enrichmentTS)

	greyNoiseOK := e.GreyNoise == nil || age < 7*24*time.Hour
	hasGeoOrASN := e.Cymru != nil || e.MaxMind != nil
	geoOK := !hasGeoOrASN || age < 90*24*time.Hour

	nonEmpty := e.MaxMind != nil || e.Cymru != nil || e.GreyNoise != nil || e.Validation != nil
	return nonEmpty && greyNoiseOK && geoOK
}

// IPRecord is one IP-inventory entry, keyed by dotted-quad address.
type IPRecord struct {
	IP                string      `json:"ip"`
	FirstSeen         time.Time   `json:"first_seen"`
	LastSeen          time.Time   `json:"last_seen"`
	ObservationCount  int         `json:"observation_count"`
	Enrichment        *Enrichment `json:"enrichment,omitempty"`
	EnrichmentTS      time.Time   `json:"enrichment_ts,omitempty"`
}

// CurrentASN is a derived attribute materialized for storage/query
// convenience.
func (r *IPRecord) CurrentASN() *int {
	if r == nil {
		return nil
	}
	return r.Enrichment.CurrentASN()
}

func (r *IPRecord) GeoCountry() string {
	if r == nil {
		return "XX"
	}
	return r.Enrichment.GeoCountry()
}

func (r *IPRecord) IsBogon() bool {
	return r != nil && r.Enrichment.IsBogon()
}

func (r *IPRecord) IsScanner() bool {
	return r != nil && r.Enrichment.IsScanner()
}

// RIRRegistry is one of the five Regional Internet Registries.
type RIRRegistry string

const (
	RIRARIN     RIRRegistry = "ARIN"
	RIRRIPE     RIRRegistry = "RIPE"
	RIRAPNIC    RIRRegistry = "APNIC"
	RIRLACNIC   RIRRegistry = "LACNIC"
	RIRAFRINIC  RIRRegistry = "AFRINIC"
)

// ASNRecord is one ASN-inventory entry, keyed by AS number. Every IP
// record with a non-null current ASN references one of these rows.
type ASNRecord struct {
	ASNNumber         int          `json:"asn_number"`
	OrganizationName  string       `json:"organization_name,omitempty"`
	CountryCode       string       `json:"country_code,omitempty"`
	RIRRegistry       *RIRRegistry `json:"rir_registry,omitempty"`
	FirstSeen         time.Time    `json:"first_seen"`
	LastSeen          time.Time    `json:"last_seen"`
	UniqueIPCount     int          `json:"unique_ip_count"`
	TotalSessionCount int          `json:"total_session_count"`
}

// SessionSummary is the subset of session data the cascade reads to decide
// whether an IP warrants a scanner-intel query.
type SessionSummary struct {
	IP                 string `json:"ip"`
	CommandCount       int    `json:"command_count"`
	FileDownloadCount  int    `json:"file_download_count"`
	DurationSeconds    int    `json:"duration_seconds"`
	UniqueCommands     int    `json:"unique_commands"`
	VTFlagged          bool   `json:"vt_flagged"`
}

// AdmitsScannerIntel is the activity filter: only addresses that showed
// real interaction are worth scanner-intel API spend.
func (s *SessionSummary) AdmitsScannerIntel() bool {
	if s == nil {
		return false
	}
	return s.CommandCount >= 10 ||
		s.FileDownloadCount >= 5 ||
		s.VTFlagged ||
		s.DurationSeconds >= 300 ||
		s.UniqueCommands >= 5
}
