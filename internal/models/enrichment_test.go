package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(n int) *int { return &n }

func TestCurrentASNPrefersMaxMind(t *testing.T) {
	e := &Enrichment{
		MaxMind: &MaxMindRecord{ASN: intPtr(15169)},
		Cymru:   &CymruRecord{ASN: intPtr(13335)},
	}
	assert.Equal(t, 15169, *e.CurrentASN())

	e.MaxMind.ASN = nil
	assert.Equal(t, 13335, *e.CurrentASN())

	e.Cymru.ASN = nil
	assert.Nil(t, e.CurrentASN())
}

func TestGeoCountryFallbackChain(t *testing.T) {
	e := &Enrichment{
		MaxMind: &MaxMindRecord{CountryCode: "US"},
		Cymru:   &CymruRecord{CountryCode: "DE"},
	}
	assert.Equal(t, "US", e.GeoCountry())

	e.MaxMind.CountryCode = ""
	assert.Equal(t, "DE", e.GeoCountry())

	e.Cymru.CountryCode = ""
	assert.Equal(t, "XX", e.GeoCountry())
}

func TestCompleteness(t *testing.T) {
	m := NewMeta(time.Now().UTC())
	m.Attempt(SourceMaxMind)
	m.Succeed(SourceMaxMind)
	m.Attempt(SourceCymru)
	m.Fail(SourceCymru, "nxdomain_or_timeout")
	assert.InDelta(t, 50.0, m.Completeness(), 0.001)

	m.Skip(SourceGreyNoise, "low_activity_filter")
	assert.InDelta(t, 100.0, m.Completeness(), 0.001, "skips reduce the denominator")

	empty := NewMeta(time.Now().UTC())
	assert.InDelta(t, 100.0, empty.Completeness(), 0.001, "nothing attempted clamps to 100")
}

func TestIsFreshWindows(t *testing.T) {
	now := time.Now().UTC()

	withGreyNoise := &Enrichment{
		MaxMind:   &MaxMindRecord{CountryCode: "US"},
		GreyNoise: &GreyNoiseRecord{Noise: true},
	}
	assert.True(t, withGreyNoise.IsFresh(now.Add(-6*24*time.Hour), now))
	assert.False(t, withGreyNoise.IsFresh(now.Add(-8*24*time.Hour), now),
		"a greynoise payload older than 7 days forces re-enrichment")

	geoOnly := &Enrichment{MaxMind: &MaxMindRecord{CountryCode: "US"}}
	assert.True(t, geoOnly.IsFresh(now.Add(-30*24*time.Hour), now),
		"no greynoise payload still allows freshness on the geo window")
	assert.False(t, geoOnly.IsFresh(now.Add(-91*24*time.Hour), now))

	var empty *Enrichment
	assert.False(t, empty.IsFresh(now, now))
}

func TestAdmitsScannerIntel(t *testing.T) {
	tests := []struct {
		name    string
		session *SessionSummary
		want    bool
	}{
		{"nil session", nil, false},
		{"idle session", &SessionSummary{CommandCount: 1}, false},
		{"many commands", &SessionSummary{CommandCount: 10}, true},
		{"downloads", &SessionSummary{FileDownloadCount: 5}, true},
		{"vt flagged", &SessionSummary{VTFlagged: true}, true},
		{"long session", &SessionSummary{DurationSeconds: 300}, true},
		{"diverse commands", &SessionSummary{UniqueCommands: 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.session.AdmitsScannerIntel())
		})
	}
}
