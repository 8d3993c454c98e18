package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/kestrelnet/cascade/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatEnrichResultJSON(t *testing.T) {
	asn := 15169
	result := &models.EnrichResult{
		IP:                 "8.8.8.8",
		CurrentASN:         &asn,
		GeoCountry:         "US",
		EnrichmentComplete: 100,
	}

	var buf bytes.Buffer
	opts := &OutputOptions{Format: FormatJSON, Writer: &buf}
	require.NoError(t, FormatEnrichResult(opts, result))

	var decoded models.EnrichResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "8.8.8.8", decoded.IP)
	require.NotNil(t, decoded.CurrentASN)
	assert.Equal(t, 15169, *decoded.CurrentASN)
}

func TestFormatEnrichResultTable(t *testing.T) {
	asn := 64512
	meta := models.NewMeta(time.Now().UTC())
	meta.Attempt(models.SourceMaxMind)
	meta.Fail(models.SourceMaxMind, "ip_not_found_or_db_unavailable")
	meta.Attempt(models.SourceCymru)
	meta.Succeed(models.SourceCymru)
	meta.Skip(models.SourceGreyNoise, "low_activity_filter")

	result := &models.EnrichResult{
		IP:         "185.220.101.4",
		CurrentASN: &asn,
		GeoCountry: "DE",
		Enrichment: &models.Enrichment{
			Cymru: &models.CymruRecord{ASN: &asn},
			Meta:  meta,
		},
	}

	var buf bytes.Buffer
	opts := &OutputOptions{Format: FormatTable, Writer: &buf, NoColor: true}
	require.NoError(t, FormatEnrichResult(opts, result))

	out := buf.String()
	assert.Contains(t, out, "AS64512")
	assert.Contains(t, out, "cymru")
	assert.Contains(t, out, "low_activity_filter")
}

func TestFormatJobListEmptyTable(t *testing.T) {
	var buf bytes.Buffer
	opts := &OutputOptions{Format: FormatTable, Writer: &buf}
	require.NoError(t, FormatJobList(opts, &models.JobListResponse{Jobs: []models.EnrichmentJob{}}))
	assert.Contains(t, buf.String(), "No jobs found")
}

func TestFormatJobYAML(t *testing.T) {
	job := &models.EnrichmentJob{
		ID:    "job-7",
		Kind:  models.JobKindASNBackfill,
		State: models.JobStateCompleted,
	}

	var buf bytes.Buffer
	opts := &OutputOptions{Format: FormatYAML, Writer: &buf}
	require.NoError(t, FormatJob(opts, job))
	assert.Contains(t, buf.String(), "job-7")
	assert.Contains(t, buf.String(), "asn_backfill")
}

func TestNewOutputOptionsParsesFormats(t *testing.T) {
	assert.Equal(t, FormatJSON, NewOutputOptions("json", true).Format)
	assert.Equal(t, FormatYAML, NewOutputOptions("yml", true).Format)
	assert.Equal(t, FormatTable, NewOutputOptions("table", true).Format)
	assert.Equal(t, FormatTable, NewOutputOptions("bogus", true).Format)
}
