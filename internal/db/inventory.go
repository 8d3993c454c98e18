package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrelnet/cascade/internal/models"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

// UpsertIP creates or updates the IP-inventory row for an address, bumping
// observation_count and last_seen, and replacing the enrichment payload
// when one is supplied. The EnsureASN call (if the enrichment carries a
// current ASN) must happen first in the same caller so the FK ordering
// invariant holds.
func UpsertIP(ctx context.Context, sdb *surrealdb.DB, logger *zap.Logger, ip string, enrichment *models.Enrichment) (*models.IPRecord, error) {
	now := time.Now().UTC()

	var enrichmentJSON []byte
	var err error
	if enrichment != nil {
		enrichmentJSON, err = json.Marshal(enrichment)
		if err != nil {
			return nil, fmt.Errorf("marshal enrichment for %s: %w", ip, err)
		}
	}

	// UPSERT creates the row on first observation and advances the
	// counters on every later one; first_seen only fills when unset.
	query := `
		UPSERT type::thing('ip_inventory', $ip_key) SET
			ip = $ip,
			first_seen = first_seen ?? $now,
			last_seen = $now,
			observation_count += 1;
	`
	params := map[string]interface{}{
		"ip_key": ipKey(ip),
		"ip":     ip,
		"now":    now,
	}
	if enrichment != nil {
		var raw map[string]interface{}
		if err := json.Unmarshal(enrichmentJSON, &raw); err != nil {
			return nil, fmt.Errorf("decode enrichment for %s: %w", ip, err)
		}
		query = `
			UPSERT type::thing('ip_inventory', $ip_key) SET
				ip = $ip,
				first_seen = first_seen ?? $now,
				last_seen = $now,
				observation_count += 1,
				enrichment = $enrichment,
				enrichment_ts = $now;
		`
		params["enrichment"] = raw
	}
	result, err := surrealdb.Query[interface{}](ctx, sdb, query, params)
	if err != nil {
		return nil, fmt.Errorf("upsert ip_inventory row for %s: %w", ip, err)
	}
	if result != nil && len(*result) > 0 && (*result)[0].Error != nil {
		return nil, fmt.Errorf("upsert ip_inventory row for %s: %w", ip, (*result)[0].Error)
	}

	return GetIP(ctx, sdb, logger, ip)
}

// GetIP fetches the IP-inventory row for an address, or nil if absent.
func GetIP(ctx context.Context, sdb *surrealdb.DB, logger *zap.Logger, ip string) (*models.IPRecord, error) {
	query := `SELECT * FROM type::thing('ip_inventory', $ip_key) LIMIT 1;`
	result, err := surrealdb.Query[map[string]interface{}](ctx, sdb, query, map[string]interface{}{
		"ip_key": ipKey(ip),
	})
	if err != nil {
		return nil, fmt.Errorf("query ip_inventory for %s: %w", ip, err)
	}
	if result == nil || len(*result) == 0 || (*result)[0].Result == nil {
		return nil, nil
	}
	return parseIPRecord((*result)[0].Result)
}

// EnsureASN creates the ASN-inventory row for an ASN number if absent, or
// advances its last_seen and fills in metadata fields that are still empty.
// Already-set fields are never overwritten, so two sources reporting
// different organization strings cannot flap the row. This must complete
// before the owning IP row references the ASN so the FK invariant holds.
// A uniqueness race on concurrent create is retried once after re-reading
// the current row.
func EnsureASN(ctx context.Context, sdb *surrealdb.DB, logger *zap.Logger, asn int, org, country string, rir *models.RIRRegistry) (*models.ASNRecord, error) {
	now := time.Now().UTC()
	asnKey := fmt.Sprintf("%d", asn)

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := GetASN(ctx, sdb, asn)
		if err != nil {
			return nil, err
		}

		if existing == nil {
			createQuery := `
				CREATE type::thing('asn_inventory', $asn_key) CONTENT {
					asn_number: $asn,
					organization_name: $org,
					country_code: $country,
					rir_registry: $rir,
					first_seen: $now,
					last_seen: $now,
					unique_ip_count: 0,
					total_session_count: 0
				};
			`
			_, err = surrealdb.Query[interface{}](ctx, sdb, createQuery, map[string]interface{}{
				"asn_key": asnKey,
				"asn":     asn,
				"org":     org,
				"country": country,
				"rir":     rirValue(rir),
				"now":     now,
			})
			if err != nil {
				if attempt == 0 {
					logger.Warn("retrying asn create after uniqueness conflict", zap.Int("asn", asn), zap.Error(err))
					continue
				}
				return nil, fmt.Errorf("create asn_inventory row for AS%d: %w", asn, err)
			}
			return GetASN(ctx, sdb, asn)
		}

		merged := map[string]interface{}{"last_seen": now}
		if existing.OrganizationName == "" && org != "" {
			merged["organization_name"] = org
		}
		if existing.CountryCode == "" && country != "" {
			merged["country_code"] = country
		}
		if existing.RIRRegistry == nil && rir != nil {
			merged["rir_registry"] = string(*rir)
		}

		updateQuery := `UPDATE type::thing('asn_inventory', $asn_key) MERGE $data;`
		_, err = surrealdb.Query[interface{}](ctx, sdb, updateQuery, map[string]interface{}{
			"asn_key": asnKey,
			"data":    merged,
		})
		if err != nil {
			return nil, fmt.Errorf("update asn_inventory row for AS%d: %w", asn, err)
		}
		return GetASN(ctx, sdb, asn)
	}
	return GetASN(ctx, sdb, asn)
}

func rirValue(rir *models.RIRRegistry) interface{} {
	if rir == nil {
		return nil
	}
	return string(*rir)
}

// BumpASNCounters adjusts the ASN-inventory aggregate counters, called by
// the cascade when an IP newly links to an ASN and by session ingestion
// when activity is attributed to one.
func BumpASNCounters(ctx context.Context, sdb *surrealdb.DB, logger *zap.Logger, asn int, ipDelta, sessionDelta int) error {
	query := `UPDATE type::thing('asn_inventory', $asn_key) SET
		unique_ip_count += $ip_delta,
		total_session_count += $session_delta;`
	_, err := surrealdb.Query[interface{}](ctx, sdb, query, map[string]interface{}{
		"asn_key":       fmt.Sprintf("%d", asn),
		"ip_delta":      ipDelta,
		"session_delta": sessionDelta,
	})
	if err != nil {
		return fmt.Errorf("bump counters for AS%d: %w", asn, err)
	}
	return nil
}

// SelectIPsNeedingEnrichment returns up to limit addresses whose enrichment
// is stale (missing or older than staleAfter) and which were observed
// within recentWindow, ordered busiest-first so the backfill driver spends
// its budget on the addresses analysts actually see.
func SelectIPsNeedingEnrichment(ctx context.Context, sdb *surrealdb.DB, logger *zap.Logger, staleAfter, recentWindow time.Duration, limit, offset int) ([]string, error) {
	now := time.Now().UTC()
	query := `
		SELECT VALUE ip FROM ip_inventory
		WHERE (enrichment_ts IS NONE OR enrichment_ts < $stale_before)
		AND last_seen > $recent_after
		ORDER BY observation_count DESC, last_seen DESC
		LIMIT $limit START $offset;
	`
	result, err := surrealdb.Query[[]string](ctx, sdb, query, map[string]interface{}{
		"stale_before": now.Add(-staleAfter),
		"recent_after": now.Add(-recentWindow),
		"limit":        limit,
		"offset":       offset,
	})
	if err != nil {
		return nil, fmt.Errorf("select ips needing enrichment: %w", err)
	}
	if result == nil || len(*result) == 0 {
		return nil, nil
	}
	return (*result)[0].Result, nil
}

// GetASN fetches the ASN-inventory row for an ASN number, or nil if absent.
func GetASN(ctx context.Context, sdb *surrealdb.DB, asn int) (*models.ASNRecord, error) {
	query := `SELECT * FROM type::thing('asn_inventory', $asn_key) LIMIT 1;`
	result, err := surrealdb.Query[map[string]interface{}](ctx, sdb, query, map[string]interface{}{
		"asn_key": fmt.Sprintf("%d", asn),
	})
	if err != nil {
		return nil, fmt.Errorf("query asn_inventory for AS%d: %w", asn, err)
	}
	if result == nil || len(*result) == 0 || (*result)[0].Result == nil {
		return nil, nil
	}
	return parseASNRecord((*result)[0].Result)
}

func ipKey(ip string) string {
	key := make([]byte, 0, len(ip))
	for _, r := range ip {
		if r == '.' {
			key = append(key, '_')
			continue
		}
		key = append(key, byte(r))
	}
	return string(key)
}

func parseIPRecord(data map[string]interface{}) (*models.IPRecord, error) {
	rec := &models.IPRecord{
		IP: getStringField(data, "ip"),
	}
	if rec.IP == "" {
		return nil, fmt.Errorf("missing or invalid ip field")
	}
	if firstSeen, err := parseTimeField(data, "first_seen"); err == nil {
		rec.FirstSeen = firstSeen
	}
	if lastSeen, err := parseTimeField(data, "last_seen"); err == nil {
		rec.LastSeen = lastSeen
	}
	if n, ok := getIntField(data, "observation_count"); ok {
		rec.ObservationCount = n
	}
	if ts, err := parseTimeField(data, "enrichment_ts"); err == nil {
		rec.EnrichmentTS = ts
	}
	if raw, ok := data["enrichment"].(map[string]interface{}); ok {
		enrichment, err := decodeEnrichment(raw)
		if err != nil {
			return nil, fmt.Errorf("decode enrichment for %s: %w", rec.IP, err)
		}
		rec.Enrichment = enrichment
	}
	return rec, nil
}

func decodeEnrichment(raw map[string]interface{}) (*models.Enrichment, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var e models.Enrichment
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func parseASNRecord(data map[string]interface{}) (*models.ASNRecord, error) {
	asnNumber, ok := getIntField(data, "asn_number")
	if !ok {
		return nil, fmt.Errorf("missing or invalid asn_number field")
	}
	rec := &models.ASNRecord{
		ASNNumber:        asnNumber,
		OrganizationName: getStringField(data, "organization_name"),
		CountryCode:      getStringField(data, "country_code"),
	}
	if r := getStringField(data, "rir_registry"); r != "" {
		rir := models.RIRRegistry(r)
		rec.RIRRegistry = &rir
	}
	if firstSeen, err := parseTimeField(data, "first_seen"); err == nil {
		rec.FirstSeen = firstSeen
	}
	if lastSeen, err := parseTimeField(data, "last_seen"); err == nil {
		rec.LastSeen = lastSeen
	}
	if n, ok := getIntField(data, "unique_ip_count"); ok {
		rec.UniqueIPCount = n
	}
	if n, ok := getIntField(data, "total_session_count"); ok {
		rec.TotalSessionCount = n
	}
	return rec, nil
}
