// Package enrichment holds the cascade's three enrichment sources: the
// offline geo/ASN source (this file), the Team Cymru-style bulk ASN source
// (cymru.go, cymru_dns.go), and the scanner-intel source (scanner.go).
package enrichment

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kestrelnet/cascade/internal/models"
	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
	"go.uber.org/zap"
)

const (
	minCityDBSize = 50 * 1024 * 1024
	minASNDBSize  = 3 * 1024 * 1024
	maxDBAge      = 30 * 24 * time.Hour
	canaryIP      = "8.8.8.8"
	canaryCountry = "US"

	// Databases older than dbRefreshAge are re-downloaded when a license
	// key is configured; the check itself runs every updateCheckInterval.
	dbRefreshAge        = 7 * 24 * time.Hour
	updateCheckInterval = 12 * time.Hour

	defaultCityURL = "https://updates.maxmind.com/geoip/databases/GeoLite2-City/update"
	defaultASNURL  = "https://updates.maxmind.com/geoip/databases/GeoLite2-ASN/update"
)

// MaxMindSource is the offline geo/ASN enrichment source. It holds two
// MMDB readers behind a shared RWMutex so an
// in-flight license-key auto-update can swap both atomically without
// blocking concurrent lookups for longer than the swap itself.
type MaxMindSource struct {
	cityPath string
	asnPath  string

	mu      sync.RWMutex
	cityDB  *geoip2.Reader
	asnDB   *geoip2.Reader

	httpClient *http.Client
	licenseKey string
	logger     *zap.Logger
}

// Config configures a MaxMindSource.
type Config struct {
	CityDBPath string
	ASNDBPath  string
	LicenseKey string // resolved via internal/secrets before being passed in
}

// NewMaxMindSource opens both MMDB files and validates them (minimum file
// size, build-timestamp recency, and a canary lookup).
func NewMaxMindSource(cfg Config, logger *zap.Logger) (*MaxMindSource, error) {
	s := &MaxMindSource{
		cityPath:   cfg.CityDBPath,
		asnPath:    cfg.ASNDBPath,
		licenseKey: cfg.LicenseKey,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	if err := ValidateMMDB(cfg.CityDBPath, minCityDBSize); err != nil {
		return nil, fmt.Errorf("city database invalid: %w", err)
	}
	if err := ValidateMMDB(cfg.ASNDBPath, minASNDBSize); err != nil {
		return nil, fmt.Errorf("asn database invalid: %w", err)
	}

	cityDB, err := geoip2.Open(cfg.CityDBPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}
	asnDB, err := geoip2.Open(cfg.ASNDBPath)
	if err != nil {
		cityDB.Close()
		return nil, fmt.Errorf("open asn database: %w", err)
	}

	s.cityDB = cityDB
	s.asnDB = asnDB
	return s, nil
}

// Close releases both MMDB readers.
func (s *MaxMindSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.cityDB != nil {
		if err := s.cityDB.Close(); err != nil {
			firstErr = err
		}
	}
	if s.asnDB != nil {
		if err := s.asnDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Lookup returns the offline geo/ASN record for a single address. A
// per-lookup failure (e.g. the address is absent from the database, which
// is common for freshly-allocated space) is a normal, non-error outcome:
// the returned record is simply left with empty fields.
func (s *MaxMindSource) Lookup(ipStr string) (*models.MaxMindRecord, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("maxmind: invalid IP address %q", ipStr)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := &models.MaxMindRecord{}

	city, err := s.cityDB.City(ip)
	if err != nil {
		return nil, fmt.Errorf("maxmind: city lookup: %w", err)
	}
	rec.CountryCode = city.Country.IsoCode
	rec.CountryName = preferredName(city.Country.Names)
	rec.City = preferredName(city.City.Names)
	rec.Latitude = city.Location.Latitude
	rec.Longitude = city.Location.Longitude

	asnRecord, err := s.asnDB.ASN(ip)
	if err == nil && asnRecord.AutonomousSystemNumber != 0 {
		asn := int(asnRecord.AutonomousSystemNumber)
		rec.ASN = &asn
		rec.ASNOrg = asnRecord.AutonomousSystemOrganization
	}

	return rec, nil
}

// LookupBatch resolves many addresses concurrently under a semaphore-
// bounded worker pool. Failures are logged rather than silently dropped,
// since the cascade records a per-source failure reason in models.Meta.
func (s *MaxMindSource) LookupBatch(ips []string, concurrency int) map[string]*models.MaxMindRecord {
	if concurrency <= 0 {
		concurrency = 10
	}

	results := make(map[string]*models.MaxMindRecord)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for _, ip := range ips {
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rec, err := s.Lookup(ip)
			if err != nil {
				s.logger.Debug("maxmind batch lookup failed", zap.String("ip", ip), zap.Error(err))
				return
			}
			mu.Lock()
			results[ip] = rec
			mu.Unlock()
		}(ip)
	}
	wg.Wait()
	return results
}

func preferredName(names map[string]string) string {
	if name, ok := names["en"]; ok {
		return name
	}
	for _, name := range names {
		return name
	}
	return ""
}

// ValidateMMDB checks a database before it is trusted: the file must
// exceed minSize, its build timestamp must be no older than 30 days, and a
// canary lookup (8.8.8.8 -> US) must succeed.
func ValidateMMDB(path string, minSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	if info.Size() < minSize {
		return fmt.Errorf("%s is %d bytes, below minimum %d", filepath.Base(path), info.Size(), minSize)
	}

	reader, err := maxminddb.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer reader.Close()

	buildTime := time.Unix(int64(reader.Metadata.BuildEpoch), 0)
	if time.Since(buildTime) > maxDBAge {
		return fmt.Errorf("%s build timestamp %s is older than %s", filepath.Base(path), buildTime, maxDBAge)
	}

	db, err := geoip2.Open(path)
	if err != nil {
		return fmt.Errorf("open %s for canary lookup: %w", filepath.Base(path), err)
	}
	defer db.Close()

	ip := net.ParseIP(canaryIP)
	switch reader.Metadata.DatabaseType {
	case "GeoLite2-ASN", "GeoIP2-ISP":
		if _, err := db.ASN(ip); err != nil {
			return fmt.Errorf("%s canary ASN lookup failed: %w", filepath.Base(path), err)
		}
	default:
		city, err := db.City(ip)
		if err != nil {
			return fmt.Errorf("%s canary city lookup failed: %w", filepath.Base(path), err)
		}
		if city.Country.IsoCode != canaryCountry {
			return fmt.Errorf("%s canary lookup returned country %q, want %q", filepath.Base(path), city.Country.IsoCode, canaryCountry)
		}
	}

	return nil
}

// DatabaseAge reports the age of the older of the two database builds.
func (s *MaxMindSource) DatabaseAge() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	oldest := time.Now()
	for _, db := range []*geoip2.Reader{s.cityDB, s.asnDB} {
		if db == nil {
			continue
		}
		built := time.Unix(int64(db.Metadata().BuildEpoch), 0)
		if built.Before(oldest) {
			oldest = built
		}
	}
	return time.Since(oldest)
}

// needsRefresh gates the auto-update: a license key must be configured and
// the databases must have fallen behind the refresh window.
func needsRefresh(licenseKey string, age time.Duration) bool {
	return licenseKey != "" && age > dbRefreshAge
}

// StartAutoUpdate launches the background refresh loop: every check
// interval, if a license key is configured and the databases are older
// than the refresh window, download-validate-swap a fresh pair. Update
// failures are logged and the source keeps serving the current databases.
// Without a license key this is a no-op. Empty URLs fall back to the
// vendor defaults.
func (s *MaxMindSource) StartAutoUpdate(ctx context.Context, cityURL, asnURL string) {
	if s.licenseKey == "" {
		s.logger.Debug("no license key configured, geo database auto-update disabled")
		return
	}
	if cityURL == "" {
		cityURL = defaultCityURL
	}
	if asnURL == "" {
		asnURL = defaultASNURL
	}

	go func() {
		ticker := time.NewTicker(updateCheckInterval)
		defer ticker.Stop()
		for {
			if age := s.DatabaseAge(); needsRefresh(s.licenseKey, age) {
				s.logger.Info("geo databases stale, updating",
					zap.Duration("age", age))
				if err := s.Update(cityURL, asnURL); err != nil {
					s.logger.Error("geo database auto-update failed, keeping current databases", zap.Error(err))
				} else {
					s.logger.Info("geo databases updated")
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Update downloads a fresh MMDB pair from MaxMind using the configured
// license key and atomically swaps them into place, retaining the previous
// version on disk (suffixed .prev) so a bad download can be rolled back by
// an operator. Only exercised when a license key is configured.
func (s *MaxMindSource) Update(cityURL, asnURL string) error {
	if s.licenseKey == "" {
		return fmt.Errorf("maxmind: update requested but no license key configured")
	}

	if err := s.updateOne(s.cityPath, cityURL, minCityDBSize); err != nil {
		return fmt.Errorf("update city database: %w", err)
	}
	if err := s.updateOne(s.asnPath, asnURL, minASNDBSize); err != nil {
		return fmt.Errorf("update asn database: %w", err)
	}

	newCity, err := geoip2.Open(s.cityPath)
	if err != nil {
		return fmt.Errorf("reopen city database after update: %w", err)
	}
	newASN, err := geoip2.Open(s.asnPath)
	if err != nil {
		newCity.Close()
		return fmt.Errorf("reopen asn database after update: %w", err)
	}

	s.mu.Lock()
	oldCity, oldASN := s.cityDB, s.asnDB
	s.cityDB, s.asnDB = newCity, newASN
	s.mu.Unlock()

	if oldCity != nil {
		oldCity.Close()
	}
	if oldASN != nil {
		oldASN.Close()
	}
	return nil
}

func (s *MaxMindSource) updateOne(path, url string, minSize int64) error {
	tmpPath := path + ".download"
	if err := downloadFile(s.httpClient, url, s.licenseKey, tmpPath); err != nil {
		return err
	}
	if err := ValidateMMDB(tmpPath, minSize); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("downloaded database failed validation: %w", err)
	}

	prevPath := path + ".prev"
	if _, err := os.Stat(path); err == nil {
		os.Rename(path, prevPath)
	}
	return os.Rename(tmpPath, path)
}

func downloadFile(client *http.Client, url, licenseKey, destPath string) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+licenseKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write destination file: %w", err)
	}
	return nil
}
