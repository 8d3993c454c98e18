package enrichment

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelnet/cascade/internal/models"
	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	cymruDNSSuffix  = "origin.asn.cymru.com."
	cymruDNSTimeout = 3 * time.Second
	cymruDNSTimeoutPause = 500 * time.Millisecond
)

// CymruDNSSource resolves ASN data one address at a time via Team Cymru's
// DNS-based lookup (origin.asn.cymru.com TXT records), concurrency-bounded
// by a semaphore. The drivers pick this transport over the TCP bulk
// transport for small batches.
type CymruDNSSource struct {
	client      *dns.Client
	resolverAddr string
	logger      *zap.Logger
	sem         *semaphore.Weighted
}

// NewCymruDNSSource builds a DNS-based source with the given concurrency
// bound (default 10).
func NewCymruDNSSource(concurrency int, resolverAddr string, logger *zap.Logger) *CymruDNSSource {
	if concurrency <= 0 {
		concurrency = 10
	}
	if resolverAddr == "" {
		resolverAddr = "8.8.8.8:53"
	}
	return &CymruDNSSource{
		client:       &dns.Client{Timeout: cymruDNSTimeout},
		resolverAddr: resolverAddr,
		logger:       logger,
		sem:          semaphore.NewWeighted(int64(concurrency)),
	}
}

// LookupBatch resolves each address concurrently, bounded by the
// configured semaphore weight.
func (s *CymruDNSSource) LookupBatch(ctx context.Context, ips []string) map[string]*models.CymruRecord {
	results := make(map[string]*models.CymruRecord, len(ips))
	resultsCh := make(chan struct {
		ip  string
		rec *models.CymruRecord
	}, len(ips))

	launched := 0
	for _, ip := range ips {
		ip := ip
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		launched++
		go func() {
			defer s.sem.Release(1)
			rec := s.lookupOne(ctx, ip)
			resultsCh <- struct {
				ip  string
				rec *models.CymruRecord
			}{ip, rec}
		}()
	}

	for i := 0; i < launched; i++ {
		item := <-resultsCh
		if item.rec != nil {
			results[item.ip] = item.rec
		}
	}
	return results
}

// lookupOne performs a single reverse-lookup query. A timeout is treated as
// a soft failure: the caller gets nil back (recorded upstream as a source
// failure), after a short pause so a flaky resolver doesn't get hammered.
func (s *CymruDNSSource) lookupOne(ctx context.Context, ip string) *models.CymruRecord {
	queryCtx, cancel := context.WithTimeout(ctx, cymruDNSTimeout)
	defer cancel()

	name, err := reverseQueryName(ip)
	if err != nil {
		s.logger.Debug("cymru dns: invalid address", zap.String("ip", ip), zap.Error(err))
		return nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeTXT)

	resp, _, err := s.client.ExchangeContext(queryCtx, msg, s.resolverAddr)
	if err != nil {
		if queryCtx.Err() != nil {
			time.Sleep(cymruDNSTimeoutPause)
		}
		s.logger.Debug("cymru dns: query failed", zap.String("ip", ip), zap.Error(err))
		return nil
	}
	if resp.Rcode == dns.RcodeNameError {
		// NXDOMAIN: address has no announced origin ASN, not a failure.
		return &models.CymruRecord{ASN: nil}
	}
	if resp.Rcode != dns.RcodeSuccess {
		s.logger.Debug("cymru dns: non-success rcode", zap.String("ip", ip), zap.Int("rcode", resp.Rcode))
		return nil
	}

	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok || len(txt.Txt) == 0 {
			continue
		}
		rec, err := parseCymruDNSTXT(txt.Txt[0])
		if err != nil {
			s.logger.Debug("cymru dns: unparsable TXT record", zap.String("txt", txt.Txt[0]), zap.Error(err))
			continue
		}
		return rec
	}
	return nil
}

// reverseQueryName builds the "d.c.b.a.origin.asn.cymru.com." query name
// for an IPv4 address. IPv6 is not supported anywhere in the cascade.
func reverseQueryName(ipStr string) (string, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address %q", ipStr)
	}
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("address %q is not IPv4", ipStr)
	}
	return fmt.Sprintf("%d.%d.%d.%d.%s", v4[3], v4[2], v4[1], v4[0], cymruDNSSuffix), nil
}

// parseCymruDNSTXT parses a TXT answer of the form:
// "ASN | BGP Prefix | CC | Registry | Allocated Date"
func parseCymruDNSTXT(txt string) (*models.CymruRecord, error) {
	fields := strings.Split(txt, "|")
	if len(fields) < 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d: %q", len(fields), txt)
	}
	for i := range fields {
		fields[i] = naToEmpty(strings.TrimSpace(fields[i]))
	}

	rec := &models.CymruRecord{
		BGPPrefix:     fields[1],
		CountryCode:   fields[2],
		Registry:      fields[3],
		AllocatedDate: fields[4],
	}
	if fields[0] != "" {
		asn, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("invalid ASN %q: %w", fields[0], err)
		}
		rec.ASN = &asn
	}
	return rec, nil
}
