package enrichment

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelnet/cascade/internal/models"
	"go.uber.org/zap"
)

const (
	cymruWhoisAddr  = "whois.cymru.com:43"
	cymruMaxBatch   = 500
	cymruDialTimeout = 10 * time.Second
)

// CymruBulkSource implements the Team Cymru-style bulk ASN transport over a
// single TCP connection, using the "begin/verbose/.../end" bulk whois
// protocol. This is the batch path; cymru_dns.go provides
// the concurrent single-lookup DNS TXT transport for smaller counts.
type CymruBulkSource struct {
	addr   string
	logger *zap.Logger
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewCymruBulkSource(logger *zap.Logger) *CymruBulkSource {
	var d net.Dialer
	return &CymruBulkSource{
		addr:   cymruWhoisAddr,
		logger: logger,
		dial:   d.DialContext,
	}
}

// LookupBatch resolves up to cymruMaxBatch addresses per TCP connection,
// chunking larger requests automatically. The wire framing is exactly:
//
//	begin
//	verbose
//	<ip1>
//	<ip2>
//	...
//	end
//
// and each response line is pipe-delimited with 6 fields:
// ASN | IP | BGP Prefix | CC | Registry | Allocated Date. An ASN field of
// "NA" means the address is not currently announced and is recorded as a
// successful lookup with ASN == nil, not a failure.
func (s *CymruBulkSource) LookupBatch(ctx context.Context, ips []string) (map[string]*models.CymruRecord, error) {
	results := make(map[string]*models.CymruRecord, len(ips))

	for i := 0; i < len(ips); i += cymruMaxBatch {
		end := i + cymruMaxBatch
		if end > len(ips) {
			end = len(ips)
		}
		chunk, err := s.lookupChunk(ctx, ips[i:end])
		if err != nil {
			return results, fmt.Errorf("cymru bulk lookup chunk [%d:%d]: %w", i, end, err)
		}
		for ip, rec := range chunk {
			results[ip] = rec
		}
	}

	return results, nil
}

func (s *CymruBulkSource) lookupChunk(ctx context.Context, ips []string) (map[string]*models.CymruRecord, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cymruDialTimeout)
	defer cancel()

	conn, err := s.dial(dialCtx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.addr, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(cymruDialTimeout))

	var sb strings.Builder
	sb.WriteString("begin\n")
	sb.WriteString("verbose\n")
	for _, ip := range ips {
		sb.WriteString(ip)
		sb.WriteString("\n")
	}
	sb.WriteString("end\n")

	if _, err := conn.Write([]byte(sb.String())); err != nil {
		return nil, fmt.Errorf("write query: %w", err)
	}

	results := make(map[string]*models.CymruRecord, len(ips))
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Bulk mode") || strings.TrimSpace(line) == "" {
			continue
		}
		ip, rec, err := parseCymruLine(line)
		if err != nil {
			s.logger.Debug("skipping unparsable cymru response line", zap.String("line", line), zap.Error(err))
			continue
		}
		results[ip] = rec
	}
	if err := scanner.Err(); err != nil {
		return results, fmt.Errorf("read response: %w", err)
	}

	return results, nil
}

// parseCymruLine parses one pipe-delimited bulk-whois response line:
// ASN | IP | BGP Prefix | CC | Registry | Allocated Date
func parseCymruLine(line string) (string, *models.CymruRecord, error) {
	fields := strings.Split(line, "|")
	if len(fields) < 6 {
		return "", nil, fmt.Errorf("expected 6 fields, got %d: %q", len(fields), line)
	}

	for i := range fields {
		fields[i] = naToEmpty(strings.TrimSpace(fields[i]))
	}

	ip := fields[1]
	rec := &models.CymruRecord{
		BGPPrefix:     fields[2],
		CountryCode:   fields[3],
		Registry:      fields[4],
		AllocatedDate: fields[5],
	}

	if fields[0] != "" {
		asn, err := strconv.Atoi(fields[0])
		if err != nil {
			return "", nil, fmt.Errorf("invalid ASN %q: %w", fields[0], err)
		}
		rec.ASN = &asn
	}

	return ip, rec, nil
}

// naToEmpty maps the wire format's "NA" sentinel to null (empty). "NA" is
// not a country code or a prefix; letting it through would leak into the
// merged geo_country projection.
func naToEmpty(field string) string {
	if field == "NA" {
		return ""
	}
	return field
}
