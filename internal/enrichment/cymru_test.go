package enrichment

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseCymruLine(t *testing.T) {
	ip, rec, err := parseCymruLine("13335   | 1.0.0.1    | 1.0.0.0/24   | US | arin     | 2010-07-14")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0.1", ip)
	require.NotNil(t, rec.ASN)
	assert.Equal(t, 13335, *rec.ASN)
	assert.Equal(t, "1.0.0.0/24", rec.BGPPrefix)
	assert.Equal(t, "US", rec.CountryCode)
	assert.Equal(t, "arin", rec.Registry)
	assert.Equal(t, "2010-07-14", rec.AllocatedDate)
}

func TestParseCymruLineNASentinel(t *testing.T) {
	ip, rec, err := parseCymruLine("NA | 203.0.113.9 | NA | NA | NA | NA")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", ip)
	assert.Nil(t, rec.ASN, `"NA" means not announced, recorded as null ASN`)
	assert.Empty(t, rec.BGPPrefix, `"NA" must not survive as a literal prefix`)
	assert.Empty(t, rec.CountryCode, `"NA" is not a country code and must not reach the geo_country merge`)
	assert.Empty(t, rec.Registry)
	assert.Empty(t, rec.AllocatedDate)
}

func TestParseCymruLineRejectsShortRows(t *testing.T) {
	_, _, err := parseCymruLine("13335 | 1.0.0.1 | 1.0.0.0/24")
	assert.Error(t, err)

	_, _, err = parseCymruLine("garbage")
	assert.Error(t, err)
}

// pipeDialer serves a canned bulk-whois exchange over a net.Pipe: it reads
// the query until "end", writes the response, then closes.
func pipeDialer(t *testing.T, response string, gotQuery *[]byte) func(ctx context.Context, network, addr string) (net.Conn, error) {
	t.Helper()
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		clientSide, serverSide := net.Pipe()
		go func() {
			defer serverSide.Close()
			buf := make([]byte, 4096)
			for {
				n, err := serverSide.Read(buf)
				if n > 0 {
					*gotQuery = append(*gotQuery, buf[:n]...)
				}
				if err != nil || containsEnd(*gotQuery) {
					break
				}
			}
			io.WriteString(serverSide, response)
		}()
		return clientSide, nil
	}
}

func containsEnd(b []byte) bool {
	s := string(b)
	return len(s) >= 4 && s[len(s)-4:] == "end\n"
}

func TestBulkLookupBatchFramingAndParsing(t *testing.T) {
	response := "Bulk mode; whois.cymru.com [2026-08-01 12:00:00 +0000]\n" +
		"13335   | 1.0.0.1    | 1.0.0.0/24   | US | arin     | 2010-07-14\n" +
		"NA      | 203.0.113.9 | NA | NA | NA | NA\n" +
		"this line is not parseable\n"

	var query []byte
	s := NewCymruBulkSource(zaptest.NewLogger(t))
	s.dial = pipeDialer(t, response, &query)

	results, err := s.LookupBatch(context.Background(), []string{"1.0.0.1", "203.0.113.9"})
	require.NoError(t, err)

	q := string(query)
	assert.Contains(t, q, "begin\n")
	assert.Contains(t, q, "verbose\n")
	assert.Contains(t, q, "1.0.0.1\n")
	assert.Contains(t, q, "203.0.113.9\n")
	assert.Contains(t, q, "end\n")

	require.Contains(t, results, "1.0.0.1")
	require.NotNil(t, results["1.0.0.1"].ASN)
	assert.Equal(t, 13335, *results["1.0.0.1"].ASN)

	require.Contains(t, results, "203.0.113.9")
	assert.Nil(t, results["203.0.113.9"].ASN)
}

func TestBulkLookupBatchConnectionError(t *testing.T) {
	s := NewCymruBulkSource(zaptest.NewLogger(t))
	s.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, context.DeadlineExceeded
	}

	_, err := s.LookupBatch(context.Background(), []string{"1.0.0.1"})
	assert.Error(t, err, "a connection failure aborts the batch with an error")
}
