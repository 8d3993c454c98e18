package bogon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name       string
		addr       string
		wantBogon  bool
		wantReason string
	}{
		{"public", "8.8.8.8", false, ""},
		{"private-10", "10.0.0.1", true, "private-use"},
		{"private-172", "172.16.5.5", true, "private-use"},
		{"private-192", "192.168.1.1", true, "private-use"},
		{"loopback", "127.0.0.1", true, "loopback"},
		{"link-local", "169.254.1.1", true, "link-local"},
		{"multicast", "224.0.0.1", true, "multicast"},
		{"documentation", "192.0.2.1", true, "documentation-test-net-1"},
		{"carrier-grade-nat", "100.64.0.1", true, "shared-address-space"},
		{"broadcast", "255.255.255.255", true, "limited-broadcast"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Classify(tc.addr)
			assert.Equal(t, tc.wantBogon, res.IsBogon)
			if tc.wantReason != "" {
				assert.Equal(t, tc.wantReason, res.Reason)
			}
		})
	}
}

func TestClassifyMalformed(t *testing.T) {
	res := Classify("not-an-ip")
	require.True(t, res.IsBogon)
	assert.Equal(t, "malformed-address", res.Reason)
}

func TestClassifyIPv6Rejected(t *testing.T) {
	res := Classify("2001:db8::1")
	require.True(t, res.IsBogon)
	assert.Equal(t, "not-ipv4", res.Reason)
}

func TestIsRoutable(t *testing.T) {
	assert.True(t, IsRoutable("1.1.1.1"))
	assert.False(t, IsRoutable("10.1.1.1"))
	assert.False(t, IsRoutable("garbage"))
}
