package radio

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDnsmasqDropIn(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dnsmasq-shared.d")
	addr := netip.MustParseAddr("192.168.4.1")

	changed, err := WriteDnsmasqDropIn(dir, addr)
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(filepath.Join(dir, "netmgr-captive.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "port=0\n")
	assert.Contains(t, string(data), "dhcp-option=option:dns-server,192.168.4.1\n")

	changed, err = WriteDnsmasqDropIn(dir, addr)
	require.NoError(t, err)
	assert.False(t, changed, "unchanged content is not rewritten")

	changed, err = WriteDnsmasqDropIn(dir, netip.MustParseAddr("10.0.0.1"))
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestWriteDnsmasqDropIn_RejectsIPv6(t *testing.T) {
	_, err := WriteDnsmasqDropIn(t.TempDir(), netip.MustParseAddr("fe80::1"))
	assert.Error(t, err)
}
