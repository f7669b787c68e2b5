package radio

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
)

// DefaultDnsmasqSharedDir is where NetworkManager reads extra options for
// the dnsmasq it runs behind shared (access point) connections
const DefaultDnsmasqSharedDir = "/etc/NetworkManager/dnsmasq-shared.d"

const dnsmasqDropIn = "netmgr-captive.conf"

// DnsmasqDropIn renders the options that hand port 53 to the captive
// redirector. DHCP keeps running and still advertises the access point as
// the clients' DNS server.
func DnsmasqDropIn(apAddr netip.Addr) []byte {
	return []byte(fmt.Sprintf("# written by netmgr\nport=0\ndhcp-option=option:dns-server,%s\n", apAddr))
}

// WriteDnsmasqDropIn installs the drop-in under dir. It reports whether the
// file changed; NetworkManager applies it on the next access point activation.
func WriteDnsmasqDropIn(dir string, apAddr netip.Addr) (bool, error) {
	if !apAddr.Is4() {
		return false, fmt.Errorf("access point address %s is not IPv4", apAddr)
	}

	path := filepath.Join(dir, dnsmasqDropIn)
	want := DnsmasqDropIn(apAddr)

	current, err := os.ReadFile(path)
	if err == nil && bytes.Equal(current, want) {
		return false, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, want, 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
