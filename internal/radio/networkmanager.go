package radio

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	nmDest              = "org.freedesktop.NetworkManager"
	nmPath              = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface             = "org.freedesktop.NetworkManager"
	nmDeviceIface       = nmIface + ".Device"
	nmWirelessIface     = nmDeviceIface + ".Wireless"
	nmAccessPointIface  = nmIface + ".AccessPoint"
	nmIP4ConfigIface    = nmIface + ".IP4Config"
	nmSettingsConnIface = nmIface + ".Settings.Connection"

	nmDeviceTypeWifi       uint32 = 2
	nmDeviceStateActivated uint32 = 100

	profilePrefix = "netmgr-"
)

// NetworkManager drives a Wi-Fi device through NetworkManager's D-Bus API.
// Every call is a single D-Bus round trip; activation and scans complete in
// the daemon and are observed through device properties.
type NetworkManager struct {
	conn       *dbus.Conn
	device     dbus.BusObject
	devicePath dbus.ObjectPath
	iface      string
	logger     *zap.Logger

	mu           sync.Mutex
	mode         Mode
	ap           APConfig
	profile      dbus.ObjectPath
	scanning     bool
	scanBaseline int64
}

// NewNetworkManager finds the Wi-Fi device named iface on the system bus
func NewNetworkManager(iface string, logger *zap.Logger) (*NetworkManager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	var devices []dbus.ObjectPath
	if err := conn.Object(nmDest, nmPath).Call(nmIface+".GetDevices", 0).Store(&devices); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	for _, path := range devices {
		obj := conn.Object(nmDest, path)

		name, err := obj.GetProperty(nmDeviceIface + ".Interface")
		if err != nil {
			continue
		}
		devType, err := obj.GetProperty(nmDeviceIface + ".DeviceType")
		if err != nil {
			continue
		}
		if s, _ := name.Value().(string); s != iface {
			continue
		}
		if t, _ := devType.Value().(uint32); t != nmDeviceTypeWifi {
			return nil, fmt.Errorf("device %s is not a wifi device", iface)
		}

		return &NetworkManager{
			conn:       conn,
			device:     obj,
			devicePath: path,
			iface:      iface,
			logger:     logger.Named("radio"),
		}, nil
	}

	return nil, fmt.Errorf("wifi device %s not found", iface)
}

// SetMode records the mode. NetworkManager selects the device mode from the
// profile being activated, so only ModeOff has an immediate effect.
func (n *NetworkManager) SetMode(mode Mode) error {
	n.mu.Lock()
	n.mode = mode
	n.mu.Unlock()

	if mode == ModeOff {
		return n.Disconnect()
	}
	return nil
}

// Associate activates a fresh station profile for ssid
func (n *NetworkManager) Associate(ssid, passphrase string) error {
	settings := map[string]map[string]dbus.Variant{
		"connection": {
			"id":          dbus.MakeVariant(profilePrefix + ssid),
			"type":        dbus.MakeVariant("802-11-wireless"),
			"autoconnect": dbus.MakeVariant(false),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(ssid)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
		"ipv4": {"method": dbus.MakeVariant("auto")},
		"ipv6": {"method": dbus.MakeVariant("ignore")},
	}
	if passphrase != "" {
		settings["802-11-wireless-security"] = map[string]dbus.Variant{
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(passphrase),
		}
	}

	if err := n.activate(settings); err != nil {
		return fmt.Errorf("failed to associate with %s: %w", ssid, err)
	}
	n.logger.Debug("Association started", zap.String("ssid", ssid))
	return nil
}

// Disconnect deactivates whatever is active on the device
func (n *NetworkManager) Disconnect() error {
	if err := n.device.Call(nmDeviceIface+".Disconnect", 0).Err; err != nil {
		n.logger.Debug("Device disconnect failed", zap.Error(err))
		return fmt.Errorf("failed to disconnect %s: %w", n.iface, err)
	}
	return nil
}

// LinkUp reports whether a station profile is fully activated
func (n *NetworkManager) LinkUp() bool {
	n.mu.Lock()
	mode := n.mode
	n.mu.Unlock()

	if mode != ModeStation {
		return false
	}
	v, err := n.device.GetProperty(nmDeviceIface + ".State")
	if err != nil {
		return false
	}
	state, _ := v.Value().(uint32)
	return state == nmDeviceStateActivated
}

// LinkInfo reads the active access point and the first IPv4 address
func (n *NetworkManager) LinkInfo() LinkInfo {
	var info LinkInfo

	if v, err := n.device.GetProperty(nmWirelessIface + ".ActiveAccessPoint"); err == nil {
		if path, ok := v.Value().(dbus.ObjectPath); ok && path != "/" {
			ssid, rssi, err := n.accessPoint(path)
			if err == nil {
				info.SSID = ssid
				info.RSSI = rssi
			}
		}
	}

	if v, err := n.device.GetProperty(nmDeviceIface + ".Ip4Config"); err == nil {
		if path, ok := v.Value().(dbus.ObjectPath); ok && path != "/" {
			info.Addr = n.firstAddress(path)
		}
	}
	return info
}

// ConfigureAP stores the addressing used by the next StartAP
func (n *NetworkManager) ConfigureAP(cfg APConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ap = cfg
	return nil
}

// SetTxPower is not exposed by NetworkManager
func (n *NetworkManager) SetTxPower(dbm int) error {
	return ErrUnsupported
}

// StartAP activates a shared-mode access point profile. NetworkManager runs
// DHCP for the clients; the device address is the gateway.
func (n *NetworkManager) StartAP(ssid, passphrase string, channel int) error {
	n.mu.Lock()
	ap := n.ap
	n.mu.Unlock()

	if !ap.Address.IsValid() {
		return fmt.Errorf("access point address not configured")
	}

	settings := map[string]map[string]dbus.Variant{
		"connection": {
			"id":          dbus.MakeVariant(profilePrefix + "ap"),
			"type":        dbus.MakeVariant("802-11-wireless"),
			"autoconnect": dbus.MakeVariant(false),
		},
		"802-11-wireless": {
			"ssid":    dbus.MakeVariant([]byte(ssid)),
			"mode":    dbus.MakeVariant("ap"),
			"band":    dbus.MakeVariant("bg"),
			"channel": dbus.MakeVariant(uint32(channel)),
		},
		"ipv4": {
			"method": dbus.MakeVariant("shared"),
			"address-data": dbus.MakeVariant([]map[string]dbus.Variant{{
				"address": dbus.MakeVariant(ap.Address.String()),
				"prefix":  dbus.MakeVariant(uint32(ap.Prefix)),
			}}),
		},
		"ipv6": {"method": dbus.MakeVariant("ignore")},
	}
	if passphrase != "" {
		settings["802-11-wireless-security"] = map[string]dbus.Variant{
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(passphrase),
		}
	}

	if err := n.activate(settings); err != nil {
		return fmt.Errorf("failed to start access point %s: %w", ssid, err)
	}
	n.logger.Info("Access point started",
		zap.String("ssid", ssid),
		zap.String("address", ap.Address.String()),
		zap.Int("channel", channel))
	return nil
}

// APAddr returns the configured access point address
func (n *NetworkManager) APAddr() netip.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ap.Address
}

// StartScan asks the daemon for a scan. Completion is detected by the
// device's LastScan timestamp moving past the value read here.
func (n *NetworkManager) StartScan() error {
	baseline := n.lastScan()

	err := n.device.Call(nmWirelessIface+".RequestScan", 0, map[string]dbus.Variant{}).Err
	if err != nil {
		return fmt.Errorf("failed to request scan: %w", err)
	}

	n.mu.Lock()
	n.scanning = true
	n.scanBaseline = baseline
	n.mu.Unlock()
	return nil
}

// ScanResults lists the access points once the requested scan has finished
func (n *NetworkManager) ScanResults() ([]ScanResult, ScanState) {
	n.mu.Lock()
	scanning := n.scanning
	baseline := n.scanBaseline
	n.mu.Unlock()

	if !scanning {
		return nil, ScanIdle
	}
	if n.lastScan() <= baseline {
		return nil, ScanRunning
	}

	var paths []dbus.ObjectPath
	if err := n.device.Call(nmWirelessIface+".GetAllAccessPoints", 0).Store(&paths); err != nil {
		n.logger.Warn("Failed to list access points", zap.Error(err))
		return nil, ScanRunning
	}

	results := make([]ScanResult, 0, len(paths))
	for _, path := range paths {
		ssid, rssi, err := n.accessPoint(path)
		if err != nil {
			continue
		}
		bssid := ""
		if v, err := n.conn.Object(nmDest, path).GetProperty(nmAccessPointIface + ".HwAddress"); err == nil {
			bssid, _ = v.Value().(string)
		}
		results = append(results, ScanResult{SSID: ssid, BSSID: bssid, RSSI: rssi})
	}
	return results, ScanDone
}

// ClearScan forgets the pending scan
func (n *NetworkManager) ClearScan() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scanning = false
}

// Close deletes the profile this backend created
func (n *NetworkManager) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deleteProfileLocked()
}

func (n *NetworkManager) activate(settings map[string]map[string]dbus.Variant) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.deleteProfileLocked(); err != nil {
		n.logger.Debug("Failed to delete previous profile", zap.Error(err))
	}

	var profile, active dbus.ObjectPath
	err := n.conn.Object(nmDest, nmPath).
		Call(nmIface+".AddAndActivateConnection", 0, settings, n.devicePath, dbus.ObjectPath("/")).
		Store(&profile, &active)
	if err != nil {
		return err
	}
	n.profile = profile
	return nil
}

func (n *NetworkManager) deleteProfileLocked() error {
	if n.profile == "" {
		return nil
	}
	path := n.profile
	n.profile = ""
	return n.conn.Object(nmDest, path).Call(nmSettingsConnIface+".Delete", 0).Err
}

func (n *NetworkManager) lastScan() int64 {
	v, err := n.device.GetProperty(nmWirelessIface + ".LastScan")
	if err != nil {
		return 0
	}
	ts, _ := v.Value().(int64)
	return ts
}

func (n *NetworkManager) accessPoint(path dbus.ObjectPath) (string, int, error) {
	obj := n.conn.Object(nmDest, path)

	ssidProp, err := obj.GetProperty(nmAccessPointIface + ".Ssid")
	if err != nil {
		return "", 0, err
	}
	strengthProp, err := obj.GetProperty(nmAccessPointIface + ".Strength")
	if err != nil {
		return "", 0, err
	}

	ssid, _ := ssidProp.Value().([]byte)
	strength, _ := strengthProp.Value().(byte)
	return string(ssid), StrengthToDBm(strength), nil
}

func (n *NetworkManager) firstAddress(path dbus.ObjectPath) netip.Addr {
	v, err := n.conn.Object(nmDest, path).GetProperty(nmIP4ConfigIface + ".AddressData")
	if err != nil {
		return netip.Addr{}
	}
	entries, _ := v.Value().([]map[string]dbus.Variant)
	for _, entry := range entries {
		s, _ := entry["address"].Value().(string)
		if addr, err := netip.ParseAddr(s); err == nil {
			return addr
		}
	}
	return netip.Addr{}
}

// StrengthToDBm converts NetworkManager's 0-100 signal quality back to an
// approximate dBm value (NetworkManager derives quality as 2*(dBm+100)).
func StrengthToDBm(strength uint8) int {
	if strength > 100 {
		strength = 100
	}
	return int(strength)/2 - 100
}
