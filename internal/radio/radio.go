// Package radio defines the narrow wireless capabilities the connectivity
// core consumes, plus the backends that provide them.
//
// Every method must return promptly. Association and scanning are started
// here and observed later through LinkUp and ScanResults; nothing in this
// package waits for the air.
package radio

import (
	"errors"
	"net/netip"
)

// ErrUnsupported is returned when a backend cannot perform an operation
var ErrUnsupported = errors.New("radio: operation not supported by backend")

// Mode is the radio operating mode
type Mode int

const (
	ModeOff Mode = iota
	ModeStation
	ModeAccessPoint
	ModeAccessPointStation
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeStation:
		return "station"
	case ModeAccessPoint:
		return "ap"
	case ModeAccessPointStation:
		return "ap+station"
	default:
		return "unknown"
	}
}

// ScanState reports the progress of an asynchronous scan
type ScanState int

const (
	// ScanIdle means no scan is running and no results are held
	ScanIdle ScanState = iota
	// ScanRunning means a scan was started and has not finished
	ScanRunning
	// ScanDone means results are ready to be read
	ScanDone
)

// ScanResult is one raw sighting of a network. The same network name can
// appear several times (one per access point).
type ScanResult struct {
	SSID  string
	BSSID string
	RSSI  int // dBm
}

// LinkInfo describes the current station link
type LinkInfo struct {
	SSID string
	Addr netip.Addr
	RSSI int // dBm
}

// APConfig is the fixed addressing of the provisioning access point. The
// appliance is its own gateway.
type APConfig struct {
	Address netip.Addr
	Gateway netip.Addr
	Prefix  int
}

// Station is the client side of the radio
type Station interface {
	SetMode(mode Mode) error
	// Associate begins joining ssid. It does not wait for the result.
	Associate(ssid, passphrase string) error
	Disconnect() error
	LinkUp() bool
	LinkInfo() LinkInfo
}

// AccessPoint is the access point side of the radio
type AccessPoint interface {
	SetMode(mode Mode) error
	Disconnect() error
	ConfigureAP(cfg APConfig) error
	// SetTxPower caps transmit power in dBm
	SetTxPower(dbm int) error
	StartAP(ssid, passphrase string, channel int) error
	APAddr() netip.Addr
}

// ScanDriver runs asynchronous discovery passes
type ScanDriver interface {
	StartScan() error
	ScanResults() ([]ScanResult, ScanState)
	// ClearScan discards held results and returns the driver to ScanIdle
	ClearScan()
}

// Radio is a complete backend
type Radio interface {
	Station
	AccessPoint
	ScanDriver
}
