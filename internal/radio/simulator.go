package radio

import (
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// Network is a network the Simulator can see and join
type Network struct {
	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`
	RSSI       int    `yaml:"rssi"`
}

// Call records an operation performed on the Simulator
type Call struct {
	Op   string
	Args []string
	Time time.Time
}

// Simulator is an in-process radio. Associate links immediately when the
// name and passphrase match a known network, so a development build can be
// provisioned end to end without hardware. Tests drive it directly with
// SetLinkUp, CompleteScan and the failure injectors, and inspect Calls.
type Simulator struct {
	mu sync.Mutex

	networks    []Network
	mode        Mode
	linked      bool
	linkSSID    string
	stationAddr netip.Addr

	apConfig  APConfig
	apStarted bool
	apSSID    string
	txPower   int

	scanState   ScanState
	scanResults []ScanResult
	manualScans bool

	associateErr error
	startAPErr   error
	scanErr      error

	calls []Call
}

// NewSimulator creates a simulator that can see networks
func NewSimulator(networks ...Network) *Simulator {
	return &Simulator{
		networks:    networks,
		stationAddr: netip.MustParseAddr("192.168.1.50"),
		calls:       make([]Call, 0),
	}
}

func (s *Simulator) record(op string, args ...string) {
	s.calls = append(s.calls, Call{Op: op, Args: args, Time: time.Now()})
}

// SetMode records the new operating mode
func (s *Simulator) SetMode(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("SetMode", mode.String())
	s.mode = mode
	if mode == ModeOff {
		s.linked = false
		s.apStarted = false
	}
	if mode == ModeStation {
		s.apStarted = false
	}
	return nil
}

// Associate links at once if ssid and passphrase match a known network
func (s *Simulator) Associate(ssid, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("Associate", ssid)
	if s.associateErr != nil {
		return s.associateErr
	}
	if s.mode == ModeOff || s.mode == ModeAccessPoint {
		return fmt.Errorf("cannot associate in %s mode", s.mode)
	}

	s.linked = false
	s.linkSSID = ssid
	for _, n := range s.networks {
		if n.SSID == ssid && n.Passphrase == passphrase {
			s.linked = true
			break
		}
	}
	return nil
}

// Disconnect drops the station link
func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("Disconnect")
	s.linked = false
	return nil
}

// LinkUp reports whether the station link is up
func (s *Simulator) LinkUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linked
}

// LinkInfo describes the current link
func (s *Simulator) LinkInfo() LinkInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.linked {
		return LinkInfo{}
	}
	info := LinkInfo{SSID: s.linkSSID, Addr: s.stationAddr}
	for _, n := range s.networks {
		if n.SSID == s.linkSSID {
			info.RSSI = n.RSSI
			break
		}
	}
	return info
}

// ConfigureAP stores the access point addressing
func (s *Simulator) ConfigureAP(cfg APConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("ConfigureAP", cfg.Address.String())
	s.apConfig = cfg
	return nil
}

// SetTxPower records the transmit power cap
func (s *Simulator) SetTxPower(dbm int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("SetTxPower", fmt.Sprint(dbm))
	s.txPower = dbm
	return nil
}

// StartAP brings the access point up
func (s *Simulator) StartAP(ssid, passphrase string, channel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("StartAP", ssid, fmt.Sprint(channel))
	if s.startAPErr != nil {
		return s.startAPErr
	}
	if s.mode != ModeAccessPoint && s.mode != ModeAccessPointStation {
		return fmt.Errorf("cannot start access point in %s mode", s.mode)
	}
	s.apStarted = true
	s.apSSID = ssid
	return nil
}

// APAddr returns the configured access point address
func (s *Simulator) APAddr() netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apConfig.Address
}

// StartScan begins a scan. Outside manual mode the scan completes with the
// known networks the next time results are read.
func (s *Simulator) StartScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("StartScan")
	if s.scanErr != nil {
		return s.scanErr
	}
	if s.scanState == ScanIdle {
		s.scanState = ScanRunning
	}
	return nil
}

// ScanResults returns the scan progress and, when done, the raw results
func (s *Simulator) ScanResults() ([]ScanResult, ScanState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scanState == ScanRunning && !s.manualScans {
		s.scanResults = make([]ScanResult, 0, len(s.networks))
		for _, n := range s.networks {
			s.scanResults = append(s.scanResults, ScanResult{SSID: n.SSID, RSSI: n.RSSI})
		}
		s.scanState = ScanDone
	}
	if s.scanState != ScanDone {
		return nil, s.scanState
	}
	out := make([]ScanResult, len(s.scanResults))
	copy(out, s.scanResults)
	return out, ScanDone
}

// ClearScan discards the results
func (s *Simulator) ClearScan() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("ClearScan")
	s.scanState = ScanIdle
	s.scanResults = nil
}

// SetManualScans makes scans stay running until CompleteScan is called
func (s *Simulator) SetManualScans(manual bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualScans = manual
}

// CompleteScan finishes the running scan with results
func (s *Simulator) CompleteScan(results ...ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scanResults = results
	s.scanState = ScanDone
}

// SetLinkUp forces the station link state
func (s *Simulator) SetLinkUp(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linked = up
}

// SetAssociateError makes Associate fail with err (nil clears it)
func (s *Simulator) SetAssociateError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.associateErr = err
}

// SetStartAPError makes StartAP fail with err (nil clears it)
func (s *Simulator) SetStartAPError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startAPErr = err
}

// SetScanError makes StartScan fail with err (nil clears it)
func (s *Simulator) SetScanError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanErr = err
}

// Mode returns the current operating mode
func (s *Simulator) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// APStarted reports whether the access point is up, and its name
func (s *Simulator) APStarted() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apStarted, s.apSSID
}

// TxPower returns the last transmit power cap
func (s *Simulator) TxPower() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txPower
}

// Calls returns a copy of every recorded call
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CountCalls returns how many times op was called
func (s *Simulator) CountCalls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// LastCall returns the most recent call to op
func (s *Simulator) LastCall(op string) (Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].Op == op {
			return s.calls[i], true
		}
	}
	return Call{}, false
}

// ClearCalls forgets recorded calls
func (s *Simulator) ClearCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make([]Call, 0)
}
