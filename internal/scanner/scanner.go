// Package scanner keeps a fresh, deduplicated list of nearby networks.
package scanner

import (
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"netmgr/internal/clock"
	"netmgr/internal/radio"

	"go.uber.org/zap"
)

// Entry is one network in a snapshot. RSSI is the strongest sighting, in dBm.
type Entry struct {
	Name string `json:"name"`
	RSSI int    `json:"rssi"`
}

// StartBackoff is how long the scanner waits after a refused StartScan
// before asking the driver again.
const StartBackoff = 3 * time.Second

// Scanner polls a radio.ScanDriver without ever blocking. Each completed scan
// replaces the cached snapshot wholesale and immediately starts the next one.
type Scanner struct {
	driver radio.ScanDriver
	clock  clock.Clock
	logger *zap.Logger

	// touched only by PollOnce
	startFailures int
	lastFailure   time.Time

	// snapshot is written only by PollOnce and read from any goroutine
	snapshot atomic.Pointer[[]Entry]
	scans    atomic.Uint64
}

// New creates a scanner over driver
func New(driver radio.ScanDriver, clk clock.Clock, logger *zap.Logger) *Scanner {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	s := &Scanner{
		driver: driver,
		clock:  clk,
		logger: logger.Named("scanner"),
	}
	empty := make([]Entry, 0)
	s.snapshot.Store(&empty)
	return s
}

// PollOnce advances the scan cycle by one step
func (s *Scanner) PollOnce() {
	results, state := s.driver.ScanResults()

	switch state {
	case radio.ScanIdle:
		s.start()

	case radio.ScanRunning:
		// results not ready yet

	case radio.ScanDone:
		merged := Merge(results)
		s.snapshot.Store(&merged)
		s.scans.Add(1)
		s.driver.ClearScan()

		s.logger.Debug("Scan complete",
			zap.Int("raw", len(results)),
			zap.Int("networks", len(merged)))

		s.start()
	}
}

// start asks the driver for a new scan unless a recent attempt was refused
func (s *Scanner) start() {
	now := s.clock.Now()
	if s.startFailures > 0 && now.Sub(s.lastFailure) < StartBackoff {
		return
	}

	if err := s.driver.StartScan(); err != nil {
		s.startFailures++
		s.lastFailure = now
		if s.startFailures == 1 {
			s.logger.Warn("Failed to start scan, backing off",
				zap.Duration("backoff", StartBackoff),
				zap.Error(err))
		} else {
			s.logger.Debug("Scan start still refused",
				zap.Int("failures", s.startFailures),
				zap.Error(err))
		}
		return
	}

	if s.startFailures > 0 {
		s.logger.Info("Scanning resumed", zap.Int("failures", s.startFailures))
		s.startFailures = 0
	}
}

// Snapshot returns a copy of the latest list, strongest first. It is empty
// until the first scan completes.
func (s *Scanner) Snapshot() []Entry {
	current := *s.snapshot.Load()
	out := make([]Entry, len(current))
	copy(out, current)
	return out
}

// Names returns the snapshot's network names in rank order
func (s *Scanner) Names() []string {
	current := *s.snapshot.Load()
	names := make([]string, len(current))
	for i, e := range current {
		names[i] = e.Name
	}
	return names
}

// Completed returns how many scans have been merged so far
func (s *Scanner) Completed() uint64 {
	return s.scans.Load()
}

// Merge collapses raw sightings by name keeping the strongest signal, drops
// hidden networks (empty name), and sorts by descending signal. Equal signals
// are ordered by name.
func Merge(raw []radio.ScanResult) []Entry {
	best := make(map[string]int, len(raw))
	for _, r := range raw {
		if r.SSID == "" {
			continue
		}
		if cur, ok := best[r.SSID]; !ok || r.RSSI > cur {
			best[r.SSID] = r.RSSI
		}
	}

	entries := make([]Entry, 0, len(best))
	for name, rssi := range best {
		entries = append(entries, Entry{Name: name, RSSI: rssi})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if a.RSSI != b.RSSI {
			return b.RSSI - a.RSSI
		}
		return strings.Compare(a.Name, b.Name)
	})
	return entries
}
