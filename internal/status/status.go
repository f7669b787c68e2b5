// Package status carries coarse indicator transitions from the connectivity
// core (and the audio player) to whatever renders them: the LED driver, the
// log, or browsers watching the provisioning page.
package status

import (
	"sync"

	"go.uber.org/zap"
)

// Kind is an indicator state
type Kind int

const (
	Booting Kind = iota
	Connected
	PortalActive
	AssociationFailed
	Reconnecting
	// Playing and Error are set by the audio collaborator through the
	// Sink it is handed; the connection manager never emits them.
	Playing
	Error
)

var kindNames = map[Kind]string{
	Booting:           "booting",
	Connected:         "connected",
	PortalActive:      "portal_active",
	AssociationFailed: "association_failed",
	Reconnecting:      "reconnecting",
	Playing:           "playing",
	Error:             "error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Sink receives transitions. Implementations must not block the caller,
// which is usually the control loop.
type Sink interface {
	SetStatus(kind Kind)
}

// Multi fans a transition out to several sinks in order
type Multi []Sink

// SetStatus forwards kind to every sink
func (m Multi) SetStatus(kind Kind) {
	for _, s := range m {
		s.SetStatus(kind)
	}
}

// LogSink writes transitions to the log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs at Info
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("status")}
}

// SetStatus logs kind
func (l *LogSink) SetStatus(kind Kind) {
	l.logger.Info("Status changed", zap.String("status", kind.String()))
}

// Recorder keeps every transition it receives
type Recorder struct {
	mu    sync.Mutex
	kinds []Kind
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{kinds: make([]Kind, 0)}
}

// SetStatus records kind
func (r *Recorder) SetStatus(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

// Kinds returns a copy of the recorded transitions
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Kind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// Count returns how many times kind was recorded
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent transition
func (r *Recorder) Last() (Kind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.kinds) == 0 {
		return 0, false
	}
	return r.kinds[len(r.kinds)-1], true
}

// Reset forgets recorded transitions
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = make([]Kind, 0)
}
