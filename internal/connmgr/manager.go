// Package connmgr owns the appliance's connectivity state machine.
//
// A single control loop calls Tick. Tick is the only place where the state,
// the attempt counter and the retry timer change. HTTP handlers and other
// goroutines may call SubmitCredentials, RequestPortal and RequestForget,
// which only publish to a single-slot mailbox drained by the next Tick, and
// the read-only queries IsConnected, Describe and State. No locks are taken:
// values read from other goroutines are published atomically.
package connmgr

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"netmgr/internal/clock"
	"netmgr/internal/credstore"
	"netmgr/internal/radio"
	"netmgr/internal/status"

	"go.uber.org/zap"
)

const defaultStoreTimeout = 500 * time.Millisecond

// CredentialStore persists the credential pair
type CredentialStore interface {
	Load(ctx context.Context) (credstore.Credentials, error)
	Save(ctx context.Context, c credstore.Credentials) error
	Clear(ctx context.Context) error
}

// PortalController runs the provisioning access point
type PortalController interface {
	Start() error
	Stop()
	ProcessTick()
}

// Deps groups the collaborators of a Manager
type Deps struct {
	Station radio.Station
	Portal  PortalController
	Store   CredentialStore
	Sink    status.Sink
	Clock   clock.Clock
	Logger  *zap.Logger

	// StoreTimeout bounds each persistence call made from Tick
	StoreTimeout time.Duration
}

// Manager is the connectivity state machine
type Manager struct {
	station      radio.Station
	portal       PortalController
	store        CredentialStore
	sink         status.Sink
	clock        clock.Clock
	logger       *zap.Logger
	policy       RetryPolicy
	storeTimeout time.Duration

	state    atomic.Int32
	attempts atomic.Int32
	creds    atomic.Pointer[credstore.Credentials]
	mailbox  Mailbox

	// touched only by the control loop
	lastAttempt time.Time
}

// NewManager creates a manager in the Idle state
func NewManager(deps Deps, policy RetryPolicy) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = defaultStoreTimeout
	}

	m := &Manager{
		station:      deps.Station,
		portal:       deps.Portal,
		store:        deps.Store,
		sink:         deps.Sink,
		clock:        deps.Clock,
		logger:       deps.Logger.Named("connmgr"),
		policy:       policy,
		storeTimeout: deps.StoreTimeout,
	}
	m.creds.Store(&credstore.Credentials{})
	return m
}

// Initialize loads stored credentials and either starts associating or
// enters portal mode. It must run on the control loop before the first Tick.
func (m *Manager) Initialize() {
	m.logger.Info("Initializing connection manager",
		zap.Int("max_attempts", m.policy.MaxAttempts),
		zap.Duration("retry_delay", m.policy.RetryDelay))
	m.sink.SetStatus(status.Booting)

	ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
	creds, err := m.store.Load(ctx)
	cancel()
	if err != nil {
		m.logger.Warn("Failed to load stored credentials, starting without them", zap.Error(err))
		creds = credstore.Credentials{}
	}
	m.creds.Store(&creds)

	if creds.Empty() {
		m.logger.Info("No saved credentials, starting portal")
		m.enterPortal()
		return
	}

	m.logger.Info("Found saved credentials, attempting connection", zap.String("ssid", creds.Name))
	m.connect(m.clock.Now())
}

// Tick advances the state machine. At most one pending request is honored
// per tick; a tick that handles a request does nothing else.
func (m *Manager) Tick(now time.Time) {
	if req, ok := m.mailbox.Take(); ok {
		m.handle(req, now)
		return
	}

	switch m.State() {
	case Connecting:
		m.tickConnecting(now)
	case Connected:
		m.tickConnected(now)
	case Portal:
		m.portal.ProcessTick()
	case Idle:
		// waits for Initialize
	}
}

func (m *Manager) tickConnecting(now time.Time) {
	if m.station.LinkUp() {
		m.setState(Connected)
		m.portal.Stop()

		info := m.station.LinkInfo()
		m.logger.Info("Connected",
			zap.String("ssid", m.Credentials().Name),
			zap.String("ip", addrString(info)),
			zap.Int("rssi", info.RSSI))
		m.sink.SetStatus(status.Connected)
		return
	}

	if now.Sub(m.lastAttempt) <= m.policy.RetryDelay {
		return
	}

	attempts := m.attempts.Add(1)
	m.logger.Info("Connection attempt window expired",
		zap.Int32("attempt", attempts),
		zap.Int("max_attempts", m.policy.MaxAttempts))

	if int(attempts) >= m.policy.MaxAttempts {
		m.logger.Warn("Falling back to portal", zap.Error(ErrAttemptsExhausted))
		m.enterPortal()
		m.sink.SetStatus(status.AssociationFailed)
		return
	}

	m.lastAttempt = now
	m.associate()
}

func (m *Manager) tickConnected(now time.Time) {
	if m.station.LinkUp() {
		return
	}

	m.logger.Warn("Lost connection, attempting reconnect", zap.String("ssid", m.Credentials().Name))
	m.setState(Connecting)
	m.attempts.Store(0)
	m.lastAttempt = now
	m.associate()
	m.sink.SetStatus(status.Reconnecting)
}

func (m *Manager) handle(req Request, now time.Time) {
	m.logger.Debug("Handling request", zap.Stringer("kind", req.Kind))

	switch req.Kind {
	case RequestApply:
		if err := m.station.Disconnect(); err != nil {
			m.logger.Debug("Disconnect before new credentials failed", zap.Error(err))
		}

		creds := req.Credentials
		ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
		if err := m.store.Save(ctx, creds); err != nil {
			m.logger.Warn("Failed to persist credentials, using them for this session only", zap.Error(err))
		}
		cancel()

		m.creds.Store(&creds)
		m.logger.Info("Received new credentials", zap.String("ssid", creds.Name))
		m.connect(now)

	case RequestPortal:
		m.logger.Info("Manual portal restart requested")
		m.enterPortal()

	case RequestForget:
		if m.State() == Portal && m.Credentials().Empty() {
			m.logger.Debug("Forget requested with nothing stored")
			return
		}

		m.logger.Info("Forgetting credentials")
		ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Warn("Failed to clear persisted credentials", zap.Error(err))
		}
		cancel()

		m.creds.Store(&credstore.Credentials{})
		if err := m.station.Disconnect(); err != nil {
			m.logger.Debug("Disconnect on forget failed", zap.Error(err))
		}
		m.enterPortal()
	}
}

// connect switches to station mode and starts associating with the current
// credentials, resetting the attempt counter and timer.
func (m *Manager) connect(now time.Time) {
	if m.State() == Portal {
		m.portal.Stop()
	}
	if err := m.station.SetMode(radio.ModeStation); err != nil {
		m.logger.Warn("Failed to switch to station mode", zap.Error(err))
	}

	m.setState(Connecting)
	m.attempts.Store(0)
	m.lastAttempt = now
	m.associate()
}

func (m *Manager) associate() {
	creds := m.Credentials()
	m.logger.Info("Attempting to connect", zap.String("ssid", creds.Name))
	if err := m.station.Associate(creds.Name, creds.Passphrase); err != nil {
		// retried when the current window expires
		m.logger.Warn("Association call failed", zap.String("ssid", creds.Name), zap.Error(err))
	}
}

func (m *Manager) enterPortal() {
	m.setState(Portal)
	if err := m.portal.Start(); err != nil {
		m.logger.Error("Portal failed to start, will retry on next portal request", zap.Error(err))
		return
	}
	m.sink.SetStatus(status.PortalActive)
}

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old != s {
		m.logger.Debug("State transition",
			zap.Stringer("from", old),
			zap.Stringer("to", s))
	}
}

// SubmitCredentials asks the control loop to persist and join a network.
// An empty name is rejected with ErrInvalidCredentials and changes nothing.
func (m *Manager) SubmitCredentials(name, passphrase string) error {
	if name == "" {
		return ErrInvalidCredentials
	}
	m.publish(Request{
		Kind:        RequestApply,
		Credentials: credstore.Credentials{Name: name, Passphrase: passphrase},
	})
	return nil
}

// RequestPortal asks the control loop to (re)enter portal mode
func (m *Manager) RequestPortal() {
	m.publish(Request{Kind: RequestPortal})
}

// RequestForget asks the control loop to clear credentials and enter portal mode
func (m *Manager) RequestForget() {
	m.publish(Request{Kind: RequestForget})
}

func (m *Manager) publish(r Request) {
	if m.mailbox.Publish(r) {
		m.logger.Debug("Pending request replaced before it was handled", zap.Stringer("kind", r.Kind))
	}
}

// State returns the current state
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Attempts returns the number of expired retry windows in the current connection goal
func (m *Manager) Attempts() int {
	return int(m.attempts.Load())
}

// Credentials returns the in-memory credentials
func (m *Manager) Credentials() credstore.Credentials {
	return *m.creds.Load()
}

// Policy returns the retry policy
func (m *Manager) Policy() RetryPolicy {
	return m.policy
}

// InPortal reports whether provisioning mode is active
func (m *Manager) InPortal() bool {
	return m.State() == Portal
}

// IsConnected reports a live connection: the state says Connected and the
// radio confirms the link right now.
func (m *Manager) IsConnected() bool {
	return m.State() == Connected && m.station.LinkUp()
}

// Describe returns a human-readable status line
func (m *Manager) Describe() string {
	creds := m.Credentials()

	if m.IsConnected() {
		return fmt.Sprintf("Connected to: %s (IP: %s)", creds.Name, addrString(m.station.LinkInfo()))
	}

	switch m.State() {
	case Connecting:
		return fmt.Sprintf("Connecting to: %s (attempt %d/%d)", creds.Name, m.Attempts(), m.policy.MaxAttempts)
	case Connected:
		// link dropped since the last tick
		return fmt.Sprintf("Reconnecting to: %s", creds.Name)
	case Portal:
		return "Portal mode active"
	default:
		return "Not connected"
	}
}

func addrString(info radio.LinkInfo) string {
	if !info.Addr.IsValid() {
		return "unknown"
	}
	return info.Addr.String()
}
