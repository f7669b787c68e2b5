// Package portal brings up the provisioning access point and the captive DNS
// redirector that points every client at it.
//
// HTTP routes are not touched here. The provisioning server builds its full
// route table once at startup and keeps serving across portal restarts and
// after the appliance joins a real network.
package portal

import (
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"

	"netmgr/internal/radio"

	"go.uber.org/zap"
)

// ErrBringup is returned when the access point could not be started
var ErrBringup = errors.New("access point bring-up failed")

// Config describes the provisioning access point
type Config struct {
	SSID       string
	Passphrase string
	Channel    int
	Address    netip.Addr
	Prefix     int
	// TxPowerDBm caps transmit power while the radio runs AP and station at once
	TxPowerDBm int
}

// Redirector is the captive DNS responder
type Redirector interface {
	Start(answer netip.Addr) error
	Stop() error
	ProcessNext() (bool, error)
}

// Controller owns the access point lifecycle
type Controller struct {
	ap     radio.AccessPoint
	dns    Redirector
	cfg    Config
	logger *zap.Logger

	active atomic.Bool
}

// NewController creates a controller. Nothing is started until Start.
func NewController(ap radio.AccessPoint, dns Redirector, cfg Config, logger *zap.Logger) *Controller {
	return &Controller{
		ap:     ap,
		dns:    dns,
		cfg:    cfg,
		logger: logger.Named("portal"),
	}
}

// Start (re)starts the access point and the DNS redirector. A failing tx
// power cap is logged and ignored; a failing access point returns ErrBringup.
func (c *Controller) Start() error {
	c.logger.Info("Starting portal mode", zap.String("ssid", c.cfg.SSID))

	if err := c.ap.Disconnect(); err != nil {
		c.logger.Debug("Disconnect before portal failed", zap.Error(err))
	}

	// AP and station together so scans keep running while clients are attached
	if err := c.ap.SetMode(radio.ModeAccessPointStation); err != nil {
		c.active.Store(false)
		return fmt.Errorf("%w: set mode: %v", ErrBringup, err)
	}

	apCfg := radio.APConfig{
		Address: c.cfg.Address,
		Gateway: c.cfg.Address,
		Prefix:  c.cfg.Prefix,
	}
	if err := c.ap.ConfigureAP(apCfg); err != nil {
		c.active.Store(false)
		return fmt.Errorf("%w: configure: %v", ErrBringup, err)
	}

	if err := c.ap.SetTxPower(c.cfg.TxPowerDBm); err != nil {
		if errors.Is(err, radio.ErrUnsupported) {
			c.logger.Debug("Radio backend cannot cap tx power")
		} else {
			c.logger.Warn("Failed to set tx power", zap.Int("dbm", c.cfg.TxPowerDBm), zap.Error(err))
		}
	}

	if err := c.ap.StartAP(c.cfg.SSID, c.cfg.Passphrase, c.cfg.Channel); err != nil {
		c.active.Store(false)
		return fmt.Errorf("%w: %v", ErrBringup, err)
	}

	addr := c.ap.APAddr()
	if !addr.IsValid() {
		addr = c.cfg.Address
	}

	c.active.Store(true)

	// The AP is usable without captive DNS; clients can still browse to the address
	if err := c.dns.Start(addr); err != nil {
		c.logger.Error("Failed to start DNS redirector", zap.Error(err))
	}

	c.logger.Info("Portal mode active",
		zap.String("ssid", c.cfg.SSID),
		zap.String("address", addr.String()),
		zap.Int("channel", c.cfg.Channel))
	return nil
}

// Stop halts the DNS redirector only. The access point is replaced when the
// radio switches to station mode, and HTTP keeps serving.
func (c *Controller) Stop() {
	if err := c.dns.Stop(); err != nil {
		c.logger.Warn("Failed to stop DNS redirector", zap.Error(err))
	}
	c.active.Store(false)
}

// ProcessTick pumps one unit of DNS work. It is a no-op while inactive.
func (c *Controller) ProcessTick() {
	if !c.active.Load() {
		return
	}
	if _, err := c.dns.ProcessNext(); err != nil {
		c.logger.Debug("DNS redirector error", zap.Error(err))
	}
}

// Active reports whether the portal is up
func (c *Controller) Active() bool {
	return c.active.Load()
}
