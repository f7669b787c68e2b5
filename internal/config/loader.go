package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"netmgr/internal/radio"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	StoreFile    = "file"
	StoreRedis   = "redis"
	StoreKeyring = "keyring"
	StoreMemory  = "memory"
)

// Radio backends
const (
	RadioSimulator      = "simulator"
	RadioNetworkManager = "networkmanager"
)

// Config is the netmgr.yaml structure
type Config struct {
	AP           APConfig      `yaml:"ap"`
	DNS          DNSConfig     `yaml:"dns"`
	HTTP         HTTPConfig    `yaml:"http"`
	Retry        RetryConfig   `yaml:"retry"`
	LoopInterval time.Duration `yaml:"loop_interval"`
	Store        StoreConfig   `yaml:"store"`
	Radio        RadioConfig   `yaml:"radio"`
	Log          LogConfig     `yaml:"log"`
}

// APConfig describes the provisioning access point
type APConfig struct {
	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`
	Channel    int    `yaml:"channel"`
	Address    string `yaml:"address"`
	Prefix     int    `yaml:"prefix"`
	TxPowerDBm int    `yaml:"tx_power_dbm"`
}

// Addr parses Address
func (a APConfig) Addr() (netip.Addr, error) {
	addr, err := netip.ParseAddr(a.Address)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid ap address %q: %w", a.Address, err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("ap address %q is not IPv4", a.Address)
	}
	return addr, nil
}

// PortalURL is the provisioning root as seen by captive clients: the access
// point address plus the HTTP listener's port when it is not 80.
func (c *Config) PortalURL() string {
	_, port, err := net.SplitHostPort(c.HTTP.Addr)
	if err != nil || port == "" || port == "80" {
		return "http://" + c.AP.Address + "/"
	}
	return "http://" + net.JoinHostPort(c.AP.Address, port) + "/"
}

// DNSConfig configures the captive redirector
type DNSConfig struct {
	Listen string `yaml:"listen"`
}

// HTTPConfig configures the provisioning server
type HTTPConfig struct {
	Addr    string `yaml:"addr"`
	Version string `yaml:"version"`
}

// RetryConfig bounds association attempts
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// StoreConfig selects the credential persistence backend
type StoreConfig struct {
	Backend        string `yaml:"backend"`
	Dir            string `yaml:"dir"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisPrefix    string `yaml:"redis_prefix"`
	KeyringService string `yaml:"keyring_service"`
}

// RadioConfig selects the radio backend
type RadioConfig struct {
	Backend   string `yaml:"backend"`
	Interface string `yaml:"interface"`
	// DnsmasqSharedDir receives a drop-in that moves NetworkManager's shared
	// dnsmasq off port 53; empty leaves dnsmasq alone
	DnsmasqSharedDir string `yaml:"dnsmasq_shared_dir"`
	// Networks seeds the simulator
	Networks []radio.Network `yaml:"networks"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
}

// Default returns the settings of a factory-fresh appliance
func Default() *Config {
	return &Config{
		AP: APConfig{
			SSID:       "X-Sound Setup",
			Channel:    6,
			Address:    "192.168.4.1",
			Prefix:     24,
			TxPowerDBm: 15,
		},
		DNS:  DNSConfig{Listen: ":53"},
		HTTP: HTTPConfig{Addr: ":80", Version: "netmgr/dev"},
		Retry: RetryConfig{
			MaxAttempts: 20,
			Delay:       3 * time.Second,
		},
		LoopInterval: 10 * time.Millisecond,
		Store: StoreConfig{
			Backend:        StoreFile,
			Dir:            "/var/lib/netmgr",
			RedisAddr:      "localhost:6379",
			RedisPrefix:    "netmgr",
			KeyringService: "netmgr",
		},
		Radio: RadioConfig{
			Backend:          RadioSimulator,
			Interface:        "wlan0",
			DnsmasqSharedDir: radio.DefaultDnsmasqSharedDir,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Loader reads the config file and applies environment overrides
type Loader struct {
	path   string
	logger *zap.Logger
}

// NewLoader creates a loader. An empty path means defaults plus environment.
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{
		path:   path,
		logger: logger,
	}
}

// Load builds and validates the configuration
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		l.logger.Info("Loading configuration file", zap.String("path", l.path))

		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else {
		l.logger.Info("No configuration file given, using defaults")
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l.logger.Info("Configuration loaded",
		zap.String("ap_ssid", cfg.AP.SSID),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("radio_backend", cfg.Radio.Backend))
	return cfg, nil
}

func (l *Loader) applyEnv(cfg *Config) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"NETMGR_HTTP_ADDR", &cfg.HTTP.Addr},
		{"NETMGR_STORE_BACKEND", &cfg.Store.Backend},
		{"NETMGR_STORE_DIR", &cfg.Store.Dir},
		{"NETMGR_REDIS_ADDR", &cfg.Store.RedisAddr},
		{"NETMGR_RADIO_BACKEND", &cfg.Radio.Backend},
		{"NETMGR_RADIO_INTERFACE", &cfg.Radio.Interface},
		{"NETMGR_LOG_LEVEL", &cfg.Log.Level},
		{"NETMGR_LOG_FILE", &cfg.Log.File},
	}

	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			l.logger.Debug("Environment override", zap.String("key", o.key))
			*o.target = v
		}
	}
}

// Validate checks the values the rest of the process relies on
func (c *Config) Validate() error {
	var errs []error

	if c.AP.SSID == "" {
		errs = append(errs, errors.New("ap.ssid must not be empty"))
	}
	if n := len(c.AP.Passphrase); n != 0 && (n < 8 || n > 63) {
		errs = append(errs, fmt.Errorf("ap.passphrase must be empty or 8-63 characters, got %d", n))
	}
	if _, err := c.AP.Addr(); err != nil {
		errs = append(errs, err)
	}
	if c.AP.Prefix < 1 || c.AP.Prefix > 30 {
		errs = append(errs, fmt.Errorf("ap.prefix must be between 1 and 30, got %d", c.AP.Prefix))
	}
	if c.AP.Channel < 1 || c.AP.Channel > 14 {
		errs = append(errs, fmt.Errorf("ap.channel must be between 1 and 14, got %d", c.AP.Channel))
	}
	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		errs = append(errs, fmt.Errorf("invalid http.addr %q: %w", c.HTTP.Addr, err))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.Delay <= 0 {
		errs = append(errs, fmt.Errorf("retry.delay must be positive, got %s", c.Retry.Delay))
	}
	if c.LoopInterval <= 0 {
		errs = append(errs, fmt.Errorf("loop_interval must be positive, got %s", c.LoopInterval))
	}

	switch c.Store.Backend {
	case StoreFile:
		if strings.TrimSpace(c.Store.Dir) == "" {
			errs = append(errs, errors.New("store.dir is required for the file backend"))
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	case StoreKeyring, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	switch c.Radio.Backend {
	case RadioSimulator, RadioNetworkManager:
	default:
		errs = append(errs, fmt.Errorf("unknown radio.backend %q", c.Radio.Backend))
	}

	return errors.Join(errs...)
}
