package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"netmgr/internal/api"
	"netmgr/internal/clock"
	"netmgr/internal/config"
	"netmgr/internal/connmgr"
	"netmgr/internal/credstore"
	"netmgr/internal/dnsredirect"
	"netmgr/internal/kvstore"
	"netmgr/internal/logging"
	"netmgr/internal/portal"
	"netmgr/internal/radio"
	"netmgr/internal/scanner"
	"netmgr/internal/status"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// rebootExitCode asks the supervisor (systemd Restart=on-failure) to start
// the process again after a /reboot request
const rebootExitCode = 75

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("NETMGR_CONFIG"), "path to netmgr.yaml")
	envFile := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	// .env may set NETMGR_* overrides, so it is read before the config
	envErr := godotenv.Load(*envFile)
	if *configPath == "" {
		*configPath = os.Getenv("NETMGR_CONFIG")
	}

	bootLogger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}

	cfg, err := config.NewLoader(*configPath, bootLogger).Load()
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	bootLogger.Sync()

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer closeLog()

	if envErr != nil {
		logger.Warn("No .env file found, using environment variables", zap.String("path", *envFile))
	}

	logger.Info("Starting network manager",
		zap.String("version", cfg.HTTP.Version),
		zap.String("ap_ssid", cfg.AP.SSID))

	kv, err := openStore(cfg.Store, logger)
	if err != nil {
		logger.Fatal("Failed to open credential store", zap.Error(err))
	}
	defer kv.Close()

	apAddr, err := cfg.AP.Addr()
	if err != nil {
		logger.Fatal("Invalid access point address", zap.Error(err))
	}

	rad, closeRadio, err := openRadio(cfg.Radio, apAddr, logger)
	if err != nil {
		logger.Fatal("Failed to open radio", zap.Error(err))
	}
	defer closeRadio()

	hub := status.NewHub(logger)
	defer hub.Close()
	sink := status.Multi{status.NewLogSink(logger), hub}

	dns := dnsredirect.New(cfg.DNS.Listen, logger)
	defer dns.Stop()

	portalCtl := portal.NewController(rad, dns, portal.Config{
		SSID:       cfg.AP.SSID,
		Passphrase: cfg.AP.Passphrase,
		Channel:    cfg.AP.Channel,
		Address:    apAddr,
		Prefix:     cfg.AP.Prefix,
		TxPowerDBm: cfg.AP.TxPowerDBm,
	}, logger)

	clk := clock.NewRealClock()
	manager := connmgr.NewManager(connmgr.Deps{
		Station: rad,
		Portal:  portalCtl,
		Store:   credstore.New(kv, logger),
		Sink:    sink,
		Clock:   clk,
		Logger:  logger,
	}, connmgr.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		RetryDelay:  cfg.Retry.Delay,
	})

	scan := scanner.New(rad, clk, logger)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	var rebootRequested atomic.Bool

	// Routes are complete before anything is served
	server := api.NewServer(manager, scan, api.Options{
		Addr:      cfg.HTTP.Addr,
		PortalURL: cfg.PortalURL(),
		Version:   cfg.HTTP.Version,
		Events:    hub,
		Reboot: func() {
			rebootRequested.Store(true)
			cancel()
		},
	}, logger)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start provisioning server", zap.Error(err))
	}

	manager.Initialize()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		manager.Run(ctx, cfg.LoopInterval, scan)
	}()

	logger.Info("Network manager running. Press Ctrl+C to exit.")
	<-ctx.Done()
	if rebootRequested.Load() {
		logger.Info("Reboot requested")
	} else {
		logger.Info("Shutdown signal received")
	}

	<-loopDone
	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop provisioning server", zap.Error(err))
	}
	logger.Info("Network manager stopped")

	if rebootRequested.Load() {
		return rebootExitCode
	}
	return 0
}

func openStore(cfg config.StoreConfig, logger *zap.Logger) (kvstore.Store, error) {
	switch cfg.Backend {
	case config.StoreFile:
		return kvstore.NewFileStore(cfg.Dir, logger)

	case config.StoreRedis:
		cli := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cli.Ping(ctx).Err(); err != nil {
			// credentials stay in memory for the session until redis answers
			logger.Warn("Redis not reachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		return kvstore.NewRedisStore(cli, cfg.RedisPrefix, logger), nil

	case config.StoreKeyring:
		return kvstore.NewKeyringStore(cfg.KeyringService, logger), nil

	case config.StoreMemory:
		logger.Warn("Using in-memory credential store, credentials will not survive a restart")
		return kvstore.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func openRadio(cfg config.RadioConfig, apAddr netip.Addr, logger *zap.Logger) (radio.Radio, func(), error) {
	switch cfg.Backend {
	case config.RadioNetworkManager:
		nm, err := radio.NewNetworkManager(cfg.Interface, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NetworkManager: %w", err)
		}

		// shared connections start a dnsmasq that would hold port 53
		if cfg.DnsmasqSharedDir != "" {
			changed, err := radio.WriteDnsmasqDropIn(cfg.DnsmasqSharedDir, apAddr)
			if err != nil {
				logger.Warn("Failed to install dnsmasq drop-in, captive DNS may not bind",
					zap.String("dir", cfg.DnsmasqSharedDir),
					zap.Error(err))
			} else if changed {
				logger.Info("Installed dnsmasq drop-in for captive DNS", zap.String("dir", cfg.DnsmasqSharedDir))
			}
		}
		return nm, func() { nm.Close() }, nil

	case config.RadioSimulator:
		logger.Info("Using simulated radio", zap.Int("networks", len(cfg.Networks)))
		return radio.NewSimulator(cfg.Networks...), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown radio backend %q", cfg.Backend)
	}
}
