package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"lifx-go-home/internal/discovery"
	"lifx-go-home/internal/events"
	"lifx-go-home/internal/journal"
	"lifx-go-home/internal/lan"
	"lifx-go-home/internal/motion"
	"lifx-go-home/internal/poller"
	"lifx-go-home/internal/sensor"
	"lifx-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("lifx-go-home starting", "version", version)

	registry, err := lan.NewRegistry(cfg.deviceConfigs())
	if err != nil {
		logger.Error("device registry", "err", err)
		os.Exit(1)
	}
	device, err := registry.Lookup(cfg.Light.Device)
	if err != nil {
		logger.Error("light device", "err", err)
		os.Exit(1)
	}

	bus := events.NewBus(logger)

	jrnl, err := journal.Open(cfg.Journal.Path, cfg.Journal.MaxEntries, logger)
	if err != nil {
		logger.Error("open journal", "err", err)
		os.Exit(1)
	}
	defer jrnl.Close()
	unsubJournal := jrnl.Attach(bus)

	transport := lan.NewUDPTransport(cfg.timeout, logger)
	ctrl := motion.New(motion.Config{
		Device:          device,
		InactivityDelay: cfg.delay,
		FadeDuration:    cfg.fade,
		Source:          cfg.Light.Source,
	}, transport, bus, logger)
	logger.Info("controller ready", "device", device.Name, "addr", device.Addr(),
		"delay", cfg.delay, "fade", cfg.fade)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	poll, err := poller.New(poller.Config{Device: device.Name, Interval: cfg.pollInterval}, ctrl, ctrl, bus, logger)
	if err != nil {
		logger.Error("create poller", "err", err)
		os.Exit(1)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		poll.Run(ctx)
	}()

	if cfg.Sensor.Type == "serial" {
		pir, err := sensor.NewSerial(sensor.SerialConfig{Port: cfg.Sensor.Port, Baud: cfg.Sensor.Baud}, ctrl, logger)
		if err != nil {
			logger.Error("create serial sensor", "err", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pir.Run(ctx); err != nil {
				logger.Error("serial sensor", "err", err)
			}
		}()
	}

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(ctrl, bus, cfg, logger)

	webOpts := []web.ServerOption{
		web.WithRegistry(registry),
		web.WithJournal(jrnl),
		web.WithVersion(version),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(ctrl, bus, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(ctrl, bus, cfg, logger)

	var advert *discovery.Advertiser
	if cfg.Web.MDNS.Enabled {
		advert, err = discovery.Advertise(discovery.Advertisement{
			Instance: mdnsInstance(cfg),
			Port:     cfg.webPort,
			Version:  version,
			Device:   device.Name,
		}, logger)
		if err != nil {
			logger.Warn("mdns advertisement disabled", "err", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	cancel()
	wg.Wait()
	advert.Shutdown()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	ctrl.Stop()
	unsubJournal()

	logger.Info("goodbye")
}

// mdnsInstance is the configured instance name, or "lifx-home on <host>".
func mdnsInstance(cfg *Config) string {
	if cfg.Web.MDNS.Instance != "" {
		return cfg.Web.MDNS.Instance
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "lifx-home"
	}
	return "lifx-home on " + host
}
