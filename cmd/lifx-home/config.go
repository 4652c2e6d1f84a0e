package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lifx-go-home/internal/lan"
)

const defaultSource = 123

type Config struct {
	Light struct {
		Device string `yaml:"device"`
		Source uint32 `yaml:"source"` // client id stamped on every packet
	} `yaml:"light"`
	Devices map[string]struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"devices"`
	Motion struct {
		Delay string `yaml:"delay"`
		Fade  string `yaml:"fade"`
	} `yaml:"motion"`
	Sensor struct {
		Type string `yaml:"type"` // "none" or "serial"
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"sensor"`
	Poll struct {
		Interval string `yaml:"interval"`
	} `yaml:"poll"`
	Transport struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"transport"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		MDNS           struct {
			Enabled  bool   `yaml:"enabled"`
			Instance string `yaml:"instance"` // defaults to the host name
		} `yaml:"mdns"`
	} `yaml:"web"`
	Journal struct {
		Path       string `yaml:"path"`
		MaxEntries int    `yaml:"max_entries"`
	} `yaml:"journal"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		MotionTopic string `yaml:"motion_topic"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`

	// Set by validate.
	delay        time.Duration
	fade         time.Duration
	pollInterval time.Duration
	timeout      time.Duration
	webPort      int
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Light.Source == 0 {
		cfg.Light.Source = defaultSource
	}
	if cfg.Motion.Delay == "" {
		cfg.Motion.Delay = "5m"
	}
	if cfg.Motion.Fade == "" {
		cfg.Motion.Fade = "5m"
	}
	if cfg.Sensor.Type == "" {
		cfg.Sensor.Type = "none"
	}
	if cfg.Poll.Interval == "" {
		cfg.Poll.Interval = "5s"
	}
	if cfg.Transport.Timeout == "" {
		cfg.Transport.Timeout = "5s"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "lifx-home.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "lifx2mqtt"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("devices: at least one device is required")
	}
	if c.Light.Device == "" {
		if len(c.Devices) != 1 {
			return fmt.Errorf("light.device is required with more than one device")
		}
		for name := range c.Devices {
			c.Light.Device = name
		}
	}
	if _, ok := c.Devices[c.Light.Device]; !ok {
		return fmt.Errorf("light.device %q is not in devices", c.Light.Device)
	}

	for _, d := range []struct {
		field string
		value string
		dst   *time.Duration
		min   time.Duration
	}{
		{"motion.delay", c.Motion.Delay, &c.delay, 0},
		{"motion.fade", c.Motion.Fade, &c.fade, 0},
		{"poll.interval", c.Poll.Interval, &c.pollInterval, 100 * time.Millisecond},
		{"transport.timeout", c.Transport.Timeout, &c.timeout, time.Millisecond},
	} {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.field, err)
		}
		if v < d.min {
			return fmt.Errorf("%s must be at least %s, got %s", d.field, d.min, v)
		}
		*d.dst = v
	}

	switch c.Sensor.Type {
	case "none":
	case "serial":
		if c.Sensor.Port == "" {
			return fmt.Errorf("sensor.port is required for a serial sensor")
		}
	default:
		return fmt.Errorf("unknown sensor.type %q (supported: none, serial)", c.Sensor.Type)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Journal.MaxEntries < 0 {
		return fmt.Errorf("journal.max_entries must be >= 0")
	}
	if c.Web.MDNS.Enabled {
		port, err := listenPort(c.Web.Listen)
		if err != nil {
			return fmt.Errorf("web.listen: %w", err)
		}
		c.webPort = port
	}
	return nil
}

// listenPort extracts the numeric port of a listen address.
func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", p)
	}
	return port, nil
}

// deviceConfigs converts the devices section for lan.NewRegistry.
func (c *Config) deviceConfigs() map[string]lan.DeviceConfig {
	out := make(map[string]lan.DeviceConfig, len(c.Devices))
	for name, d := range c.Devices {
		out[name] = lan.DeviceConfig{Address: d.Address, Port: d.Port}
	}
	return out
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
