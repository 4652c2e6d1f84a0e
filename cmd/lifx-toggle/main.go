// Lifx-toggle drives one light from the command line and exits. It reads the
// same config file as lifx-home.
//
// Usage:
//
//	lifx-toggle [config.yaml] [flags]
//	lifx-toggle [command] [config.yaml] [flags]
//
// Without a command it flips the light between full and zero brightness.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lifx-go-home/internal/lan"
	"lifx-go-home/internal/motion"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const (
	defaultConfig = "config.yaml"
	defaultSource = 123
)

// config is the subset of the lifx-home config this command needs.
type config struct {
	Light struct {
		Device string `yaml:"device"`
		Source uint32 `yaml:"source"`
	} `yaml:"light"`
	Devices   map[string]lan.DeviceConfig `yaml:"devices"`
	Transport struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"transport"`
}

// options holds the flags shared by every command.
type options struct {
	device  string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "lifx-toggle [config.yaml]",
		Short: "Toggle a LIFX light on the local network",
		Long: `Toggle a LIFX light between full and zero brightness.

The light is read first: if it is on and brighter than the dark level it is
dimmed to zero, otherwise it is set to full brightness and powered on.
Devices come from the devices section of the lifx-home config file.`,
		Example: `  # Toggle the configured light
  lifx-toggle

  # Toggle a named device from another config
  lifx-toggle /etc/lifx-home.yaml --device porch`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLight(cmd, opts, configArg(args, 0), func(ctx context.Context, ctrl *motion.Controller) error {
				level, err := ctrl.Toggle(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: brightness %d%%\n", ctrl.Device().Name, percent(level))
				return nil
			})
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&opts.device, "device", "d", "", "Device name (defaults to light.device)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log packets to stderr")

	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newSetCmd(opts))
	root.AddCommand(newPowerCmd(opts))
	root.AddCommand(newHubsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func configArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return defaultConfig
}

func percent(level uint16) int {
	return int(level) * 100 / 0xFFFF
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Light.Source == 0 {
		cfg.Light.Source = defaultSource
	}
	return &cfg, nil
}

// withLight builds a controller for the selected device and runs fn under a
// deadline of two transport timeouts.
func withLight(cmd *cobra.Command, opts *options, cfgPath string, fn func(context.Context, *motion.Controller) error) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	device, err := selectDevice(cfg, opts.device)
	if err != nil {
		return err
	}
	timeout := lan.DefaultTimeout
	if cfg.Transport.Timeout != "" {
		if timeout, err = time.ParseDuration(cfg.Transport.Timeout); err != nil {
			return fmt.Errorf("transport.timeout: %w", err)
		}
	}

	ctrl := motion.New(motion.Config{Device: device, Source: cfg.Light.Source}, lan.NewUDPTransport(timeout, logger), nil, logger)
	defer ctrl.Stop()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*timeout)
	defer cancel()
	return fn(ctx, ctrl)
}

// selectDevice resolves the flag, then light.device, then the only device.
func selectDevice(cfg *config, name string) (lan.Device, error) {
	registry, err := lan.NewRegistry(cfg.Devices)
	if err != nil {
		return lan.Device{}, err
	}
	if name == "" {
		name = cfg.Light.Device
	}
	if name == "" {
		if names := registry.Names(); len(names) == 1 {
			name = names[0]
		}
	}
	return registry.Lookup(name)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lifx-toggle %s\n", version)
		},
	}
}
