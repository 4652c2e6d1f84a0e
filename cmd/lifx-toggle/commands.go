package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lifx-go-home/internal/discovery"
	"lifx-go-home/internal/motion"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status [config.yaml]",
		Short: "Read the light's current state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLight(cmd, opts, configArg(args, 0), func(ctx context.Context, ctrl *motion.Controller) error {
				s, err := ctrl.QueryState(ctx)
				if err != nil {
					return err
				}
				power := "off"
				if s.On() {
					power = "on"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, brightness %d%%, hue %d, saturation %d, kelvin %d\n",
					ctrl.Device().Name, power, percent(s.Brightness), s.Hue, s.Saturation, s.Kelvin)
				return nil
			})
		},
	}
}

func newSetCmd(opts *options) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "set <percent> [config.yaml]",
		Short: "Set the light's brightness, keeping its color",
		Example: `  # Half brightness over two seconds
  lifx-toggle set 50 --duration 2s`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := parsePercent(args[0])
			if err != nil {
				return err
			}
			return withLight(cmd, opts, configArg(args, 1), func(ctx context.Context, ctrl *motion.Controller) error {
				if err := ctrl.SetBrightness(ctx, level, duration); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: brightness %d%%\n", ctrl.Device().Name, percent(level))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "Transition time")
	return cmd
}

// parsePercent converts "0".."100" (a trailing % is allowed) to a level.
func parsePercent(arg string) (uint16, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(arg, "%"), 64)
	if err != nil || v < 0 || v > 100 {
		return 0, fmt.Errorf("percent must be a number from 0 to 100, got %q", arg)
	}
	return uint16(math.Round(v / 100 * 0xFFFF)), nil
}

func newPowerCmd(opts *options) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:       "power <on|off> [config.yaml]",
		Short:     "Switch the light on or off",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch strings.ToLower(args[0]) {
			case "on":
				on = true
			case "off":
			default:
				return fmt.Errorf("power must be on or off, got %q", args[0])
			}
			return withLight(cmd, opts, configArg(args, 1), func(ctx context.Context, ctrl *motion.Controller) error {
				if err := ctrl.SetPower(ctx, on, duration); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: power %s\n", ctrl.Device().Name, strings.ToLower(args[0]))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "Transition time")
	return cmd
}

func newHubsCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "hubs",
		Short: "Find lifx-home hubs advertised on the network",
		Long: `Browse mDNS for lifx-home hubs that advertise their web API
(web.mdns.enabled in the hub config) and print their addresses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hubs, err := discovery.Browse(cmd.Context(), timeout)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(hubs) == 0 {
				fmt.Fprintln(out, "No hubs found.")
				return nil
			}
			for _, h := range hubs {
				fmt.Fprintf(out, "%s\t%s", h.Instance, h.URL())
				if h.Device != "" {
					fmt.Fprintf(out, "\tdevice=%s", h.Device)
				}
				if h.Version != "" {
					fmt.Fprintf(out, "\tversion=%s", h.Version)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultScanTimeout, "How long to listen for answers")
	return cmd
}
