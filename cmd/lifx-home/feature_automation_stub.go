//go:build no_automation

package main

import (
	"log/slog"

	"lifx-go-home/internal/automation"
	"lifx-go-home/internal/events"
	"lifx-go-home/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ automation.Light, _ *events.Bus, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
