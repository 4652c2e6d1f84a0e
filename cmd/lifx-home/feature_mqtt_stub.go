//go:build no_mqtt

package main

import (
	"log/slog"

	"lifx-go-home/internal/events"
	"lifx-go-home/internal/motion"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *motion.Controller, _ *events.Bus, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
