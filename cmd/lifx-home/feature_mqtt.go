//go:build !no_mqtt

package main

import (
	"log/slog"

	"lifx-go-home/internal/events"
	"lifx-go-home/internal/motion"
	mqttbridge "lifx-go-home/internal/mqtt"
	"lifx-go-home/internal/sensor"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(ctrl *motion.Controller, bus *events.Bus, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	var motionHandler sensor.Handler
	if cfg.MQTT.MotionTopic != "" {
		motionHandler = ctrl
	}
	bridge, err := mqttbridge.NewBridge(ctrl, ctrl.Device().Name, bus, motionHandler, mqttbridge.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		MotionTopic: cfg.MQTT.MotionTopic,
	}, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}
	}
	bridge.Start()
	return &mqttStopper{bridge: bridge}
}
