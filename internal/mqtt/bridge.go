//go:build !no_mqtt

// Package mqtt publishes the light and its motion state to an MQTT broker
// with Home Assistant discovery, and accepts commands and motion from it.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"lifx-go-home/internal/events"
	"lifx-go-home/internal/lanproto"
	"lifx-go-home/internal/motion"
	"lifx-go-home/internal/sensor"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	// MotionTopic, when set, is subscribed as an extra motion source.
	MotionTopic string
}

// Light is the part of the controller the bridge drives.
type Light interface {
	Status() motion.Status
	Toggle(ctx context.Context) (uint16, error)
	SetBrightness(ctx context.Context, level uint16, d time.Duration) error
	SetPower(ctx context.Context, on bool, d time.Duration) error
}

// Bridge connects the light controller to MQTT with HA autodiscovery.
type Bridge struct {
	client pahomqtt.Client
	light  Light
	name   string
	bus    *events.Bus
	motion *sensor.Edges
	cfg    Config
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	last *lanproto.LightState
}

// NewBridge creates and connects an MQTT bridge. motionHandler receives
// edges from cfg.MotionTopic and may be nil when no topic is set.
func NewBridge(light Light, name string, bus *events.Bus, motionHandler sensor.Handler, cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		light:  light,
		name:   name,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With("component", "mqtt"),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.MotionTopic != "" && motionHandler != nil {
		b.motion = sensor.NewEdges(motionHandler)
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("lifx-go-home-"+topicName(name)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishDiscovery()
			b.subscribe()
			b.publishStatus()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to controller events and begins publishing.
func (b *Bridge) Start() {
	b.unsub = b.bus.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.cfg.TopicPrefix, "light", b.name)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) stateTopic() string {
	return b.cfg.TopicPrefix + "/" + topicName(b.name)
}

func (b *Bridge) handleEvent(e events.Event) {
	switch e.Type {
	case events.StatePolled:
		s, ok := polledState(e)
		if !ok {
			return
		}
		b.mu.Lock()
		b.last = &s
		b.mu.Unlock()
		b.publishStatus()
	case events.Dimmed, events.Restored, events.FadeSettled:
		b.publishStatus()
	case events.MotionDetected:
		b.publish(b.stateTopic()+"/motion", mustJSON(map[string]any{"occupancy": true}), true)
	case events.MotionCleared:
		b.publish(b.stateTopic()+"/motion", mustJSON(map[string]any{"occupancy": false}), true)
	}
}

// polledState rebuilds a reading from a state_polled event.
func polledState(e events.Event) (lanproto.LightState, bool) {
	br, ok1 := e.Data["brightness"].(uint16)
	pw, ok2 := e.Data["power"].(uint16)
	if !ok1 || !ok2 {
		return lanproto.LightState{}, false
	}
	s := lanproto.LightState{Brightness: br, Power: pw}
	if k, ok := e.Data["kelvin"].(uint16); ok {
		s.Kelvin = k
	}
	return s, true
}

func (b *Bridge) publishStatus() {
	b.mu.Lock()
	last := b.last
	b.mu.Unlock()
	if last == nil {
		return
	}
	b.publish(b.stateTopic(), mustJSON(statePayload(*last, b.light.Status().Activity)), true)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.cfg.TopicPrefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publishDiscovery() {
	for _, msg := range buildDiscovery(b.name, b.cfg.TopicPrefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "name", b.name)
}

func (b *Bridge) subscribe() {
	b.client.Subscribe(b.stateTopic()+"/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Payload())
	})
	if b.motion != nil {
		b.client.Subscribe(b.cfg.MotionTopic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleMotion(msg.Payload())
		})
	}
}

func (b *Bridge) handleCommand(payload []byte) {
	cmd, err := parseCommand(payload)
	if err != nil {
		b.logger.Warn("invalid command", "err", err)
		return
	}
	// Paho delivers messages in order on one goroutine; do not block it on
	// a UDP round trip.
	go func() {
		ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
		defer cancel()
		if err := applyCommand(ctx, b.light, cmd); err != nil {
			b.logger.Warn("command failed", "state", cmd.State, "err", err)
		}
	}()
}

func (b *Bridge) handleMotion(payload []byte) {
	present, ok := parseOccupancy(payload)
	if !ok {
		b.logger.Debug("ignoring motion payload", "payload", string(payload))
		return
	}
	b.motion.Set(present)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
