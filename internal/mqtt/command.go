//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"lifx-go-home/internal/lanproto"
	"lifx-go-home/internal/sensor"
)

// haScale is the brightness range Home Assistant uses.
const haScale = 254

// defaultTransition is used when a command carries no transition.
const defaultTransition = 500 * time.Millisecond

// command is a parsed `<prefix>/<light>/set` payload.
type command struct {
	State      string // ON, OFF, TOGGLE or empty
	Brightness *int   // 0-254
	Transition time.Duration
}

func parseCommand(payload []byte) (command, error) {
	var raw struct {
		State      string   `json:"state"`
		Brightness *float64 `json:"brightness"`
		Transition *float64 `json:"transition"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return command{}, fmt.Errorf("invalid command JSON: %w", err)
	}
	cmd := command{State: strings.ToUpper(raw.State), Transition: defaultTransition}
	switch cmd.State {
	case "", "ON", "OFF", "TOGGLE":
	default:
		return command{}, fmt.Errorf("unknown state %q", raw.State)
	}
	if raw.Brightness != nil {
		b := int(math.Round(*raw.Brightness))
		b = max(0, min(b, haScale))
		cmd.Brightness = &b
	}
	if raw.Transition != nil {
		if *raw.Transition < 0 {
			return command{}, errors.New("negative transition")
		}
		cmd.Transition = time.Duration(*raw.Transition * float64(time.Second))
	}
	if cmd.State == "" && cmd.Brightness == nil {
		return command{}, errors.New("command has neither state nor brightness")
	}
	return cmd, nil
}

// toLevel converts a 0-254 brightness to the light's 16-bit scale.
func toLevel(b int) uint16 {
	return uint16(math.Round(float64(b) * 0xFFFF / haScale))
}

// fromLevel converts a 16-bit brightness to 0-254.
func fromLevel(level uint16) int {
	return int(math.Round(float64(level) * haScale / 0xFFFF))
}

// applyCommand runs cmd against the light.
func applyCommand(ctx context.Context, l Light, cmd command) error {
	switch cmd.State {
	case "TOGGLE":
		_, err := l.Toggle(ctx)
		return err
	case "OFF":
		return l.SetPower(ctx, false, cmd.Transition)
	case "ON":
		if err := l.SetPower(ctx, true, cmd.Transition); err != nil {
			return err
		}
	}
	if cmd.Brightness != nil {
		return l.SetBrightness(ctx, toLevel(*cmd.Brightness), cmd.Transition)
	}
	return nil
}

// statePayload is what the light topic carries.
func statePayload(s lanproto.LightState, activity string) map[string]any {
	state := "OFF"
	if s.On() {
		state = "ON"
	}
	return map[string]any{
		"state":      state,
		"brightness": fromLevel(s.Brightness),
		"kelvin":     s.Kelvin,
		"activity":   activity,
	}
}

// parseOccupancy reads a motion topic payload. It accepts zigbee2mqtt style
// JSON ({"occupancy": true}) as well as the plain words sensor.ParseLine
// understands.
func parseOccupancy(payload []byte) (present, ok bool) {
	var msg struct {
		Occupancy *bool `json:"occupancy"`
	}
	if json.Unmarshal(payload, &msg) == nil && msg.Occupancy != nil {
		return *msg.Occupancy, true
	}
	return sensor.ParseLine(string(payload))
}
