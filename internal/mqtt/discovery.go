//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/lifx_kitchen/light/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic,omitempty"`
	AvailabilityTopic   string   `json:"availability_topic"`
	ValueTemplate       string   `json:"value_template,omitempty"`
	DeviceClass         string   `json:"device_class,omitempty"`
	PayloadOn           string   `json:"payload_on,omitempty"`
	PayloadOff          string   `json:"payload_off,omitempty"`
	BrightnessScale     int      `json:"brightness_scale,omitempty"`
	SupportedColorModes []string `json:"supported_color_modes,omitempty"`
	Schema              string   `json:"schema,omitempty"`
	Device              haDevice `json:"device"`
}

// topicName lowercases a device name and keeps only characters safe for
// MQTT topics.
func topicName(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(name))
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(name string) string {
	return "lifx_" + topicName(name)
}

// buildDiscovery generates HA discovery messages for a light: the light
// itself, the motion sensor driving it and its controller activity.
func buildDiscovery(name, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + topicName(name)
	nodeID := deviceIdentifier(name)

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "LIFX",
		Model:        "LAN light",
		Name:         name,
	}

	light := haDiscovery{
		Name:                name,
		UniqueID:            nodeID + "_light",
		StateTopic:          stateTopic,
		CommandTopic:        stateTopic + "/set",
		AvailabilityTopic:   avail,
		SupportedColorModes: []string{"brightness"},
		BrightnessScale:     254,
		Schema:              "json",
		Device:              haDev,
	}
	motion := haDiscovery{
		Name:              name + " Motion",
		UniqueID:          nodeID + "_motion",
		StateTopic:        stateTopic + "/motion",
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ 'ON' if value_json.occupancy else 'OFF' }}",
		DeviceClass:       "motion",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            haDev,
	}
	activity := haDiscovery{
		Name:              name + " Activity",
		UniqueID:          nodeID + "_activity",
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ value_json.activity }}",
		Device:            haDev,
	}

	return []discoveryMsg{
		{Topic: fmt.Sprintf("homeassistant/light/%s/light/config", nodeID), Payload: mustJSON(light)},
		{Topic: fmt.Sprintf("homeassistant/binary_sensor/%s/motion/config", nodeID), Payload: mustJSON(motion)},
		{Topic: fmt.Sprintf("homeassistant/sensor/%s/activity/config", nodeID), Payload: mustJSON(activity)},
	}
}
