package lanproto

import (
	"fmt"
	"time"
)

// Message types.
const (
	TypeGetColor      uint16 = 101
	TypeSetColor      uint16 = 102
	TypeState         uint16 = 107
	TypeSetLightPower uint16 = 117
)

const (
	// ProtocolVersion is the fixed protocol number carried in every frame.
	ProtocolVersion = 1024

	// HeaderLen is the length of frame + frame address + protocol header.
	HeaderLen = 36

	// MaxDuration is the longest transition the 32-bit millisecond field holds.
	MaxDuration = 4294967 * time.Second

	// PowerOn and PowerOff are the two valid power levels.
	PowerOn  uint16 = 0xFFFF
	PowerOff uint16 = 0x0000
)

// Header holds the per-packet values shared by every message.
type Header struct {
	Source      uint32
	Sequence    uint8
	Tagged      bool
	AckRequired bool
	ResRequired bool
}

// HSBK is a color. Fields are wide ints so that out-of-range values reach the
// encoder and are rejected there rather than wrapping silently.
type HSBK struct {
	Hue        int // 0-65535, 360 degrees scaled
	Saturation int // 0-65535
	Brightness int // 0-65535
	Kelvin     int // 2500-9000
}

func (p *Packet) setHeaders(msgType uint16, h Header) error {
	// origin, tagged, addressable, protocol
	protocol, err := PackBits(
		BitField{0, 2},
		BitField{boolBit(h.Tagged), 1},
		BitField{1, 1},
		BitField{ProtocolVersion, 12},
	)
	if err != nil {
		return err
	}
	// reserved, ack_required, res_required
	resp, err := PackBits(
		BitField{0, 6},
		BitField{boolBit(h.AckRequired), 1},
		BitField{boolBit(h.ResRequired), 1},
	)
	if err != nil {
		return err
	}

	steps := []struct {
		s     *Section
		name  string
		value uint64
		size  int
	}{
		{&p.Frame, "protocol", protocol, 2},
		{&p.Frame, "source", uint64(h.Source), 4},
		{&p.FrameAddress, "target", 0, 8},
		{&p.FrameAddress, "reserved", 0, 6},
		{&p.FrameAddress, "resp", resp, 1},
		{&p.FrameAddress, "sequence", uint64(h.Sequence), 1},
		{&p.ProtocolHeader, "reserved", 0, 8},
		{&p.ProtocolHeader, fieldMessageType, uint64(msgType), 2},
		{&p.ProtocolHeader, "reserved", 0, 2},
	}
	for _, st := range steps {
		if err := st.s.Append(st.name, st.value, st.size); err != nil {
			return err
		}
	}
	return nil
}

// BuildGetState returns a finalized GetColor packet. A response is always
// requested.
func BuildGetState(h Header) (*Packet, error) {
	h.ResRequired = true
	p := &Packet{}
	if err := p.setHeaders(TypeGetColor, h); err != nil {
		return nil, err
	}
	if err := p.FinalizeSize(); err != nil {
		return nil, err
	}
	return p, nil
}

// BuildSetColor returns a finalized SetColor packet transitioning to c over d.
func BuildSetColor(c HSBK, d time.Duration, h Header) (*Packet, error) {
	ms, err := durationMillis(d)
	if err != nil {
		return nil, err
	}
	p := &Packet{}
	if err := p.setHeaders(TypeSetColor, h); err != nil {
		return nil, err
	}
	if err := p.Payload.Append("reserved", 0, 1); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"hue", c.Hue},
		{"saturation", c.Saturation},
		{"brightness", c.Brightness},
		{"kelvin", c.Kelvin},
	} {
		b, err := EncodeInt(int64(f.value), 16)
		if err != nil {
			return nil, fmt.Errorf("set color %s: %w", f.name, err)
		}
		if err := p.Payload.AppendBytes(f.name, b, 2); err != nil {
			return nil, err
		}
	}
	if err := p.Payload.Append("duration", ms, 4); err != nil {
		return nil, err
	}
	if err := p.FinalizeSize(); err != nil {
		return nil, err
	}
	return p, nil
}

// BuildSetPower returns a finalized SetLightPower packet.
func BuildSetPower(on bool, d time.Duration, h Header) (*Packet, error) {
	ms, err := durationMillis(d)
	if err != nil {
		return nil, err
	}
	p := &Packet{}
	if err := p.setHeaders(TypeSetLightPower, h); err != nil {
		return nil, err
	}
	level := PowerOff
	if on {
		level = PowerOn
	}
	if err := p.Payload.Append("level", uint64(level), 2); err != nil {
		return nil, err
	}
	if err := p.Payload.Append("duration", ms, 4); err != nil {
		return nil, err
	}
	if err := p.FinalizeSize(); err != nil {
		return nil, err
	}
	return p, nil
}

// durationMillis rounds d to whole milliseconds and checks it fits 32 bits.
func durationMillis(d time.Duration) (uint64, error) {
	if d < 0 {
		return 0, fmt.Errorf("%w: negative duration %s", ErrEncoding, d)
	}
	ms := d.Round(time.Millisecond) / time.Millisecond
	if uint64(ms) > maxValue(32) {
		return 0, fmt.Errorf("%w: duration %s exceeds %s", ErrEncoding, d, MaxDuration)
	}
	return uint64(ms), nil
}

// LabelLen is the size of the label field a bulb sends in a State reply.
const LabelLen = 32

// BuildState returns a finalized State (107) packet as a bulb would send it.
// Only the first four label bytes are significant to DecodeStateResponse.
func BuildState(s LightState, h Header) (*Packet, error) {
	p := &Packet{}
	if err := p.setHeaders(TypeState, h); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name  string
		value uint64
	}{
		{"hue", uint64(s.Hue)},
		{"saturation", uint64(s.Saturation)},
		{"brightness", uint64(s.Brightness)},
		{"kelvin", uint64(s.Kelvin)},
		{"reserved", 0},
		{"power", uint64(s.Power)},
	} {
		if err := p.Payload.Append(f.name, f.value, 2); err != nil {
			return nil, err
		}
	}
	label, err := Encode(uint64(s.LabelRaw), 32)
	if err != nil {
		return nil, err
	}
	if err := p.Payload.AppendBytes("label", label, LabelLen); err != nil {
		return nil, err
	}
	if err := p.Payload.Append("reserved", 0, 8); err != nil {
		return nil, err
	}
	if err := p.FinalizeSize(); err != nil {
		return nil, err
	}
	return p, nil
}
