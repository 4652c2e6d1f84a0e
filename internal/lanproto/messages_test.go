package lanproto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

// Captured "all on" datagram: SetLightPower on over 1s, tagged, res_required.
var allOnDatagram = []byte{
	0x2a, 0x00, 0x00, 0x34, 0xb4, 0x3c, 0xf0, 0x84,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x0d,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x75, 0x00, 0x00, 0x00, 0xff, 0xff, 0xe8, 0x03,
	0x00, 0x00,
}

func withSchema(payload []SchemaField) []SchemaField {
	out := append([]SchemaField{}, HeaderSchema...)
	return append(out, payload...)
}

func TestSetPowerMatchesCapture(t *testing.T) {
	p, err := BuildSetPower(true, time.Second, Header{
		Source:      0x84F03CB4,
		Sequence:    0x0d,
		Tagged:      true,
		ResRequired: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Bytes(); !bytes.Equal(got, allOnDatagram) {
		t.Errorf("datagram =\n%X\nwant\n%X", got, allOnDatagram)
	}
}

func TestSizeFieldMatchesLength(t *testing.T) {
	getState, err := BuildGetState(Header{})
	if err != nil {
		t.Fatal(err)
	}
	setColor, err := BuildSetColor(HSBK{Hue: 1, Saturation: 2, Brightness: 3, Kelvin: 3500}, 0, Header{})
	if err != nil {
		t.Fatal(err)
	}
	setPower, err := BuildSetPower(false, 0, Header{})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		p    *Packet
		want int
	}{
		{"get state", getState, HeaderLen},
		{"set color", setColor, HeaderLen + 13},
		{"set power", setPower, HeaderLen + 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.p.Bytes()
			if len(data) != tt.want {
				t.Errorf("len = %d, want %d", len(data), tt.want)
			}
			size, err := Decode(data[:2], 16)
			if err != nil {
				t.Fatal(err)
			}
			if int(size) != len(data) {
				t.Errorf("size field = %d, serialized length = %d", size, len(data))
			}
			if tt.p.Len() != len(data) {
				t.Errorf("Len() = %d, want %d", tt.p.Len(), len(data))
			}
		})
	}
}

func TestFinalizeSizeReplaces(t *testing.T) {
	p, err := BuildGetState(Header{})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.FinalizeSize(); err != nil {
		t.Fatal(err)
	}
	if p.Len() != HeaderLen {
		t.Errorf("Len() after second finalize = %d, want %d", p.Len(), HeaderLen)
	}
	if n := len(p.Frame.Fields()); n != 3 {
		t.Errorf("frame fields = %d, want 3", n)
	}
}

func TestGetStateRoundTrip(t *testing.T) {
	p, err := BuildGetState(Header{Source: 123, Sequence: 7})
	if err != nil {
		t.Fatal(err)
	}
	m, err := Deconstruct(p.Bytes(), HeaderSchema)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]uint64{
		"size":         HeaderLen,
		"origin":       0,
		"tagged":       0,
		"addressable":  1,
		"protocol":     ProtocolVersion,
		"source":       123,
		"target":       0,
		"ack_required": 0,
		"res_required": 1,
		"sequence":     7,
		"type":         uint64(TypeGetColor),
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %d, want %d", k, m[k], v)
		}
	}
	mt, err := p.MessageType()
	if err != nil {
		t.Fatal(err)
	}
	if mt != TypeGetColor {
		t.Errorf("MessageType() = %d, want %d", mt, TypeGetColor)
	}
}

func TestGetStateFullWidthHeader(t *testing.T) {
	p, err := BuildGetState(Header{Source: 0xFFFFFFFF, Sequence: 0xFF, Tagged: true, AckRequired: true})
	if err != nil {
		t.Fatalf("BuildGetState: %v", err)
	}
	m, err := Deconstruct(p.Bytes(), HeaderSchema)
	if err != nil {
		t.Fatal(err)
	}
	if m["source"] != 0xFFFFFFFF || m["sequence"] != 0xFF || m["tagged"] != 1 {
		t.Errorf("header = %v", m)
	}
	if m["ack_required"] != 1 || m["res_required"] != 1 {
		t.Errorf("resp flags ack=%d res=%d, want 1 1", m["ack_required"], m["res_required"])
	}
}

func TestSetColorRoundTrip(t *testing.T) {
	colors := []HSBK{
		{Hue: 0, Saturation: 0, Brightness: 0, Kelvin: 2500},
		{Hue: 65535, Saturation: 65535, Brightness: 65535, Kelvin: 9000},
		{Hue: 21845, Saturation: 32768, Brightness: 655, Kelvin: 3500},
	}
	durations := []time.Duration{0, 100 * time.Millisecond, 300 * time.Second, MaxDuration}

	for _, c := range colors {
		for _, d := range durations {
			p, err := BuildSetColor(c, d, Header{Source: 42, Sequence: 200, AckRequired: true})
			if err != nil {
				t.Fatalf("BuildSetColor(%+v, %s): %v", c, d, err)
			}
			m, err := Deconstruct(p.Bytes(), withSchema(SetColorSchema))
			if err != nil {
				t.Fatal(err)
			}
			if m["type"] != uint64(TypeSetColor) {
				t.Errorf("type = %d", m["type"])
			}
			if int(m["hue"]) != c.Hue || int(m["saturation"]) != c.Saturation ||
				int(m["brightness"]) != c.Brightness || int(m["kelvin"]) != c.Kelvin {
				t.Errorf("decoded %v, want %+v", m, c)
			}
			if m["duration"] != uint64(d/time.Millisecond) {
				t.Errorf("duration = %d ms, want %d", m["duration"], d/time.Millisecond)
			}
			if m["ack_required"] != 1 || m["res_required"] != 0 {
				t.Errorf("resp flags ack=%d res=%d, want 1 0", m["ack_required"], m["res_required"])
			}
			if m["source"] != 42 || m["sequence"] != 200 {
				t.Errorf("source=%d sequence=%d", m["source"], m["sequence"])
			}
		}
	}
}

func TestSetColorRoundsDuration(t *testing.T) {
	p, err := BuildSetColor(HSBK{Kelvin: 3500}, 1500*time.Microsecond, Header{})
	if err != nil {
		t.Fatal(err)
	}
	m, err := Deconstruct(p.Bytes(), withSchema(SetColorSchema))
	if err != nil {
		t.Fatal(err)
	}
	if m["duration"] != 2 {
		t.Errorf("duration = %d, want 2", m["duration"])
	}
}

func TestSetPowerRoundTrip(t *testing.T) {
	for _, on := range []bool{true, false} {
		p, err := BuildSetPower(on, 2*time.Second, Header{Source: 9})
		if err != nil {
			t.Fatal(err)
		}
		m, err := Deconstruct(p.Bytes(), withSchema(SetPowerSchema))
		if err != nil {
			t.Fatal(err)
		}
		want := uint64(PowerOff)
		if on {
			want = uint64(PowerOn)
		}
		if m["level"] != want {
			t.Errorf("on=%v: level = 0x%04X, want 0x%04X", on, m["level"], want)
		}
		if m["duration"] != 2000 {
			t.Errorf("duration = %d, want 2000", m["duration"])
		}
		if m["type"] != uint64(TypeSetLightPower) {
			t.Errorf("type = %d", m["type"])
		}
	}
}

func TestSetColorRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		c    HSBK
		d    time.Duration
	}{
		{"hue 65536", HSBK{Hue: 65536, Kelvin: 3500}, 0},
		{"brightness -1", HSBK{Brightness: -1, Kelvin: 3500}, 0},
		{"saturation too wide", HSBK{Saturation: 1 << 20, Kelvin: 3500}, 0},
		{"kelvin too wide", HSBK{Kelvin: 70000}, 0},
		{"duration too long", HSBK{Kelvin: 3500}, MaxDuration + time.Second},
		{"negative duration", HSBK{Kelvin: 3500}, -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSetColor(tt.c, tt.d, Header{})
			if !errors.Is(err, ErrEncoding) {
				t.Errorf("err = %v, want ErrEncoding", err)
			}
		})
	}
}

func stateDatagram(t *testing.T, s LightState) []byte {
	t.Helper()
	p, err := BuildState(s, Header{Source: 1})
	if err != nil {
		t.Fatal(err)
	}
	return p.Bytes()
}

func TestDecodeStateResponse(t *testing.T) {
	want := LightState{
		Hue:        100,
		Saturation: 200,
		Brightness: 40000,
		Kelvin:     3500,
		Power:      0xFFFF,
		LabelRaw:   0x6B615474,
	}
	got, err := DecodeStateResponse(stateDatagram(t, want))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("state = %+v, want %+v", got, want)
	}
	if !got.On() {
		t.Error("On() = false, want true")
	}
}

func TestDecodeStateResponseTruncated(t *testing.T) {
	data := stateDatagram(t, LightState{Brightness: 1})
	_, err := DecodeStateResponse(data[:HeaderLen+10])
	if !errors.Is(err, ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestDecodeStateResponseWrongType(t *testing.T) {
	// A SetPower datagram padded to State length is still not a State.
	data := append([]byte{}, allOnDatagram...)
	data = append(data, make([]byte, 64)...)
	_, err := DecodeStateResponse(data)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestPacketString(t *testing.T) {
	p, err := BuildSetColor(HSBK{Brightness: 0xFFFF, Kelvin: 3500}, 0, Header{})
	if err != nil {
		t.Fatal(err)
	}
	s := p.String()
	for _, want := range []string{"payload:", "brightness(ffff) == 65535, 100%", "message_type(6600) == 102"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
}
