package lanproto

import "fmt"

// HeaderSchema describes the 36-byte header shared by every message.
var HeaderSchema = []SchemaField{
	{Name: "size", Width: 16},
	{Name: "protocol", Sub: []SchemaField{
		{Name: "origin", Width: 2},
		{Name: "tagged", Width: 1},
		{Name: "addressable", Width: 1},
		{Name: "protocol", Width: 12},
	}},
	{Name: "source", Width: 32},
	{Name: "target", Width: 64},
	{Name: "reserved", Width: 48},
	{Name: "resp", Sub: []SchemaField{
		{Name: "reserved", Width: 6},
		{Name: "ack_required", Width: 1},
		{Name: "res_required", Width: 1},
	}},
	{Name: "sequence", Width: 8},
	{Name: "reserved", Width: 64},
	{Name: "type", Width: 16},
	{Name: "reserved", Width: 16},
}

// StateSchema describes the State (107) payload.
var StateSchema = []SchemaField{
	{Name: "hue", Width: 16},
	{Name: "saturation", Width: 16},
	{Name: "brightness", Width: 16},
	{Name: "kelvin", Width: 16},
	{Name: "reserved", Width: 16},
	{Name: "power", Width: 16},
	{Name: "label", Width: 32},
	{Name: "reserved", Width: 64},
}

// SetColorSchema describes the SetColor (102) payload.
var SetColorSchema = []SchemaField{
	{Name: "reserved", Width: 8},
	{Name: "hue", Width: 16},
	{Name: "saturation", Width: 16},
	{Name: "brightness", Width: 16},
	{Name: "kelvin", Width: 16},
	{Name: "duration", Width: 32},
}

// SetPowerSchema describes the SetLightPower (117) payload.
var SetPowerSchema = []SchemaField{
	{Name: "level", Width: 16},
	{Name: "duration", Width: 32},
}

func (f SchemaField) width() int {
	if len(f.Sub) == 0 {
		return f.Width
	}
	w := 0
	for _, s := range f.Sub {
		w += s.Width
	}
	return w
}

// SchemaLen returns the number of bytes a schema consumes.
func SchemaLen(schema []SchemaField) int {
	n := 0
	for _, f := range schema {
		n += bytesFor(f.width())
	}
	return n
}

// Deconstruct reads data field by field according to schema. Composite
// fields are expanded into their sub-fields. Later fields with a repeated
// name overwrite earlier ones, which only affects "reserved".
func Deconstruct(data []byte, schema []SchemaField) (map[string]uint64, error) {
	if need := SchemaLen(schema); len(data) < need {
		return nil, fmt.Errorf("%w: datagram has %d bytes, schema needs %d", ErrDecode, len(data), need)
	}
	out := make(map[string]uint64)
	off := 0
	for _, f := range schema {
		w := f.width()
		n := bytesFor(w)
		v, err := Decode(data[off:off+n], w)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		off += n
		if len(f.Sub) == 0 {
			out[f.Name] = v
			continue
		}
		parts, err := UnpackBits(v, w, f.Sub)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		for k, pv := range parts {
			out[k] = pv
		}
	}
	return out, nil
}

// LightState is a decoded State reply.
type LightState struct {
	Hue        uint16 `json:"hue"`
	Saturation uint16 `json:"saturation"`
	Brightness uint16 `json:"brightness"`
	Kelvin     uint16 `json:"kelvin"`
	Power      uint16 `json:"power"`
	LabelRaw   uint32 `json:"label_raw"`
}

// On reports whether the light is powered on. Lights ramping power report
// intermediate levels, so anything from 0xFF00 up counts.
func (s LightState) On() bool {
	return s.Power >= 0xFF00
}

// HSBK returns the color part of the state.
func (s LightState) HSBK() HSBK {
	return HSBK{
		Hue:        int(s.Hue),
		Saturation: int(s.Saturation),
		Brightness: int(s.Brightness),
		Kelvin:     int(s.Kelvin),
	}
}

// DecodeStateResponse decodes a State (107) datagram.
func DecodeStateResponse(datagram []byte) (LightState, error) {
	schema := make([]SchemaField, 0, len(HeaderSchema)+len(StateSchema))
	schema = append(schema, HeaderSchema...)
	schema = append(schema, StateSchema...)

	m, err := Deconstruct(datagram, schema)
	if err != nil {
		return LightState{}, err
	}
	if t := m["type"]; t != uint64(TypeState) {
		return LightState{}, fmt.Errorf("%w: message type %d, want %d", ErrDecode, t, TypeState)
	}
	return LightState{
		Hue:        uint16(m["hue"]),
		Saturation: uint16(m["saturation"]),
		Brightness: uint16(m["brightness"]),
		Kelvin:     uint16(m["kelvin"]),
		Power:      uint16(m["power"]),
		LabelRaw:   uint32(m["label"]),
	}, nil
}

// DecodeHeader decodes only the common header of a datagram.
func DecodeHeader(datagram []byte) (map[string]uint64, error) {
	return Deconstruct(datagram, HeaderSchema)
}
