// Package lanproto builds and parses LIFX LAN protocol datagrams.
//
// A datagram is a 36-byte header (frame, frame address, protocol header)
// followed by a message-specific payload. All multi-byte integers are little
// endian; the two flag fields pack several sub-byte values most significant
// first. Only the messages needed to drive a single light are implemented:
// GetColor (101), SetColor (102), SetLightPower (117) and the State (107) reply.
package lanproto

import (
	"errors"
	"fmt"
)

var (
	// ErrEncoding is returned when a value does not fit its declared width.
	ErrEncoding = errors.New("lanproto: encoding")
	// ErrDecode is returned when a datagram is truncated or malformed.
	ErrDecode = errors.New("lanproto: decode")
)

// BitField is a value paired with its width in bits.
type BitField struct {
	Value uint64
	Width int
}

// SchemaField names a slice of a packed or serialized value. A field with Sub
// entries is a composite: its width is the sum of the sub-field widths and the
// sub-fields are read most significant first.
type SchemaField struct {
	Name  string
	Width int
	Sub   []SchemaField
}

// bytesFor returns ceil(width/8).
func bytesFor(width int) int {
	return (width + 7) / 8
}

// Encode renders value as ceil(width/8) little-endian bytes.
func Encode(value uint64, width int) ([]byte, error) {
	if width <= 0 || width > 64 {
		return nil, fmt.Errorf("%w: width %d out of range", ErrEncoding, width)
	}
	n := bytesFor(width)
	if n < 8 && value>>(uint(n)*8) != 0 {
		return nil, fmt.Errorf("%w: value %d needs more than %d bytes", ErrEncoding, value, n)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(value >> (8 * uint(i)))
	}
	return out, nil
}

// EncodeInt is Encode for signed callers. Negative values and values wider
// than width bits are rejected.
func EncodeInt(value int64, width int) ([]byte, error) {
	if value < 0 {
		return nil, fmt.Errorf("%w: negative value %d", ErrEncoding, value)
	}
	if width < 64 && uint64(value) > maxValue(width) {
		return nil, fmt.Errorf("%w: value %d exceeds %d bits", ErrEncoding, value, width)
	}
	return Encode(uint64(value), width)
}

// Decode reads exactly ceil(width/8) little-endian bytes from data.
func Decode(data []byte, width int) (uint64, error) {
	if width <= 0 || width > 64 {
		return 0, fmt.Errorf("%w: width %d out of range", ErrDecode, width)
	}
	n := bytesFor(width)
	if len(data) < n {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrDecode, n, len(data))
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(data[i])
	}
	return v, nil
}

func maxValue(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(width) - 1
}

// PackBits concatenates fields most significant first.
func PackBits(fields ...BitField) (uint64, error) {
	var result uint64
	total := 0
	for _, f := range fields {
		if f.Width <= 0 {
			return 0, fmt.Errorf("%w: bit width %d", ErrEncoding, f.Width)
		}
		if f.Value > maxValue(f.Width) {
			return 0, fmt.Errorf("%w: value %d exceeds %d bits", ErrEncoding, f.Value, f.Width)
		}
		total += f.Width
		if total > 64 {
			return 0, fmt.Errorf("%w: packed width %d exceeds 64 bits", ErrEncoding, total)
		}
		result = result<<uint(f.Width) | f.Value
	}
	return result, nil
}

// UnpackBits splits a totalBits-wide value into the schema's fields, reading
// from the most significant bit. It is the inverse of PackBits for the same
// field order.
func UnpackBits(value uint64, totalBits int, schema []SchemaField) (map[string]uint64, error) {
	if totalBits <= 0 || totalBits > 64 {
		return nil, fmt.Errorf("%w: total width %d", ErrDecode, totalBits)
	}
	out := make(map[string]uint64, len(schema))
	offset := 0
	for _, f := range schema {
		if f.Width <= 0 || offset+f.Width > totalBits {
			return nil, fmt.Errorf("%w: field %q does not fit in %d bits", ErrDecode, f.Name, totalBits)
		}
		shift := totalBits - offset - f.Width
		out[f.Name] = (value >> uint(shift)) & maxValue(f.Width)
		offset += f.Width
	}
	return out, nil
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
