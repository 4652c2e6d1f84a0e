package lanproto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Field is one named, fixed-length run of bytes in a Section.
type Field struct {
	Name  string
	Bytes []byte
}

// Value returns the field interpreted as a little-endian integer. Fields
// wider than 8 bytes are truncated to their low 8 bytes.
func (f Field) Value() uint64 {
	n := len(f.Bytes)
	if n > 8 {
		n = 8
	}
	v, _ := Decode(f.Bytes[:n], n*8)
	return v
}

// Section is an ordered list of fields. Fields keep construction order.
type Section struct {
	fields []Field
}

// Append adds a field holding value, zero padded to byteLen bytes.
func (s *Section) Append(name string, value uint64, byteLen int) error {
	f, err := newField(name, value, byteLen)
	if err != nil {
		return err
	}
	s.fields = append(s.fields, f)
	return nil
}

// AppendBytes adds a field holding raw, left aligned and zero padded to
// byteLen bytes.
func (s *Section) AppendBytes(name string, raw []byte, byteLen int) error {
	if len(raw) > byteLen {
		return fmt.Errorf("%w: field %q: %d bytes exceed length %d", ErrEncoding, name, len(raw), byteLen)
	}
	b := make([]byte, byteLen)
	copy(b, raw)
	s.fields = append(s.fields, Field{Name: name, Bytes: b})
	return nil
}

// Prepend inserts a field at index 0.
func (s *Section) Prepend(name string, value uint64, byteLen int) error {
	f, err := newField(name, value, byteLen)
	if err != nil {
		return err
	}
	s.fields = append([]Field{f}, s.fields...)
	return nil
}

// Len returns the section length in bytes.
func (s *Section) Len() int {
	n := 0
	for _, f := range s.fields {
		n += len(f.Bytes)
	}
	return n
}

// Fields returns the fields in wire order.
func (s *Section) Fields() []Field {
	return s.fields
}

// Field returns the first field with the given name.
func (s *Section) Field(name string) (Field, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func newField(name string, value uint64, byteLen int) (Field, error) {
	if byteLen <= 0 {
		return Field{}, fmt.Errorf("%w: field %q: length %d", ErrEncoding, name, byteLen)
	}
	b, err := Encode(value, byteLen*8)
	if err != nil {
		return Field{}, fmt.Errorf("field %q: %w", name, err)
	}
	return Field{Name: name, Bytes: b}, nil
}

// Packet is one datagram: frame, frame address, protocol header, payload.
type Packet struct {
	Frame          Section
	FrameAddress   Section
	ProtocolHeader Section
	Payload        Section
}

const (
	fieldSize        = "size"
	fieldMessageType = "message type"
)

func (p *Packet) sections() []*Section {
	return []*Section{&p.Frame, &p.FrameAddress, &p.ProtocolHeader, &p.Payload}
}

// Len returns the total packet length in bytes, computed from current content.
func (p *Packet) Len() int {
	n := 0
	for _, s := range p.sections() {
		n += s.Len()
	}
	return n
}

// FinalizeSize prepends the 2-byte size field to the frame. The length is
// measured including the size field itself. Calling it again replaces the
// previous size field.
func (p *Packet) FinalizeSize() error {
	if len(p.Frame.fields) > 0 && p.Frame.fields[0].Name == fieldSize {
		p.Frame.fields = p.Frame.fields[1:]
	}
	return p.Frame.Prepend(fieldSize, uint64(p.Len()+2), 2)
}

// Bytes serializes every field in section order, then field order.
func (p *Packet) Bytes() []byte {
	out := make([]byte, 0, p.Len())
	for _, s := range p.sections() {
		for _, f := range s.fields {
			out = append(out, f.Bytes...)
		}
	}
	return out
}

// MessageType returns the message type stored in the protocol header.
func (p *Packet) MessageType() (uint16, error) {
	f, ok := p.ProtocolHeader.Field(fieldMessageType)
	if !ok {
		return 0, fmt.Errorf("%w: packet has no message type", ErrDecode)
	}
	v, err := Decode(f.Bytes, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// String renders every section and field, one per line, for debug logs.
func (p *Packet) String() string {
	var sb strings.Builder
	names := []string{"frame", "frame_address", "protocol_header", "payload"}
	for i, s := range p.sections() {
		fmt.Fprintf(&sb, "%s:\n", names[i])
		for _, f := range s.fields {
			v := f.Value()
			pct := 0.0
			if n := len(f.Bytes); n > 0 && n <= 8 {
				pct = float64(v) * 100 / float64(maxValue(n*8))
			}
			fmt.Fprintf(&sb, "  %s(%s) == %d, %.0f%%\n",
				strings.ReplaceAll(f.Name, " ", "_"), hex.EncodeToString(f.Bytes), v, pct)
		}
	}
	return sb.String()
}
