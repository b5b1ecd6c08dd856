package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Builder constructs payloads the way the client encodes them. The gateway
// never encodes; Builder only produces test fixtures.
type Builder struct {
	buf bytes.Buffer
	err error
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf.Reset()
	b.err = nil
}

// Err returns the first encoding error, if any.
func (b *Builder) Err() error {
	return b.err
}

// WriteField encodes v with layout f.
func (b *Builder) WriteField(f Field, v uint32) *Builder {
	if b.err != nil {
		return b
	}
	out, err := f.Encode(v)
	if err != nil {
		b.err = err
		return b
	}
	b.buf.Write(out)
	return b
}

// WriteU8 writes a byte with transform t.
func (b *Builder) WriteU8(v uint8, t Transform) *Builder {
	return b.WriteField(Field{Width: 1, Transform: t}, uint32(v))
}

// WriteU16 writes a short.
func (b *Builder) WriteU16(v uint16, o Order, t Transform) *Builder {
	return b.WriteField(Field{Width: 2, Order: o, Transform: t}, uint32(v))
}

// WriteU32 writes an int.
func (b *Builder) WriteU32(v uint32, o Order) *Builder {
	return b.WriteField(Field{Width: 4, Order: o}, v)
}

// WriteBytes writes raw bytes.
func (b *Builder) WriteBytes(data []byte) *Builder {
	b.buf.Write(data)
	return b
}

// WriteStringCP1252 writes a null-terminated Windows-1252 string.
func (b *Builder) WriteStringCP1252(s string) *Builder {
	if b.err != nil {
		return b
	}
	data, err := EncodeCP1252(s)
	if err != nil {
		b.err = err
		return b
	}
	b.buf.Write(data)
	b.buf.WriteByte(0)
	return b
}

// Build returns the payload bytes.
func (b *Builder) Build() []byte {
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// Len returns the current size of the payload being built.
func (b *Builder) Len() int {
	return b.buf.Len()
}

// BuildFixed returns [opcode][payload].
func (b *Builder) BuildFixed(opcode uint8) []byte {
	return append([]byte{opcode}, b.buf.Bytes()...)
}

// BuildPrefixedU8 returns [opcode][len:1][payload].
func (b *Builder) BuildPrefixedU8(opcode uint8) ([]byte, error) {
	n := b.buf.Len()
	if n > 0xFF {
		return nil, fmt.Errorf("codec: payload of %d bytes does not fit a u8 length", n)
	}
	out := make([]byte, 0, 2+n)
	out = append(out, opcode, byte(n))
	return append(out, b.buf.Bytes()...), nil
}

// BuildPrefixedU16LE returns [opcode][len:2 LE][payload].
func (b *Builder) BuildPrefixedU16LE(opcode uint8) ([]byte, error) {
	n := b.buf.Len()
	if n > 0xFFFF {
		return nil, fmt.Errorf("codec: payload of %d bytes does not fit a u16 length", n)
	}
	out := make([]byte, 3, 3+n)
	out[0] = opcode
	binary.LittleEndian.PutUint16(out[1:3], uint16(n))
	return append(out, b.buf.Bytes()...), nil
}

// String returns a hex dump of the current payload for debugging.
func (b *Builder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("Builder[%d bytes]: %x", len(data), data)
}
