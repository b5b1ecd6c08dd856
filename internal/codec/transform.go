// Package codec implements the primitive field encodings used by the game
// client. Every obfuscated field is one of a small, closed set of named
// byte transforms combined with a byte order, so decode routines select a
// transform per field instead of doing bit arithmetic inline.
package codec

import (
	"errors"
	"fmt"
)

// Transform is a bijection over a single byte applied by the client before
// transmission. For multi-byte fields it only touches the least significant
// byte.
type Transform uint8

const (
	Plain Transform = iota // no change
	Add                    // client adds 128
	Neg                    // client negates
	Sub                    // client subtracts from 128
)

var transformNames = map[Transform]string{
	Plain: "plain",
	Add:   "add",
	Neg:   "neg",
	Sub:   "sub",
}

// String returns the transform name.
func (t Transform) String() string {
	if s, ok := transformNames[t]; ok {
		return s
	}
	return fmt.Sprintf("transform(%d)", uint8(t))
}

// Encode applies the client-side transform to b.
func (t Transform) Encode(b byte) byte {
	switch t {
	case Add:
		return b + 128
	case Neg:
		return -b
	case Sub:
		return 128 - b
	default:
		return b
	}
}

// Decode reverses Encode.
func (t Transform) Decode(b byte) byte {
	switch t {
	case Add:
		return b - 128
	case Neg:
		return -b
	case Sub:
		return 128 - b
	default:
		return b
	}
}

// Order is the arrangement of a multi-byte integer on the wire.
type Order uint8

const (
	BigEndian Order = iota
	LittleEndian
	// MiddleEndian sends a 32-bit value as bits 16, 24, 0, 8.
	MiddleEndian
	// InverseMiddleEndian sends a 32-bit value as bits 8, 0, 24, 16.
	InverseMiddleEndian
)

var orderNames = map[Order]string{
	BigEndian:           "be",
	LittleEndian:        "le",
	MiddleEndian:        "me",
	InverseMiddleEndian: "ime",
}

// String returns the short order name.
func (o Order) String() string {
	if s, ok := orderNames[o]; ok {
		return s
	}
	return fmt.Sprintf("order(%d)", uint8(o))
}

// ErrUnsupportedLayout is returned for an order/width combination the
// protocol never uses, e.g. a middle-endian 16-bit value.
var ErrUnsupportedLayout = errors.New("codec: unsupported byte layout")

// significance lists, per wire position, which byte of the value it carries
// (0 is the least significant byte).
func significance(o Order, width int) ([]int, error) {
	switch width {
	case 1:
		return []int{0}, nil
	case 2:
		switch o {
		case BigEndian:
			return []int{1, 0}, nil
		case LittleEndian:
			return []int{0, 1}, nil
		}
	case 3:
		switch o {
		case BigEndian:
			return []int{2, 1, 0}, nil
		case LittleEndian:
			return []int{0, 1, 2}, nil
		}
	case 4:
		switch o {
		case BigEndian:
			return []int{3, 2, 1, 0}, nil
		case LittleEndian:
			return []int{0, 1, 2, 3}, nil
		case MiddleEndian:
			return []int{2, 3, 0, 1}, nil
		case InverseMiddleEndian:
			return []int{1, 0, 3, 2}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%d", ErrUnsupportedLayout, o, width)
}

// Field describes one fixed-width integer encoding: width in bytes, byte
// order and the transform on the least significant byte.
type Field struct {
	Width     int
	Order     Order
	Transform Transform
}

// Named field layouts used by the desktop client.
var (
	Byte       = Field{Width: 1, Order: BigEndian, Transform: Plain}
	ByteAdd    = Field{Width: 1, Order: BigEndian, Transform: Add}
	ByteNeg    = Field{Width: 1, Order: BigEndian, Transform: Neg}
	ByteSub    = Field{Width: 1, Order: BigEndian, Transform: Sub}
	Short      = Field{Width: 2, Order: BigEndian, Transform: Plain}
	ShortAdd   = Field{Width: 2, Order: BigEndian, Transform: Add}
	ShortLE    = Field{Width: 2, Order: LittleEndian, Transform: Plain}
	ShortAddLE = Field{Width: 2, Order: LittleEndian, Transform: Add}
	Medium     = Field{Width: 3, Order: BigEndian, Transform: Plain}
	Int        = Field{Width: 4, Order: BigEndian, Transform: Plain}
	IntLE      = Field{Width: 4, Order: LittleEndian, Transform: Plain}
	IntME      = Field{Width: 4, Order: MiddleEndian, Transform: Plain}
	IntIME     = Field{Width: 4, Order: InverseMiddleEndian, Transform: Plain}
)

// String formats the layout as e.g. "u16/le/add".
func (f Field) String() string {
	return fmt.Sprintf("u%d/%s/%s", f.Width*8, f.Order, f.Transform)
}

// Decode reassembles an unsigned value from exactly f.Width wire bytes.
func (f Field) Decode(wire []byte) (uint32, error) {
	sig, err := significance(f.Order, f.Width)
	if err != nil {
		return 0, err
	}
	if len(wire) != f.Width {
		return 0, fmt.Errorf("codec: %s needs %d bytes, got %d", f, f.Width, len(wire))
	}

	var v uint32
	for pos, s := range sig {
		b := wire[pos]
		if s == 0 {
			b = f.Transform.Decode(b)
		}
		v |= uint32(b) << (8 * s)
	}
	return v, nil
}

// Encode produces the wire bytes the client would send for v. Bits above
// the field width are discarded.
func (f Field) Encode(v uint32) ([]byte, error) {
	sig, err := significance(f.Order, f.Width)
	if err != nil {
		return nil, err
	}

	out := make([]byte, f.Width)
	for pos, s := range sig {
		b := byte(v >> (8 * s))
		if s == 0 {
			b = f.Transform.Encode(b)
		}
		out[pos] = b
	}
	return out, nil
}

// Signed sign-extends a decoded value of the field's width.
func (f Field) Signed(v uint32) int32 {
	shift := uint(32 - 8*f.Width)
	return int32(v<<shift) >> shift
}
