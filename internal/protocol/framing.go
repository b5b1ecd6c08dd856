package protocol

import (
	"encoding/binary"
	"fmt"
)

// FramingKind selects how a descriptor's payload length is determined.
type FramingKind uint8

const (
	FramingFixed FramingKind = iota
	FramingPrefixedU8
	FramingPrefixedU16LE
)

// FramingRule is fixed per descriptor; it is never inferred per message.
type FramingRule struct {
	Kind FramingKind
	Size int // payload length for FramingFixed
}

// Fixed returns a rule for exactly n payload bytes.
func Fixed(n int) FramingRule {
	return FramingRule{Kind: FramingFixed, Size: n}
}

var (
	// PrefixedU8 precedes the payload with a one byte length.
	PrefixedU8 = FramingRule{Kind: FramingPrefixedU8}
	// PrefixedU16LE precedes the payload with a little-endian u16 length.
	PrefixedU16LE = FramingRule{Kind: FramingPrefixedU16LE}
)

// Sentinel lengths used by the client's own packet size table.
const (
	LengthVarByte  = -1
	LengthVarShort = -2
)

// RuleFromLength converts a client size-table entry into a rule.
func RuleFromLength(length int) (FramingRule, error) {
	switch {
	case length >= 0:
		return Fixed(length), nil
	case length == LengthVarByte:
		return PrefixedU8, nil
	case length == LengthVarShort:
		return PrefixedU16LE, nil
	default:
		return FramingRule{}, fmt.Errorf("protocol: invalid size table length %d", length)
	}
}

// Length returns the client size-table encoding of the rule.
func (r FramingRule) Length() int {
	switch r.Kind {
	case FramingPrefixedU8:
		return LengthVarByte
	case FramingPrefixedU16LE:
		return LengthVarShort
	default:
		return r.Size
	}
}

// HeaderSize is the width of the length prefix.
func (r FramingRule) HeaderSize() int {
	switch r.Kind {
	case FramingPrefixedU8:
		return 1
	case FramingPrefixedU16LE:
		return 2
	default:
		return 0
	}
}

// Prefixed reports whether the length travels on the wire.
func (r FramingRule) Prefixed() bool {
	return r.Kind != FramingFixed
}

// String formats the rule for listings.
func (r FramingRule) String() string {
	switch r.Kind {
	case FramingPrefixedU8:
		return "var-u8"
	case FramingPrefixedU16LE:
		return "var-u16le"
	default:
		return fmt.Sprintf("fixed(%d)", r.Size)
	}
}

// Resolve determines the payload length of a frame whose length prefix (if
// any) starts offset bytes into s. It only peeks, so calling it again after
// ErrIncompleteFrame re-reads the same prefix.
func (r FramingRule) Resolve(s Stream, offset int) (length, header int, err error) {
	header = r.HeaderSize()
	if header == 0 {
		return r.Size, 0, nil
	}
	if s.Len() < offset+header {
		return 0, header, ErrIncompleteFrame
	}
	b, err := s.Peek(offset + header)
	if err != nil {
		return 0, header, ErrIncompleteFrame
	}
	prefix := b[offset:]
	switch r.Kind {
	case FramingPrefixedU8:
		length = int(prefix[0])
	case FramingPrefixedU16LE:
		length = int(binary.LittleEndian.Uint16(prefix))
	}
	return length, header, nil
}
