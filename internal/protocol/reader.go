package protocol

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Nozemi/rsmod/internal/codec"
)

// DefaultMaxFrameBytes caps opcode + length prefix + declared payload.
const DefaultMaxFrameBytes = 5000

// ReadState is the position of a FrameReader in the per-message cycle.
type ReadState uint8

const (
	StateAwaitingOpcode ReadState = iota
	StateAwaitingLength
	StateAwaitingPayload
	StateDecoded
	StateTerminated
)

var readStateNames = map[ReadState]string{
	StateAwaitingOpcode:  "awaiting_opcode",
	StateAwaitingLength:  "awaiting_length",
	StateAwaitingPayload: "awaiting_payload",
	StateDecoded:         "decoded",
	StateTerminated:      "terminated",
}

func (s ReadState) String() string {
	if n, ok := readStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// DecodedFrame is one inbound message ready for dispatch.
type DecodedFrame struct {
	Device     Device
	Opcode     uint8
	Header     int // length prefix width
	Length     int // payload length
	Variant    Variant
	Descriptor *Descriptor
}

// Size returns the number of stream bytes the frame occupied.
func (f DecodedFrame) Size() int {
	return 1 + f.Header + f.Length
}

// ReaderOption configures a FrameReader.
type ReaderOption func(*FrameReader)

// WithMaxFrameBytes sets the cap on length-prefixed frames. Zero or less
// disables the cap.
func WithMaxFrameBytes(n int) ReaderOption {
	return func(r *FrameReader) {
		r.maxFrame = n
	}
}

// WithLogger sets the reader's logger.
func WithLogger(l zerolog.Logger) ReaderOption {
	return func(r *FrameReader) {
		r.logger = l
	}
}

// FrameReader decodes frames from one connection's stream in arrival order.
// It keeps no partial-frame buffer of its own: until a whole frame is
// available nothing is consumed, so a retry after ErrIncompleteFrame starts
// from the same opcode byte. One reader per connection; not safe for
// concurrent use.
type FrameReader struct {
	table    *Table
	device   Device
	maxFrame int
	logger   zerolog.Logger

	state  ReadState
	frames uint64
	bytes  uint64
}

// NewFrameReader returns a reader for device using table.
func NewFrameReader(table *Table, device Device, opts ...ReaderOption) *FrameReader {
	r := &FrameReader{
		table:    table,
		device:   device,
		maxFrame: DefaultMaxFrameBytes,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns where the last call to Next stopped.
func (r *FrameReader) State() ReadState { return r.state }

// Frames returns the number of frames decoded so far.
func (r *FrameReader) Frames() uint64 { return r.frames }

// Bytes returns the number of stream bytes consumed so far.
func (r *FrameReader) Bytes() uint64 { return r.bytes }

// Next decodes the next frame from s. ErrIncompleteFrame means nothing was
// consumed and the call should be repeated once more bytes arrive. Any
// other error is terminal; the reader then refuses further input.
func (r *FrameReader) Next(s Stream) (DecodedFrame, error) {
	if r.state == StateTerminated {
		return DecodedFrame{}, ErrConnectionTerminated
	}

	r.state = StateAwaitingOpcode
	if s.Len() < 1 {
		return DecodedFrame{}, ErrIncompleteFrame
	}
	head, err := s.Peek(1)
	if err != nil {
		return DecodedFrame{}, ErrIncompleteFrame
	}
	opcode := head[0]

	d, err := r.table.Lookup(r.device, opcode)
	if err != nil {
		return r.terminate(err)
	}

	rule := d.Rule()
	if rule.Prefixed() {
		r.state = StateAwaitingLength
	}
	length, header, err := rule.Resolve(s, 1)
	if err != nil {
		return DecodedFrame{}, err
	}

	total := 1 + header + length
	if rule.Prefixed() && r.maxFrame > 0 && total > r.maxFrame {
		return r.terminate(&FrameTooLargeError{Opcode: opcode, Size: total, Limit: r.maxFrame})
	}

	r.state = StateAwaitingPayload
	if s.Len() < total {
		return DecodedFrame{}, ErrIncompleteFrame
	}
	frame, err := s.Peek(total)
	if err != nil {
		return DecodedFrame{}, ErrIncompleteFrame
	}

	payload := make([]byte, length)
	copy(payload, frame[1+header:])

	v, err := d.decode(opcode, d, codec.NewReader(payload))
	if err == nil && v == nil {
		err = errNoMessage
	}
	if err != nil {
		return r.terminate(&MalformedPayloadError{Opcode: opcode, Name: d.name, Length: length, Err: err})
	}

	if err := s.Skip(total); err != nil {
		return r.terminate(fmt.Errorf("%w: skip %d bytes: %v", ErrConnectionTerminated, total, err))
	}

	r.state = StateDecoded
	r.frames++
	r.bytes += uint64(total)

	r.logger.Trace().
		Uint8("opcode", opcode).
		Str("message", d.name).
		Int("length", length).
		Msg("frame decoded")

	return DecodedFrame{
		Device:     r.device,
		Opcode:     opcode,
		Header:     header,
		Length:     length,
		Variant:    v,
		Descriptor: d,
	}, nil
}

func (r *FrameReader) terminate(err error) (DecodedFrame, error) {
	r.state = StateTerminated
	r.logger.Debug().Err(err).Str("kind", ViolationKind(err)).Msg("frame reader terminated")
	return DecodedFrame{}, err
}
