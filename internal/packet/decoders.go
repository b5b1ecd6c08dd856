package packet

import (
	"errors"
	"fmt"

	"github.com/Nozemi/rsmod/internal/codec"
	"github.com/Nozemi/rsmod/internal/protocol"
)

var errChatTooShort = errors.New("public chat payload has no type byte")

// fieldErr names the field a codec read failed on. The frame reader wraps
// the result in a MalformedPayloadError.
func fieldErr(field string, err error) error {
	return fmt.Errorf("%s: %w", field, err)
}

func decodeMoveClick(r *codec.Reader) (x, y, typ int, err error) {
	sx, err := r.I16(codec.BigEndian, codec.Add)
	if err != nil {
		return 0, 0, 0, fieldErr("x", err)
	}
	st, err := r.I8(codec.Neg)
	if err != nil {
		return 0, 0, 0, fieldErr("type", err)
	}
	sy, err := r.I16(codec.LittleEndian, codec.Add)
	if err != nil {
		return 0, 0, 0, fieldErr("y", err)
	}
	// Anything after y is client telemetry and is ignored.
	return int(sx), int(sy), int(st), nil
}

// DecodeMoveGameClick reads a MoveGameClick.
func DecodeMoveGameClick(_ uint8, _ *protocol.Descriptor, r *codec.Reader) (protocol.Variant, error) {
	x, y, typ, err := decodeMoveClick(r)
	if err != nil {
		return nil, err
	}
	return MoveGameClick{X: x, Y: y, Type: typ}, nil
}

// DecodeMoveMinimapClick reads a MoveMinimapClick.
func DecodeMoveMinimapClick(_ uint8, _ *protocol.Descriptor, r *codec.Reader) (protocol.Variant, error) {
	x, y, typ, err := decodeMoveClick(r)
	if err != nil {
		return nil, err
	}
	return MoveMinimapClick{X: x, Y: y, Type: typ}, nil
}

// DecodeIfButton reads an IfButton. The type comes from the opcode, not
// the payload.
func DecodeIfButton(opcode uint8, d *protocol.Descriptor, r *codec.Reader) (protocol.Variant, error) {
	component, err := r.I32(codec.BigEndian)
	if err != nil {
		return nil, fieldErr("component", err)
	}
	slot, err := r.I16(codec.BigEndian, codec.Plain)
	if err != nil {
		return nil, fieldErr("slot", err)
	}
	item, err := r.I16(codec.BigEndian, codec.Plain)
	if err != nil {
		return nil, fieldErr("item", err)
	}
	return IfButton{
		Type:      d.Tag(opcode),
		Component: component,
		Slot:      int(slot),
		Item:      int(item),
	}, nil
}

// DecodeClientCheat reads a ClientCheat.
func DecodeClientCheat(_ uint8, _ *protocol.Descriptor, r *codec.Reader) (protocol.Variant, error) {
	input, err := r.StringCP1252()
	if err != nil {
		return nil, fieldErr("input", err)
	}
	return ClientCheat{Input: input}, nil
}

// DecodeOpHeld1 reads an OpHeld1.
func DecodeOpHeld1(_ uint8, _ *protocol.Descriptor, r *codec.Reader) (protocol.Variant, error) {
	item, err := r.U16(codec.BigEndian, codec.Add)
	if err != nil {
		return nil, fieldErr("item", err)
	}
	slot, err := r.U16(codec.BigEndian, codec.Add)
	if err != nil {
		return nil, fieldErr("slot", err)
	}
	component, err := r.U32(codec.InverseMiddleEndian)
	if err != nil {
		return nil, fieldErr("component", err)
	}
	return OpHeld1{Item: int(item), Component: int32(component), Slot: int(slot)}, nil
}

// DecodeOpHeld6 reads an OpHeld6.
func DecodeOpHeld6(_ uint8, _ *protocol.Descriptor, r *codec.Reader) (protocol.Variant, error) {
	item, err := r.U16(codec.LittleEndian, codec.Add)
	if err != nil {
		return nil, fieldErr("item", err)
	}
	return OpHeld6{Item: int(item)}, nil
}

// DecodePublicChat reads a PublicChat. The last payload byte is the chat
// type; everything between the four header bytes and it is Data.
func DecodePublicChat(_ uint8, _ *protocol.Descriptor, r *codec.Reader) (protocol.Variant, error) {
	var header [4]int8
	for i, name := range []string{"unknown", "color", "effect", "length"} {
		b, err := r.I8(codec.Plain)
		if err != nil {
			return nil, fieldErr(name, err)
		}
		header[i] = b
	}
	if r.Remaining() < 1 {
		return nil, fieldErr("type", fmt.Errorf("%w: %w", errChatTooShort, codec.ErrShortRead))
	}
	data, err := r.Bytes(r.Remaining() - 1)
	if err != nil {
		return nil, fieldErr("data", err)
	}
	typ, err := r.I8(codec.Plain)
	if err != nil {
		return nil, fieldErr("type", err)
	}
	return PublicChat{
		Color:  int(header[1]),
		Effect: int(header[2]),
		Length: int(header[3]),
		Data:   data,
		Type:   int(typ),
	}, nil
}

// DecodeRaw keeps the payload opaque.
func DecodeRaw(opcode uint8, _ *protocol.Descriptor, r *codec.Reader) (protocol.Variant, error) {
	return Raw{Opcode: opcode, Payload: r.Rest()}, nil
}
