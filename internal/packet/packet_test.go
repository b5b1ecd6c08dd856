package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nozemi/rsmod/internal/codec"
	"github.com/Nozemi/rsmod/internal/protocol"
)

func desktopTable(t *testing.T) *protocol.Table {
	t.Helper()
	tbl, err := NewTable(nil)
	require.NoError(t, err)
	return tbl
}

func decodeOne(t *testing.T, frame []byte) protocol.DecodedFrame {
	t.Helper()
	buf := protocol.NewBuffer(frame)
	f, err := protocol.NewFrameReader(desktopTable(t), protocol.Desktop).Next(buf)
	require.NoError(t, err)
	require.Equal(t, 0, buf.Len(), "frame must be consumed exactly")
	return f
}

func prefixed(t *testing.T, b *codec.Builder, opcode uint8) []byte {
	t.Helper()
	require.NoError(t, b.Err())
	out, err := b.BuildPrefixedU8(opcode)
	require.NoError(t, err)
	return out
}

func moveClick(x, y int16, typ int8) *codec.Builder {
	return codec.NewBuilder().
		WriteU16(uint16(x), codec.BigEndian, codec.Add).
		WriteU8(uint8(typ), codec.Neg).
		WriteU16(uint16(y), codec.LittleEndian, codec.Add)
}

func TestDecodeMoveGameClick(t *testing.T) {
	f := decodeOne(t, prefixed(t, moveClick(3222, 3218, 1), 96))
	assert.Equal(t, MoveGameClick{X: 3222, Y: 3218, Type: 1}, f.Variant)
	assert.Equal(t, KindMoveGameClick, f.Descriptor.Name())
}

func TestDecodeMoveMinimapClickIgnoresTrailer(t *testing.T) {
	b := moveClick(-2, 100, 0).WriteBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	f := decodeOne(t, prefixed(t, b, 85))
	assert.Equal(t, MoveMinimapClick{X: -2, Y: 100, Type: 0}, f.Variant)
}

func TestDecodeMoveClickTooShort(t *testing.T) {
	buf := protocol.NewBuffer([]byte{96, 3, 1, 2, 3})
	_, err := protocol.NewFrameReader(desktopTable(t), protocol.Desktop).Next(buf)
	assert.ErrorIs(t, err, protocol.ErrMalformedPayload)
	assert.ErrorIs(t, err, codec.ErrShortRead)
}

func ifButtonFrame(opcode uint8, component uint32, slot, item uint16) []byte {
	return codec.NewBuilder().
		WriteU32(component, codec.BigEndian).
		WriteU16(slot, codec.BigEndian, codec.Plain).
		WriteU16(item, codec.BigEndian, codec.Plain).
		BuildFixed(opcode)
}

func TestDecodeIfButtonTags(t *testing.T) {
	component := uint32(149<<16 | 0)
	for i, op := range IfButtonOpcodes {
		f := decodeOne(t, ifButtonFrame(op, component, 5, 0xFFFF))
		btn, ok := f.Variant.(IfButton)
		require.True(t, ok)
		assert.Equal(t, i+IfButtonTagBase, btn.Type, "opcode %d", op)
		assert.Equal(t, int32(component), btn.Component)
		assert.Equal(t, 149, btn.Interface())
		assert.Equal(t, 0, btn.Child())
		assert.Equal(t, 5, btn.Slot)
		assert.Equal(t, -1, btn.Item)
	}

	f := decodeOne(t, ifButtonFrame(18, 0, 0, 0))
	assert.Equal(t, 1+IfButtonTagBase, f.Variant.(IfButton).Type)

	f = decodeOne(t, ifButtonFrame(ifButtonPrimary, 0, 0, 0))
	assert.Equal(t, IfButtonTagBase-1, f.Variant.(IfButton).Type)
}

func TestDecodeIfButtonNeedsEightBytes(t *testing.T) {
	buf := protocol.NewBuffer([]byte{18, 0, 0, 0, 0, 0, 0, 0})
	_, err := protocol.NewFrameReader(desktopTable(t), protocol.Desktop).Next(buf)
	assert.ErrorIs(t, err, protocol.ErrIncompleteFrame)
	assert.Equal(t, 8, buf.Len())
}

func TestDecodeClientCheat(t *testing.T) {
	f := decodeOne(t, prefixed(t, codec.NewBuilder().WriteStringCP1252("tele 3200 3200 €"), 57))
	assert.Equal(t, ClientCheat{Input: "tele 3200 3200 €"}, f.Variant)
}

func TestDecodeClientCheatUnterminated(t *testing.T) {
	buf := protocol.NewBuffer([]byte{57, 2, 'h', 'i'})
	_, err := protocol.NewFrameReader(desktopTable(t), protocol.Desktop).Next(buf)
	assert.ErrorIs(t, err, protocol.ErrMalformedPayload)
	assert.ErrorIs(t, err, codec.ErrUnterminatedString)
}

func TestDecodeOpHeld1(t *testing.T) {
	frame := codec.NewBuilder().
		WriteU16(1351, codec.BigEndian, codec.Add).
		WriteU16(27, codec.BigEndian, codec.Add).
		WriteU32(149<<16, codec.InverseMiddleEndian).
		BuildFixed(94)
	f := decodeOne(t, frame)
	assert.Equal(t, OpHeld1{Item: 1351, Component: 149 << 16, Slot: 27}, f.Variant)
	assert.Equal(t, "OpHeld1(1351, 9764864, 27)", f.Variant.(OpHeld1).String())
}

func TestDecodeOpHeld6(t *testing.T) {
	frame := codec.NewBuilder().WriteU16(995, codec.LittleEndian, codec.Add).BuildFixed(7)
	f := decodeOne(t, frame)
	assert.Equal(t, OpHeld6{Item: 995}, f.Variant)
}

func TestDecodePublicChatSplit(t *testing.T) {
	for _, k := range []int{0, 1, 7, 120} {
		data := make([]byte, k)
		for i := range data {
			data[i] = byte(i + 1)
		}
		b := codec.NewBuilder().
			WriteU8(0, codec.Plain).
			WriteU8(2, codec.Plain).
			WriteU8(3, codec.Plain).
			WriteU8(uint8(k), codec.Plain).
			WriteBytes(data).
			WriteU8(1, codec.Plain)

		f := decodeOne(t, prefixed(t, b, 95))
		chat, ok := f.Variant.(PublicChat)
		require.True(t, ok)
		assert.Equal(t, 2, chat.Color)
		assert.Equal(t, 3, chat.Effect)
		assert.Equal(t, k, chat.Length)
		assert.Equal(t, data, chat.Data, "k=%d", k)
		assert.Equal(t, 1, chat.Type)
	}
}

func TestDecodePublicChatMissingType(t *testing.T) {
	buf := protocol.NewBuffer([]byte{95, 4, 0, 0, 0, 0})
	_, err := protocol.NewFrameReader(desktopTable(t), protocol.Desktop).Next(buf)
	assert.ErrorIs(t, err, protocol.ErrMalformedPayload)
}

func TestDecodeRawPlaceholders(t *testing.T) {
	f := decodeOne(t, []byte{14})
	assert.Equal(t, Raw{Opcode: 14, Payload: []byte{}}, f.Variant)

	f = decodeOne(t, []byte{11, 2, 0, 0xAA, 0xBB})
	assert.Equal(t, Raw{Opcode: 11, Payload: []byte{0xAA, 0xBB}}, f.Variant)
	assert.Equal(t, 2, f.Header)
}

func TestDesktopTableIsInjective(t *testing.T) {
	tbl := desktopTable(t)

	total := 0
	for _, d := range tbl.Descriptors(protocol.Desktop) {
		total += len(d.Opcodes())
	}
	assert.Equal(t, tbl.OpcodeCount(protocol.Desktop), total)
	assert.Equal(t, 7+len(IfButtonOpcodes)+len(desktopPlaceholders), total)

	for op := 0; op <= 105; op++ {
		_, err := tbl.Lookup(protocol.Desktop, uint8(op))
		assert.NoError(t, err, "opcode %d", op)
	}
	_, err := tbl.Lookup(protocol.Desktop, 255)
	assert.ErrorIs(t, err, protocol.ErrUnknownOpcode)
}

func TestDesktopTableTwiceIsDuplicate(t *testing.T) {
	b := protocol.NewTableBuilder()
	require.NoError(t, DesktopTable(b, nil))
	err := DesktopTable(b, nil)
	assert.ErrorIs(t, err, protocol.ErrDuplicateRegistration)
}

func TestUnknownOpcodeTerminatesStream(t *testing.T) {
	r := protocol.NewFrameReader(desktopTable(t), protocol.Desktop)
	buf := protocol.NewBuffer([]byte{14, 255, 14})

	_, err := r.Next(buf)
	require.NoError(t, err)
	f, err := r.Next(buf)
	require.ErrorIs(t, err, protocol.ErrUnknownOpcode)
	assert.Nil(t, f.Variant)
	_, err = r.Next(buf)
	assert.ErrorIs(t, err, protocol.ErrConnectionTerminated)
}

func mixedStream(t *testing.T) []byte {
	t.Helper()
	var stream []byte
	stream = append(stream, prefixed(t, moveClick(3200, 3201, 0), 96)...)
	stream = append(stream, ifButtonFrame(47, 548<<16|12, 3, 4)...)
	stream = append(stream, prefixed(t, codec.NewBuilder().WriteStringCP1252("::bank"), 57)...)
	stream = append(stream, 14)
	stream = append(stream, 11, 3, 0, 1, 2, 3)
	stream = append(stream, codec.NewBuilder().WriteU16(4151, codec.LittleEndian, codec.Add).BuildFixed(7)...)
	return stream
}

func drain(t *testing.T, r *protocol.FrameReader, buf *protocol.Buffer) []protocol.Variant {
	t.Helper()
	var out []protocol.Variant
	for {
		f, err := r.Next(buf)
		if err == protocol.ErrIncompleteFrame {
			return out
		}
		require.NoError(t, err)
		out = append(out, f.Variant)
	}
}

func TestChunkingInvariance(t *testing.T) {
	stream := mixedStream(t)
	tbl := desktopTable(t)

	whole := drain(t, protocol.NewFrameReader(tbl, protocol.Desktop), protocol.NewBuffer(stream))
	require.Len(t, whole, 6)

	r := protocol.NewFrameReader(tbl, protocol.Desktop)
	buf := protocol.NewBuffer(nil)
	var trickled []protocol.Variant
	for _, b := range stream {
		buf.Write([]byte{b})
		trickled = append(trickled, drain(t, r, buf)...)
	}

	assert.Equal(t, whole, trickled)
	assert.Equal(t, uint64(len(stream)), r.Bytes())
	assert.Equal(t, 0, buf.Len())
}
