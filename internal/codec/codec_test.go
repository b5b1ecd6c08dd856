package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTransforms = []Transform{Plain, Add, Neg, Sub}

func TestTransformRoundTripEveryByte(t *testing.T) {
	for _, tr := range allTransforms {
		for v := 0; v < 256; v++ {
			b := byte(v)
			assert.Equal(t, b, tr.Decode(tr.Encode(b)), "%s(%d)", tr, v)
		}
	}
}

func TestTransformIsBijective(t *testing.T) {
	for _, tr := range allTransforms {
		seen := make(map[byte]bool, 256)
		for v := 0; v < 256; v++ {
			seen[tr.Encode(byte(v))] = true
		}
		assert.Len(t, seen, 256, tr.String())
	}
}

func TestTransformConstants(t *testing.T) {
	assert.Equal(t, byte(0x80), Add.Encode(0))
	assert.Equal(t, byte(0x7F), Add.Decode(0xFF))
	assert.Equal(t, byte(0xFF), Neg.Encode(1))
	assert.Equal(t, byte(0x00), Neg.Encode(0))
	assert.Equal(t, byte(0x7F), Sub.Encode(1))
}

func TestFieldWireLayouts(t *testing.T) {
	tests := []struct {
		field Field
		value uint32
		wire  []byte
	}{
		{Short, 0x1234, []byte{0x12, 0x34}},
		{ShortLE, 0x1234, []byte{0x34, 0x12}},
		{ShortAdd, 0x1234, []byte{0x12, 0xB4}},
		{ShortAddLE, 0x1234, []byte{0xB4, 0x12}},
		{Medium, 0x123456, []byte{0x12, 0x34, 0x56}},
		{Int, 0x11223344, []byte{0x11, 0x22, 0x33, 0x44}},
		{IntLE, 0x11223344, []byte{0x44, 0x33, 0x22, 0x11}},
		{IntME, 0x11223344, []byte{0x22, 0x11, 0x44, 0x33}},
		{IntIME, 0x11223344, []byte{0x33, 0x44, 0x11, 0x22}},
	}

	for _, tt := range tests {
		t.Run(tt.field.String(), func(t *testing.T) {
			wire, err := tt.field.Encode(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, wire)

			got, err := tt.field.Decode(tt.wire)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestFieldRoundTripSampledValues(t *testing.T) {
	fields := []Field{}
	for _, tr := range allTransforms {
		fields = append(fields,
			Field{Width: 1, Transform: tr},
			Field{Width: 2, Order: BigEndian, Transform: tr},
			Field{Width: 2, Order: LittleEndian, Transform: tr},
			Field{Width: 4, Order: BigEndian, Transform: tr},
			Field{Width: 4, Order: LittleEndian, Transform: tr},
			Field{Width: 4, Order: MiddleEndian, Transform: tr},
			Field{Width: 4, Order: InverseMiddleEndian, Transform: tr},
		)
	}

	for _, f := range fields {
		limit := uint64(1) << (8 * f.Width)
		step := limit / 4099
		if step == 0 {
			step = 1
		}
		for v := uint64(0); v < limit; v += step {
			wire, err := f.Encode(uint32(v))
			require.NoError(t, err)
			got, err := f.Decode(wire)
			require.NoError(t, err)
			require.Equal(t, uint32(v), got, "%s value %d", f, v)
		}
		// Boundaries.
		for _, v := range []uint64{0, 1, limit / 2, limit - 1} {
			wire, _ := f.Encode(uint32(v))
			got, _ := f.Decode(wire)
			assert.Equal(t, uint32(v), got, "%s value %d", f, v)
		}
	}
}

func TestFieldUnsupportedLayout(t *testing.T) {
	_, err := Field{Width: 2, Order: MiddleEndian}.Encode(1)
	assert.True(t, errors.Is(err, ErrUnsupportedLayout))

	_, err = Field{Width: 4, Order: MiddleEndian}.Decode([]byte{1, 2})
	assert.Error(t, err)
}

func TestSignedExtension(t *testing.T) {
	assert.Equal(t, int32(-1), Byte.Signed(0xFF))
	assert.Equal(t, int32(-2), Short.Signed(0xFFFE))
	assert.Equal(t, int32(32767), Short.Signed(0x7FFF))
	assert.Equal(t, int32(-1), Int.Signed(0xFFFFFFFF))
}

func TestReaderSequentialFields(t *testing.T) {
	payload := NewBuilder().
		WriteU16(3200, BigEndian, Add).
		WriteU8(0xFE, Neg).
		WriteU16(3201, LittleEndian, Add).
		WriteU32(0xCAFEBABE, InverseMiddleEndian).
		Build()

	r := NewReader(payload)
	x, err := r.I16(BigEndian, Add)
	require.NoError(t, err)
	assert.Equal(t, int16(3200), x)

	typ, err := r.I8(Neg)
	require.NoError(t, err)
	assert.Equal(t, int8(-2), typ)

	y, err := r.U16(LittleEndian, Add)
	require.NoError(t, err)
	assert.Equal(t, uint16(3201), y)

	c, err := r.U32(InverseMiddleEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), c)

	assert.Equal(t, 0, r.Remaining())
}

func TestReaderNeverReadsPastView(t *testing.T) {
	backing := []byte{1, 2, 3, 4, 5, 6}
	r := NewReader(backing[:2])

	_, err := r.U32(BigEndian)
	assert.True(t, errors.Is(err, ErrShortRead))
	assert.Equal(t, 0, r.Pos(), "failed read must not consume")

	v, err := r.U16(BigEndian, Plain)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), v)

	_, err = r.U8(Plain)
	assert.True(t, errors.Is(err, ErrShortRead))
}

func TestReaderBytesAreCopies(t *testing.T) {
	backing := []byte{9, 8, 7}
	r := NewReader(backing)
	out, err := r.Bytes(2)
	require.NoError(t, err)
	out[0] = 0
	assert.Equal(t, byte(9), backing[0])
	assert.Equal(t, []byte{7}, r.Rest())
	assert.Empty(t, r.Rest())
}

func TestStringCP1252(t *testing.T) {
	payload := NewBuilder().WriteStringCP1252("::tele 3200 €").WriteU8(7, Plain).Build()
	assert.Equal(t, byte(0x80), payload[len("::tele 3200 ")], "euro sign is 0x80 in cp1252")

	r := NewReader(payload)
	s, err := r.StringCP1252()
	require.NoError(t, err)
	assert.Equal(t, "::tele 3200 €", s)

	tail, err := r.U8(Plain)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), tail)
}

func TestStringCP1252Empty(t *testing.T) {
	r := NewReader([]byte{0})
	s, err := r.StringCP1252()
	require.NoError(t, err)
	assert.Equal(t, "", s)
	assert.Equal(t, 0, r.Remaining())
}

func TestStringCP1252Unterminated(t *testing.T) {
	r := NewReader([]byte("abc"))
	_, err := r.StringCP1252()
	assert.True(t, errors.Is(err, ErrUnterminatedString))
	assert.Equal(t, 0, r.Pos())
}

func TestBuilderFraming(t *testing.T) {
	b := NewBuilder().WriteBytes([]byte{1, 2, 3})

	assert.Equal(t, []byte{9, 1, 2, 3}, b.BuildFixed(9))

	u8, err := b.BuildPrefixedU8(9)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 3, 1, 2, 3}, u8)

	u16, err := b.BuildPrefixedU16LE(9)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 3, 0, 1, 2, 3}, u16)

	big := NewBuilder().WriteBytes(make([]byte, 256))
	_, err = big.BuildPrefixedU8(1)
	assert.Error(t, err)
}

func TestBuilderRecordsFirstError(t *testing.T) {
	b := NewBuilder().
		WriteField(Field{Width: 2, Order: InverseMiddleEndian}, 1).
		WriteU8(1, Plain)
	assert.True(t, errors.Is(b.Err(), ErrUnsupportedLayout))
	assert.Equal(t, 0, b.Len())

	b.Reset()
	assert.NoError(t, b.Err())
}
