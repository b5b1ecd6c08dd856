package codec

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrShortRead          = errors.New("codec: read past end of payload")
	ErrUnterminatedString = errors.New("codec: unterminated string")
)

// Reader consumes fields from a payload view. It never reads past the end
// of the slice it was created with.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over b. The slice is not copied.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Len returns the size of the whole view.
func (r *Reader) Len() int {
	return len(r.buf)
}

// Pos returns the number of bytes consumed so far.
func (r *Reader) Pos() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, r.pos, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Field reads one integer field and returns its unsigned value.
func (r *Reader) Field(f Field) (uint32, error) {
	b, err := r.take(f.Width)
	if err != nil {
		return 0, err
	}
	return f.Decode(b)
}

// SignedField reads one integer field and sign-extends it.
func (r *Reader) SignedField(f Field) (int32, error) {
	v, err := r.Field(f)
	if err != nil {
		return 0, err
	}
	return f.Signed(v), nil
}

// U8 reads an unsigned byte with transform t.
func (r *Reader) U8(t Transform) (uint8, error) {
	v, err := r.Field(Field{Width: 1, Transform: t})
	return uint8(v), err
}

// I8 reads a signed byte with transform t.
func (r *Reader) I8(t Transform) (int8, error) {
	v, err := r.SignedField(Field{Width: 1, Transform: t})
	return int8(v), err
}

// U16 reads an unsigned short.
func (r *Reader) U16(o Order, t Transform) (uint16, error) {
	v, err := r.Field(Field{Width: 2, Order: o, Transform: t})
	return uint16(v), err
}

// I16 reads a signed short.
func (r *Reader) I16(o Order, t Transform) (int16, error) {
	v, err := r.SignedField(Field{Width: 2, Order: o, Transform: t})
	return int16(v), err
}

// U32 reads an unsigned int.
func (r *Reader) U32(o Order) (uint32, error) {
	return r.Field(Field{Width: 4, Order: o})
}

// I32 reads a signed int.
func (r *Reader) I32(o Order) (int32, error) {
	return r.SignedField(Field{Width: 4, Order: o})
}

// Bytes returns a copy of the next n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Rest returns a copy of every unread byte.
func (r *Reader) Rest() []byte {
	b, _ := r.Bytes(r.Remaining())
	return b
}

// StringCP1252 reads a null-terminated Windows-1252 string.
func (r *Reader) StringCP1252() (string, error) {
	idx := bytes.IndexByte(r.buf[r.pos:], 0)
	if idx < 0 {
		return "", fmt.Errorf("%w at offset %d", ErrUnterminatedString, r.pos)
	}
	raw := r.buf[r.pos : r.pos+idx]
	r.pos += idx + 1
	return DecodeCP1252(raw)
}
