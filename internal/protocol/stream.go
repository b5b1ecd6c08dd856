package protocol

import (
	"errors"
	"sync"
)

// Stream is the view of a connection's inbound bytes the frame reader
// needs. Len must not block. netpoll.Reader satisfies it.
type Stream interface {
	// Len returns the number of buffered, unread bytes.
	Len() int
	// Peek returns the next n bytes without consuming them.
	Peek(n int) ([]byte, error)
	// Skip discards the next n bytes.
	Skip(n int) error
}

var (
	errBufferShort = errors.New("protocol: buffer has fewer bytes than requested")
	errNoMessage   = errors.New("protocol: decode routine returned no message")
)

// Buffer is an in-memory Stream fed by Write. Consumed bytes are
// reclaimed once they make up more than half of the backing slice, so
// draining n bytes costs O(n) regardless of frame size.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	off  int

	// moved counts bytes shifted by compaction.
	moved int
}

// NewBuffer returns a Buffer holding a copy of initial.
func NewBuffer(initial []byte) *Buffer {
	b := &Buffer{}
	b.Write(initial)
	return b
}

// Write appends p. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return len(p), nil
}

// Len implements Stream.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.off
}

// Peek implements Stream. The returned slice is only valid until the next
// Skip or Write.
func (b *Buffer) Peek(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 || n > len(b.data)-b.off {
		return nil, errBufferShort
	}
	return b.data[b.off : b.off+n], nil
}

// Skip implements Stream.
func (b *Buffer) Skip(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 || n > len(b.data)-b.off {
		return errBufferShort
	}
	b.off += n

	switch {
	case b.off == len(b.data):
		b.data = b.data[:0]
		b.off = 0
	case b.off > len(b.data)/2:
		rest := copy(b.data, b.data[b.off:])
		b.moved += rest
		b.data = b.data[:rest]
		b.off = 0
	}
	return nil
}
