// Package handler binds downstream consumers to client message kinds.
package handler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Nozemi/rsmod/internal/protocol"
)

// Set holds one handler per message kind plus a fallback for kinds that
// were never bound. It is filled at startup and read while the descriptor
// table is built.
type Set struct {
	mu       sync.RWMutex
	handlers map[string]protocol.Handler
	fallback protocol.Handler
}

// NewSet returns an empty set. A nil fallback becomes protocol.NopHandler.
func NewSet(fallback protocol.Handler) *Set {
	if fallback == nil {
		fallback = protocol.NopHandler
	}
	return &Set{
		handlers: make(map[string]protocol.Handler),
		fallback: fallback,
	}
}

// Bind sets the handler for kind, replacing any earlier binding.
func (s *Set) Bind(kind string, h protocol.Handler) *Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
	return s
}

// For returns the handler bound to kind. It is safe on a nil set.
func (s *Set) For(kind string) protocol.Handler {
	if s == nil {
		return protocol.NopHandler
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.handlers[kind]; ok && h != nil {
		return h
	}
	return s.fallback
}

// Kinds returns the explicitly bound kinds.
func (s *Set) Kinds() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for k := range s.handlers {
		out = append(out, k)
	}
	return out
}

// PanicError is returned by Invoke when a handler panics.
type PanicError struct {
	Kind  string
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler for %s panicked: %v", e.Kind, e.Value)
}

// Invoke runs the descriptor's handler on v, turning a panic into a
// *PanicError.
func Invoke(ctx context.Context, d *protocol.Descriptor, v protocol.Variant) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Kind: v.Kind(), Value: r, Stack: debug.Stack()}
		}
	}()
	return d.Handler().Process(ctx, v)
}
