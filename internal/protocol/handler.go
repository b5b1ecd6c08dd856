package protocol

import (
	"context"

	"github.com/Nozemi/rsmod/internal/codec"
)

// Variant is an immutable decoded client message.
type Variant interface {
	// Kind names the message shape, e.g. "if_button".
	Kind() string
}

// DecodeFunc turns a payload bounded to the resolved length into a Variant.
// d gives access to the descriptor's precomputed variant tags.
type DecodeFunc func(opcode uint8, d *Descriptor, r *codec.Reader) (Variant, error)

// Handler consumes decoded messages. Errors are reported, never propagated
// back into the decode path.
type Handler interface {
	Process(ctx context.Context, v Variant) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, v Variant) error

// Process implements Handler.
func (f HandlerFunc) Process(ctx context.Context, v Variant) error {
	return f(ctx, v)
}

// NopHandler accepts every message.
var NopHandler Handler = HandlerFunc(func(context.Context, Variant) error { return nil })
