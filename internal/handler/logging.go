package handler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Nozemi/rsmod/internal/protocol"
)

// NewLogging returns a set whose fallback logs every message at debug
// level. Game mechanics bind their own handlers on top of it.
func NewLogging(logger zerolog.Logger) *Set {
	return NewSet(Logging(logger))
}

// Logging returns a handler that logs each message it receives.
func Logging(logger zerolog.Logger) protocol.Handler {
	return protocol.HandlerFunc(func(ctx context.Context, v protocol.Variant) error {
		ev := logger.Debug().Str("kind", v.Kind())
		if s, ok := v.(fmt.Stringer); ok {
			ev = ev.Str("message", s.String())
		} else {
			ev = ev.Interface("message", v)
		}
		ev.Msg("client message")
		return nil
	})
}
