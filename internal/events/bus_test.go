package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitDeliversToSubscribers(t *testing.T) {
	bus := NewEventBusWithWorkers(4)
	defer bus.Stop()

	got := make(chan Event, 2)
	bus.Subscribe(EventConnectionOpened, "a", func(_ context.Context, e Event) error {
		got <- e
		return nil
	})
	bus.Subscribe(EventConnectionOpened, "b", func(_ context.Context, e Event) error {
		got <- e
		return nil
	})
	assert.Equal(t, 2, bus.HandlerCount(EventConnectionOpened))

	bus.Emit(context.Background(), Event{Type: EventConnectionOpened, Source: "test"})
	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			assert.Equal(t, "test", e.Source)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	want := errors.New("store unavailable")
	bus.Subscribe(EventProtocolViolation, "audit", func(context.Context, Event) error { return want })

	err := bus.EmitSync(context.Background(), Event{Type: EventProtocolViolation})
	assert.ErrorIs(t, err, want)
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls int32
	bus.Subscribe(EventHandlerError, "panics", func(context.Context, Event) error { panic("boom") })
	bus.Subscribe(EventHandlerError, "counts", func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventHandlerError}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventShutdown, "x", func(context.Context, Event) error { return nil })
	bus.Unsubscribe(EventShutdown, "x")
	assert.Equal(t, 0, bus.HandlerCount(EventShutdown))

	bus.Stop()
	bus.Stop()
	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}
	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventShutdown}))
}

func TestCloseReasonJSON(t *testing.T) {
	b, err := CloseReasonViolation.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"violation"`, string(b))
	assert.Equal(t, "unknown", CloseReason(99).String())
}
