package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cloudwego/netpoll"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Nozemi/rsmod/internal/config"
	"github.com/Nozemi/rsmod/internal/db"
	"github.com/Nozemi/rsmod/internal/events"
	"github.com/Nozemi/rsmod/internal/handler"
	"github.com/Nozemi/rsmod/internal/metrics"
	"github.com/Nozemi/rsmod/internal/protocol"
)

// auditTimeout bounds how long a violation write may hold the event loop.
const auditTimeout = 2 * time.Second

// ViolationRecorder persists protocol violations.
type ViolationRecorder interface {
	Record(ctx context.Context, v db.Violation) (int64, error)
}

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

type sessionKey struct{}

// Option configures a Gateway.
type Option func(*Gateway)

// WithEventBus publishes connection and violation events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(g *Gateway) { g.bus = bus }
}

// WithMetrics records gateway metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithViolationRecorder stores every terminal protocol error.
func WithViolationRecorder(r ViolationRecorder) Option {
	return func(g *Gateway) { g.audit = r }
}

// Gateway accepts client connections and turns their byte streams into
// dispatched messages.
type Gateway struct {
	cfg      config.GatewayConfig
	table    *protocol.Table
	device   protocol.Device
	registry *ConnectionRegistry
	bus      *events.EventBus
	metrics  *metrics.Metrics
	audit    ViolationRecorder
	logger   zerolog.Logger

	mu       sync.Mutex
	loop     netpoll.EventLoop
	listener net.Listener
	stopped  bool
	ready    chan struct{}
}

// NewGateway creates a gateway serving table for the configured device.
func NewGateway(cfg config.GatewayConfig, table *protocol.Table, opts ...Option) (*Gateway, error) {
	device, err := protocol.ParseDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	if table.OpcodeCount(device) == 0 {
		return nil, fmt.Errorf("no client messages registered for device %s", device)
	}

	g := &Gateway{
		cfg:      cfg,
		table:    table,
		device:   device,
		registry: NewConnectionRegistry(),
		logger:   log.With().Str("component", "gateway").Logger(),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Registry returns the live session registry.
func (g *Gateway) Registry() *ConnectionRegistry { return g.registry }

// Device returns the device the gateway decodes for.
func (g *Gateway) Device() protocol.Device { return g.device }

// Table returns the descriptor table.
func (g *Gateway) Table() *protocol.Table { return g.table }

// Ready is closed once the listener is bound.
func (g *Gateway) Ready() <-chan struct{} { return g.ready }

// Addr returns the bound listener address, or nil before Ready.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Start binds the listener and serves until ctx is cancelled or Stop is
// called.
func (g *Gateway) Start(ctx context.Context) error {
	addr := g.cfg.Address()

	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start gateway listener on %s: %w", addr, err)
	}
	pl, err := netpoll.ConvertListener(ln)
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to convert listener on %s: %w", addr, err)
	}

	loopOpts := []netpoll.Option{
		netpoll.WithOnConnect(g.onConnect),
		netpoll.WithOnDisconnect(g.onDisconnect),
	}
	if g.cfg.IdleTimeoutSec > 0 {
		loopOpts = append(loopOpts, netpoll.WithIdleTimeout(g.cfg.IdleTimeout()))
	}
	loop, err := netpoll.NewEventLoop(g.onRequest, loopOpts...)
	if err != nil {
		pl.Close()
		return fmt.Errorf("failed to create event loop: %w", err)
	}

	g.mu.Lock()
	g.loop = loop
	g.listener = pl
	g.mu.Unlock()
	close(g.ready)

	g.logger.Info().
		Str("addr", pl.Addr().String()).
		Str("device", g.device.String()).
		Int("opcodes", g.table.OpcodeCount(g.device)).
		Int("max_frame_bytes", g.cfg.MaxFrameBytes).
		Msg("gateway listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.Stop(shutdownCtx)
	}()

	if err := loop.Serve(pl); err != nil && ctx.Err() == nil && !g.isStopped() {
		return fmt.Errorf("gateway stopped: %w", err)
	}
	g.logger.Info().Msg("gateway stopped")
	return nil
}

// Stop closes every session and shuts the event loop down.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	loop := g.loop
	g.loop = nil
	g.stopped = true
	g.mu.Unlock()

	if loop == nil {
		return nil
	}
	g.registry.CloseAll(events.CloseReasonShutdown)
	return loop.Shutdown(ctx)
}

func (g *Gateway) isStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// Sessions returns a snapshot of every live session, oldest first.
func (g *Gateway) Sessions() []ConnectionStats {
	conns := g.registry.GetAll()
	out := make([]ConnectionStats, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Stats())
	}
	return out
}

// SessionCount returns the number of live sessions.
func (g *Gateway) SessionCount() int { return g.registry.Count() }

// CloseSession drops a session on operator request.
func (g *Gateway) CloseSession(id string) error {
	c, ok := g.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return c.Close(events.CloseReasonOperator)
}

// SweepStale closes sessions idle for longer than the configured timeout.
func (g *Gateway) SweepStale() int {
	if g.cfg.IdleTimeoutSec <= 0 {
		return 0
	}
	return g.registry.CleanStale(g.cfg.IdleTimeout())
}

func (g *Gateway) onConnect(ctx context.Context, nc netpoll.Connection) context.Context {
	c := g.accept(ctx, nc)
	nc.AddCloseCallback(func(netpoll.Connection) error {
		return c.Close(events.CloseReasonRemote)
	})
	return context.WithValue(ctx, sessionKey{}, c)
}

func (g *Gateway) onDisconnect(ctx context.Context, nc netpoll.Connection) {
	if c, ok := ctx.Value(sessionKey{}).(*Connection); ok {
		c.Close(events.CloseReasonRemote)
	}
}

func (g *Gateway) onRequest(ctx context.Context, nc netpoll.Connection) error {
	c, ok := ctx.Value(sessionKey{}).(*Connection)
	if !ok {
		return nc.Close()
	}

	reader := nc.Reader()
	defer reader.Release()

	// Drain the socket into the session inbox; netpoll re-invokes
	// OnRequest while unread bytes remain.
	data, err := reader.ReadBinary(reader.Len())
	if err != nil {
		c.Close(events.CloseReasonRemote)
		return err
	}
	c.Ingest(data)
	g.process(ctx, c)
	return nil
}

// accept registers a new session for conn.
func (g *Gateway) accept(ctx context.Context, conn net.Conn) *Connection {
	c := NewConnection(conn, g.table, g.device, g.cfg.MaxFrameBytes)
	c.setOnClose(func(c *Connection) { g.release(context.Background(), c) })
	g.registry.Register(c)
	g.metrics.ConnectionOpened()

	c.Logger().Info().Str("device", g.device.String()).Msg("connection opened")
	g.emit(ctx, events.EventConnectionOpened, c.ID(), events.ConnectionPayload{
		SessionID: c.ID(),
		Remote:    c.Remote(),
		Device:    g.device.String(),
		At:        c.ConnectedAt(),
	})
	return c
}

// release drops a closed session's registry entry once.
func (g *Gateway) release(ctx context.Context, c *Connection) {
	if !c.markReleased() {
		return
	}
	g.registry.Unregister(c.ID())
	g.metrics.ConnectionClosed()

	stats := c.Stats()
	g.emit(ctx, events.EventConnectionClosed, c.ID(), events.ConnectionPayload{
		SessionID: c.ID(),
		Remote:    c.Remote(),
		Device:    g.device.String(),
		Reason:    c.CloseReason(),
		Frames:    stats.Frames,
		Bytes:     stats.BytesConsumed,
		At:        time.Now(),
	})
}

// process decodes and dispatches every complete frame in the inbox. It
// never waits for bytes.
func (g *Gateway) process(ctx context.Context, c *Connection) {
	for !c.IsClosed() {
		frame, err := c.NextFrame()
		if errors.Is(err, protocol.ErrIncompleteFrame) {
			return
		}
		if err != nil {
			g.violation(ctx, c, err)
			return
		}
		g.dispatch(ctx, c, frame)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Connection, frame protocol.DecodedFrame) {
	name := frame.Descriptor.Name()
	g.metrics.FrameDecoded(name, frame.Size())

	start := time.Now()
	err := handler.Invoke(ctx, frame.Descriptor, frame.Variant)
	errType := ""
	if err != nil {
		var pe *handler.PanicError
		panicked := errors.As(err, &pe)
		errType = "error"
		if panicked {
			errType = "panic"
		}

		ev := c.Logger().Error().Err(err).Str("message", name).Uint8("opcode", frame.Opcode)
		if panicked {
			ev = ev.Bytes("stack", pe.Stack)
		}
		ev.Msg("handler failed")

		g.emit(ctx, events.EventHandlerError, c.ID(), events.HandlerErrorPayload{
			SessionID: c.ID(),
			Message:   name,
			Error:     err.Error(),
			Panicked:  panicked,
		})
	}
	g.metrics.HandlerDone(name, time.Since(start), errType)

	g.emit(ctx, events.EventFrameDecoded, c.ID(), events.FramePayload{
		SessionID: c.ID(),
		Opcode:    frame.Opcode,
		Message:   name,
		Size:      frame.Size(),
	})
}

// violation terminates a session that broke the wire protocol.
func (g *Gateway) violation(ctx context.Context, c *Connection, err error) {
	kind := protocol.ViolationKind(err)
	opcode := violationOpcode(err)

	c.Logger().Warn().
		Err(err).
		Str("kind", kind).
		Int("opcode", opcode).
		Msg("protocol violation, closing connection")

	g.metrics.Violation(kind)

	v := db.Violation{
		SessionID:  c.ID(),
		Remote:     c.Remote(),
		Device:     g.device.String(),
		Kind:       kind,
		Opcode:     opcode,
		Detail:     err.Error(),
		OccurredAt: time.Now(),
	}
	if g.audit != nil {
		auditCtx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		if _, aerr := g.audit.Record(auditCtx, v); aerr != nil {
			c.Logger().Error().Err(aerr).Msg("failed to record violation")
		}
		cancel()
	}

	g.emit(ctx, events.EventProtocolViolation, c.ID(), events.ViolationPayload{
		SessionID: v.SessionID,
		Remote:    v.Remote,
		Device:    v.Device,
		Kind:      v.Kind,
		Opcode:    v.Opcode,
		Detail:    v.Detail,
		At:        v.OccurredAt,
	})

	c.Close(events.CloseReasonViolation)
}

func (g *Gateway) emit(ctx context.Context, t events.EventType, session string, payload interface{}) {
	if g.bus == nil {
		return
	}
	g.bus.Emit(ctx, events.Event{Type: t, Source: "session:" + session, Payload: payload})
}

// violationOpcode extracts the offending opcode, or -1 when the error does
// not carry one.
func violationOpcode(err error) int {
	var unknown *protocol.UnknownOpcodeError
	if errors.As(err, &unknown) {
		return int(unknown.Opcode)
	}
	var malformed *protocol.MalformedPayloadError
	if errors.As(err, &malformed) {
		return int(malformed.Opcode)
	}
	var tooLarge *protocol.FrameTooLargeError
	if errors.As(err, &tooLarge) {
		return int(tooLarge.Opcode)
	}
	return -1
}
