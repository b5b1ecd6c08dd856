// Package network implements the client gateway: the netpoll event loop,
// per-connection decode state and the registry of live sessions.
package network

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Nozemi/rsmod/internal/events"
	"github.com/Nozemi/rsmod/internal/protocol"
)

// Connection is one client session. Inbound bytes are appended to an
// inbox buffer and decoded in arrival order by the session's FrameReader.
// Ingest and NextFrame must be called from a single goroutine at a time;
// every other method is safe for concurrent use.
type Connection struct {
	mu     sync.Mutex
	id     string
	conn   net.Conn
	remote string
	device protocol.Device
	logger zerolog.Logger

	inbox  *protocol.Buffer
	reader *protocol.FrameReader

	connectedAt  time.Time
	lastActivity time.Time
	state        protocol.ReadState

	frames   atomic.Uint64
	bytes    atomic.Uint64
	received atomic.Uint64

	closed   bool
	reason   events.CloseReason
	released atomic.Bool
	onClose  func(*Connection)
}

// NewConnection wraps conn with a fresh session ID and frame reader.
func NewConnection(conn net.Conn, table *protocol.Table, device protocol.Device, maxFrameBytes int) *Connection {
	now := time.Now()
	id := uuid.NewString()
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	logger := log.With().
		Str("component", "connection").
		Str("session", id).
		Str("remote", remote).
		Logger()

	return &Connection{
		id:           id,
		conn:         conn,
		remote:       remote,
		device:       device,
		logger:       logger,
		inbox:        protocol.NewBuffer(nil),
		reader:       protocol.NewFrameReader(table, device, protocol.WithMaxFrameBytes(maxFrameBytes), protocol.WithLogger(logger)),
		connectedAt:  now,
		lastActivity: now,
	}
}

// ID returns the session ID.
func (c *Connection) ID() string { return c.id }

// Device returns the client device the session decodes for.
func (c *Connection) Device() protocol.Device { return c.device }

// Remote returns the peer address.
func (c *Connection) Remote() string { return c.remote }

// Logger returns the session logger.
func (c *Connection) Logger() *zerolog.Logger { return &c.logger }

// Ingest appends bytes read from the socket.
func (c *Connection) Ingest(p []byte) {
	if len(p) == 0 {
		return
	}
	c.inbox.Write(p)
	c.received.Add(uint64(len(p)))

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// NextFrame decodes the next complete frame from the inbox.
// protocol.ErrIncompleteFrame means wait for more bytes.
func (c *Connection) NextFrame() (protocol.DecodedFrame, error) {
	frame, err := c.reader.Next(c.inbox)

	c.mu.Lock()
	c.state = c.reader.State()
	c.mu.Unlock()

	if err == nil {
		c.frames.Store(c.reader.Frames())
		c.bytes.Store(c.reader.Bytes())
	}
	return frame, err
}

// Close closes the socket once, recording why. The close hook runs after
// the socket is closed and outside any lock.
func (c *Connection) Close(reason events.CloseReason) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.reason = reason
	hook := c.onClose
	c.mu.Unlock()

	err := c.conn.Close()
	c.logger.Info().Str("reason", reason.String()).Msg("connection closed")
	if hook != nil {
		hook(c)
	}
	return err
}

// setOnClose installs the hook Close runs.
func (c *Connection) setOnClose(fn func(*Connection)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// markReleased reports whether this call is the first to release the
// session's resources.
func (c *Connection) markReleased() bool {
	return c.released.CompareAndSwap(false, true)
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseReason returns why the connection was closed.
func (c *Connection) CloseReason() events.CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// LastActivity returns the time bytes last arrived.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// ConnectionStats is a snapshot of a session for operators.
type ConnectionStats struct {
	SessionID     string    `json:"session_id"`
	Remote        string    `json:"remote"`
	Device        string    `json:"device"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
	State         string    `json:"state"`
	Frames        uint64    `json:"frames"`
	BytesConsumed uint64    `json:"bytes_consumed"`
	BytesReceived uint64    `json:"bytes_received"`
	Buffered      int       `json:"buffered"`
}

// Stats returns a snapshot of the session.
func (c *Connection) Stats() ConnectionStats {
	c.mu.Lock()
	last, state := c.lastActivity, c.state
	c.mu.Unlock()

	return ConnectionStats{
		SessionID:     c.id,
		Remote:        c.remote,
		Device:        c.device.String(),
		ConnectedAt:   c.connectedAt,
		LastActivity:  last,
		State:         state.String(),
		Frames:        c.frames.Load(),
		BytesConsumed: c.bytes.Load(),
		BytesReceived: c.received.Load(),
		Buffered:      c.inbox.Len(),
	}
}

// ConnectionRegistry tracks live sessions by ID. It never closes a
// connection while holding its lock, since closing re-enters the registry
// through the close hook.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*Connection),
	}
}

// Register adds a connection to the registry.
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
	log.Debug().Str("session", conn.ID()).Msg("connection registered")
}

// Unregister removes a connection from the registry without closing it.
func (r *ConnectionRegistry) Unregister(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		log.Debug().Str("session", id).Msg("connection unregistered")
	}
	return conn, ok
}

// Get returns the connection for a session ID.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// GetAll returns all live connections, oldest first.
func (r *ConnectionRegistry) GetAll() []*Connection {
	r.mu.RLock()
	result := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		result = append(result, c)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectedAt().Before(result[j].ConnectedAt())
	})
	return result
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every connection with reason.
func (r *ConnectionRegistry) CloseAll(reason events.CloseReason) {
	for _, c := range r.GetAll() {
		c.Close(reason)
	}
	log.Info().Msg("all connections closed")
}

// CleanStale closes connections that have been inactive for longer than
// timeout and returns how many it closed.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	var stale []*Connection
	for _, c := range r.GetAll() {
		if !c.IsClosed() && c.LastActivity().Before(cutoff) {
			stale = append(stale, c)
		}
	}

	for _, c := range stale {
		log.Warn().
			Str("session", c.ID()).
			Time("last_activity", c.LastActivity()).
			Msg("cleaned stale connection")
		c.Close(events.CloseReasonIdle)
	}
	return len(stale)
}
