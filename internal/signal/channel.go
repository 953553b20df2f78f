package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatter-io/chatter/internal/util"
)

// ErrNotConnected is returned by Send when the channel is not in the
// connected phase. The caller decides whether to retry or surface it.
var ErrNotConnected = errors.New("signal channel not connected")

// Phase is the observable connection state of the channel.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	// PhaseError means reconnect attempts are exhausted; the channel stays
	// here until Open is called again.
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseError:
		return "error"
	}
	return "unknown"
}

// Options configures a Channel.
type Options struct {
	URL               string // WebSocket endpoint of the relay, e.g. ws://host/ws
	ReconnectAttempts int    // consecutive dial attempts before giving up
	ReconnectDelay    time.Duration
}

// Channel is a persistent duplex message channel to the relay server.
//
// Inbound messages are delivered to the handler registered for their event,
// in the order received from the transport — no reordering, no deduplication.
// Outbound sends are serialized through a single write lock, preserving FIFO
// order within this peer's stream.
//
// The connection is re-established automatically after an unexpected drop,
// with a bounded number of attempts and a fixed delay. Once attempts are
// exhausted the channel parks in PhaseError until Open is called again.
type Channel struct {
	url      string
	attempts int
	delay    time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	phase    Phase
	changed  chan struct{} // closed and replaced on every phase transition
	running  bool
	closed   bool
	handlers map[Event]func(Message)
	observer func(Phase)

	wmu sync.Mutex // serializes WriteJSON on the live connection
}

// NewChannel creates a channel for the given relay endpoint. Zero attempts or
// delay fall back to the defaults observed in production (5 attempts, 1s).
func NewChannel(opts Options) *Channel {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	return &Channel{
		url:      opts.URL,
		attempts: opts.ReconnectAttempts,
		delay:    opts.ReconnectDelay,
		changed:  make(chan struct{}),
		handlers: make(map[Event]func(Message)),
	}
}

// Handle registers the handler for an inbound event. One handler per event,
// registered before Open; later registrations replace earlier ones.
func (c *Channel) Handle(ev Event, fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[ev] = fn
}

// OnPhase registers the phase observer. It is invoked on every transition,
// outside the channel's internal locks.
func (c *Channel) OnPhase(fn func(Phase)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

// Phase returns the current connection phase.
func (c *Channel) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Open starts the connection manager. It is idempotent while the channel is
// already connecting or connected, and restarts the manager after the channel
// parked in PhaseError. Open returns immediately; observe phases or use
// WaitConnected to learn the outcome.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("signal channel is closed")
	}
	if c.running {
		return nil
	}
	c.running = true
	go c.run(ctx)
	return nil
}

// WaitConnected blocks until the channel reaches the connected phase, parks
// in PhaseError, or ctx is cancelled.
func (c *Channel) WaitConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		phase, changed := c.phase, c.changed
		c.mu.Unlock()

		switch phase {
		case PhaseConnected:
			return nil
		case PhaseError:
			return fmt.Errorf("signal channel gave up after %d attempts", c.attempts)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send writes a message to the relay. It fails with ErrNotConnected when the
// channel is not in the connected phase; it never queues.
func (c *Channel) Send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.phase == PhaseConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Event, err)
	}
	return nil
}

// Close tears the channel down and stops reconnecting. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.setPhase(PhaseDisconnected)
	return nil
}

// run is the connection manager goroutine: dial with bounded retries, pump
// inbound messages until the connection drops, repeat. Exits on Close, on
// ctx cancellation, or after parking in PhaseError.
func (c *Channel) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				c.setPhase(PhaseDisconnected)
				return
			}
			util.LogError("signal channel gave up: %v", err)
			c.setPhase(PhaseError)
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()
		c.setPhase(PhaseConnected)

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if c.isClosed() || ctx.Err() != nil {
			c.setPhase(PhaseDisconnected)
			return
		}
		util.LogWarning("signal channel dropped, reconnecting")
		c.setPhase(PhaseDisconnected)
	}
}

// dial attempts the WebSocket handshake up to c.attempts times with a fixed
// delay between tries.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if c.isClosed() {
			return nil, errors.New("channel closed")
		}
		c.setPhase(PhaseConnecting)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		util.LogDebug("dial %s failed (attempt %d/%d): %v", c.url, i+1, c.attempts, err)

		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("connect to %s: %w", c.url, lastErr)
}

// readLoop pumps inbound messages until the connection errors out. Handlers
// run on this goroutine, so delivery order matches receipt order.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		c.mu.Lock()
		handler := c.handlers[msg.Event]
		c.mu.Unlock()

		if handler == nil {
			util.LogDebug("no handler for inbound %q, dropped", msg.Event)
			continue
		}
		handler(msg)
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) setPhase(p Phase) {
	c.mu.Lock()
	if c.phase == p {
		c.mu.Unlock()
		return
	}
	c.phase = p
	close(c.changed)
	c.changed = make(chan struct{})
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer(p)
	}
}
