// Package channel owns the shared inbound SSE connection for one push
// concern and fans matching events out to the session-scoped handler.
//
// At most one live connection exists per channel. Routing is by the
// logical-session slot, not by separate connections: frames for any other
// session are dropped on the floor, which is what keeps concurrent
// logical sessions isolated over a single transport.
package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/in-the-loop-labs/pair-review/internal/logging"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// DefaultReconnectDelay is the fixed backoff between reconnect attempts.
// Reconnects are rare enough here that growth and jitter buy nothing.
const DefaultReconnectDelay = 2 * time.Second

// Handler receives events routed to the tracked session, synchronously
// and in arrival order.
type Handler func(evt types.StreamEvent)

// Channel maintains one reconnecting SSE connection to a stream endpoint.
type Channel struct {
	endpoint string
	client   *http.Client
	handler  Handler

	mu             sync.Mutex
	conn           *connection
	reconnectTimer *time.Timer
	backoff        *backoff.ConstantBackOff
	tracked        string
	dialing        bool
	dialCancel     context.CancelFunc
	gen            uint64
	closed         bool
}

// connection is the live transport; cancel tears down the request context
// and with it the read loop.
type connection struct {
	cancel context.CancelFunc
	body   io.ReadCloser
}

// Option configures a Channel.
type Option func(*Channel)

// WithHTTPClient overrides the HTTP client used to dial the stream.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Channel) { c.client = client }
}

// WithReconnectDelay overrides the fixed reconnect backoff.
func WithReconnectDelay(delay time.Duration) Option {
	return func(c *Channel) { c.backoff = backoff.NewConstantBackOff(delay) }
}

// New creates a channel for a stream endpoint. The channel stays idle
// until the first Ensure call.
func New(endpoint string, handler Handler, opts ...Option) *Channel {
	c := &Channel{
		endpoint: endpoint,
		client:   &http.Client{}, // no timeout: the stream is long-lived
		handler:  handler,
		backoff:  backoff.NewConstantBackOff(DefaultReconnectDelay),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Track atomically swaps the logical session this channel routes for.
// Frames already in flight for the previous session stop matching the
// moment this returns.
func (c *Channel) Track(sessionID string) {
	c.mu.Lock()
	c.tracked = sessionID
	c.mu.Unlock()
}

// Tracked returns the currently tracked session id.
func (c *Channel) Tracked() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracked
}

// Ensure opens the connection if none is live. Idempotent: an existing
// non-closed connection is reused, never duplicated, and a dial already
// in flight is never doubled. Any pending reconnect timer is cleared
// either way.
//
// The dial itself runs outside the lock so a slow or hung server never
// blocks Track, Close, or frame dispatch.
func (c *Channel) Ensure() {
	c.mu.Lock()

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}

	if c.closed || c.conn != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.dialing = true
	c.dialCancel = cancel
	gen := c.gen
	c.mu.Unlock()

	body, err := c.dial(ctx)

	c.mu.Lock()
	c.dialing = false
	c.dialCancel = nil
	stale := c.closed || c.gen != gen
	if err != nil {
		if !stale {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		cancel()
		if !stale {
			logging.Warn().Err(err).Str("endpoint", c.endpoint).Msg("stream dial failed")
		}
		return
	}
	if stale {
		// Close or Shutdown raced the dial; discard the late connection.
		c.mu.Unlock()
		cancel()
		body.Close()
		return
	}

	conn := &connection{cancel: cancel, body: body}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
}

// dial issues the long-lived GET; runs unlocked.
func (c *Channel) dial(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type: %s", ct)
	}
	return resp.Body, nil
}

// readLoop parses SSE frames until the transport drops, then arranges a
// single reconnect. Each frame is handled synchronously to completion so
// two frames' effects never interleave.
func (c *Channel) readLoop(conn *connection) {
	reader := bufio.NewReader(conn.body)
	var data strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimRight(line, "\r\n")

		// Empty line terminates one frame.
		if line == "" {
			if data.Len() > 0 {
				c.dispatch(data.String())
				data.Reset()
			}
			continue
		}

		// Comment lines are heartbeats.
		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "data:") {
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// "event:" labels are ignored; the payload's type field is
		// authoritative.
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if !c.closed {
			c.scheduleReconnectLocked()
		}
	}
	c.mu.Unlock()
}

// dispatch parses one frame and routes it. A malformed frame is logged
// and isolated; the channel never dies from bad data.
func (c *Channel) dispatch(payload string) {
	var evt types.StreamEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		logging.Warn().Err(err).Str("endpoint", c.endpoint).Msg("dropping malformed stream frame")
		return
	}

	// Channel-level handshake, no session semantics.
	if evt.Type == types.EventConnected && evt.SessionID == "" {
		logging.Debug().Str("endpoint", c.endpoint).Msg("stream handshake")
		return
	}

	c.mu.Lock()
	tracked := c.tracked
	c.mu.Unlock()

	// Isolation invariant: frames for any other logical session are
	// silently dropped.
	if evt.SessionID != tracked {
		return
	}

	if c.handler != nil {
		c.handler(evt)
	}
}

// scheduleReconnectLocked arms exactly one reconnect attempt. Caller
// holds the lock.
func (c *Channel) scheduleReconnectLocked() {
	if c.reconnectTimer != nil {
		return
	}
	delay := c.backoff.NextBackOff()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.Ensure()
	})
}

// Close cancels any pending reconnect and tears down the live connection.
// Safe to call when nothing is open. The channel can be reopened later
// with Ensure.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	dialCancel := c.dialCancel
	c.mu.Unlock()

	if dialCancel != nil {
		dialCancel()
	}
	if conn != nil {
		conn.cancel()
		conn.body.Close()
	}
}

// Shutdown closes the channel permanently; Ensure becomes a no-op.
func (c *Channel) Shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Close()
}

// Connected reports whether a live connection exists.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// ReconnectPending reports whether a reconnect attempt is armed.
func (c *Channel) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectTimer != nil
}
