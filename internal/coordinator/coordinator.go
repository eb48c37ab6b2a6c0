// Package coordinator wires the channels, the stream accumulator, the
// progress tracker, and the session lifecycle into one client-side unit.
// It is the only owner of the "current session" slots: conversation and
// run switches go through it so the routing slot and the local state swap
// together.
package coordinator

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/in-the-loop-labs/pair-review/internal/channel"
	"github.com/in-the-loop-labs/pair-review/internal/lifecycle"
	"github.com/in-the-loop-labs/pair-review/internal/logging"
	"github.com/in-the-loop-labs/pair-review/internal/progress"
	"github.com/in-the-loop-labs/pair-review/internal/stream"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// Config configures a Coordinator.
type Config struct {
	BaseURL      string
	ReviewID     string
	ProviderHint string

	// ChannelOptions are applied to both stream channels (test hooks,
	// reconnect tuning).
	ChannelOptions []channel.Option
	// LifecycleOptions are applied to the session client.
	LifecycleOptions []lifecycle.Option
	// Hooks for run-terminal side effects.
	ProgressHooks progress.Hooks
}

// Coordinator is the client-side sync layer for one review tab.
type Coordinator struct {
	lifecycle *lifecycle.Client

	chatChannel     *channel.Channel
	analysisChannel *channel.Channel

	mu      sync.Mutex
	acc     *stream.Accumulator
	tracker *progress.Tracker
	hooks   progress.Hooks
}

// New creates a coordinator. Channels stay unopened until a conversation
// or run is started.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		hooks: cfg.ProgressHooks,
	}

	lcOpts := append([]lifecycle.Option{lifecycle.WithProviderHint(cfg.ProviderHint)}, cfg.LifecycleOptions...)
	c.lifecycle = lifecycle.New(cfg.BaseURL, cfg.ReviewID, lcOpts...)
	c.lifecycle.OnSessionSwap = c.onSessionSwap

	c.chatChannel = channel.New(cfg.BaseURL+"/event/chat", c.handleChatEvent, cfg.ChannelOptions...)
	c.analysisChannel = channel.New(cfg.BaseURL+"/event/analysis", c.handleAnalysisEvent, cfg.ChannelOptions...)

	return c
}

// onSessionSwap runs whenever the lifecycle changes session id. The
// routing slot swaps before the accumulator so no frame for the new
// session can land in the old one.
func (c *Coordinator) onSessionSwap(sessionID string, info *types.Session) {
	c.chatChannel.Track(sessionID)

	c.mu.Lock()
	prev := c.acc
	var sink stream.Sink
	if prev != nil {
		// Carry the attached sink over to the new conversation.
		sink = prev.DetachAndGet()
	}
	if sessionID == "" {
		c.acc = nil
	} else {
		c.acc = stream.New(sessionID)
		if sink != nil {
			c.acc.Attach(sink)
		}
	}
	c.mu.Unlock()

	if info != nil && info.Context != nil && info.Context.SuggestionCount > 0 {
		logging.Debug().Str("sessionID", sessionID).
			Int("suggestions", info.Context.SuggestionCount).
			Msg("session created with preloaded suggestions")
	}
}

// handleChatEvent is the chat channel's session-scoped handler. The
// channel has already filtered by the tracked slot.
func (c *Coordinator) handleChatEvent(evt types.StreamEvent) {
	c.mu.Lock()
	acc := c.acc
	c.mu.Unlock()

	if acc == nil || acc.SessionID() != evt.SessionID {
		return
	}
	acc.Apply(evt)
}

// handleAnalysisEvent feeds the progress tracker for the watched run.
func (c *Coordinator) handleAnalysisEvent(evt types.StreamEvent) {
	c.mu.Lock()
	tracker := c.tracker
	c.mu.Unlock()

	if tracker == nil || tracker.RunID() != evt.SessionID {
		return
	}
	tracker.Apply(evt)
}

// NewConversation abandons the current session identifier and creates a
// fresh session. The server keeps the old history; client-side the slot,
// accumulator, and channel tracking all swap atomically relative to frame
// handling.
func (c *Coordinator) NewConversation(ctx context.Context, seedContextID string) (*types.Session, error) {
	session, err := c.lifecycle.CreateSession(ctx, seedContextID)
	if err != nil {
		return nil, err
	}
	c.chatChannel.Ensure()
	return session, nil
}

// Send records the user's message locally and sends it, lazily opening
// the chat channel. Stale-session recovery happens inside the lifecycle;
// the accumulator follows via the swap callback.
func (c *Coordinator) Send(ctx context.Context, payload lifecycle.SendPayload) (*lifecycle.SendResult, error) {
	c.chatChannel.Ensure()

	result, err := c.lifecycle.SendMessage(ctx, payload)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	acc := c.acc
	c.mu.Unlock()
	if acc != nil {
		acc.Append(types.Message{
			ID:        result.MessageID,
			SessionID: result.SessionID,
			Role:      types.RoleUser,
			Content:   payload.Content,
		})
	}
	return result, nil
}

// Abort cancels the in-flight turn. The local view finalizes with the
// accumulated partial content immediately; the abort round-trip is
// advisory and never waited on for UI state.
func (c *Coordinator) Abort(ctx context.Context) {
	sessionID := c.lifecycle.Current()

	c.mu.Lock()
	acc := c.acc
	c.mu.Unlock()
	if acc != nil {
		acc.Finalize(localMessageID())
	}

	c.lifecycle.Abort(ctx, sessionID)
}

// localMessageID names a message finalized client-side before the server
// assigned an id. The prefix keeps it distinguishable from server ids,
// so a later history fetch can reconcile the aborted turn.
func localMessageID() string {
	return "local-" + ulid.Make().String()
}

// Attach installs the UI sink on the current conversation.
func (c *Coordinator) Attach(sink stream.Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acc != nil {
		c.acc.Attach(sink)
	}
}

// Detach suppresses rendering while keeping state accumulation going.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acc != nil {
		c.acc.Detach()
	}
}

// Accumulator exposes the current conversation state for rendering.
// May be nil before the first conversation.
func (c *Coordinator) Accumulator() *stream.Accumulator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc
}

// WatchRun starts tracking an analysis run: the analysis channel routes
// for the run id and a fresh tracker owns its state.
func (c *Coordinator) WatchRun(run *types.Run) *progress.Tracker {
	tracker := progress.NewTracker(run, c.hooks)

	c.analysisChannel.Track(run.ID)
	c.mu.Lock()
	if c.tracker != nil {
		c.tracker.Close()
	}
	c.tracker = tracker
	c.mu.Unlock()

	c.analysisChannel.Ensure()
	return tracker
}

// Tracker returns the tracker for the watched run, nil if none.
func (c *Coordinator) Tracker() *progress.Tracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker
}

// Close shuts down both channels and any pending timers.
func (c *Coordinator) Close() {
	c.chatChannel.Shutdown()
	c.analysisChannel.Shutdown()

	c.mu.Lock()
	if c.tracker != nil {
		c.tracker.Close()
	}
	c.mu.Unlock()
}
