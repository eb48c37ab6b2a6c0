// Package session provides the server-side session registry: creation,
// TTL-based expiry, message history, and the streaming turn loop that
// feeds the chat event channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/in-the-loop-labs/pair-review/internal/event"
	"github.com/in-the-loop-labs/pair-review/internal/logging"
	"github.com/in-the-loop-labs/pair-review/internal/review"
	"github.com/in-the-loop-labs/pair-review/internal/storage"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// ErrSessionGone is returned when a session is unknown or has passed its
// TTL. The HTTP layer maps it to 410 so clients run their stale-session
// recovery.
var ErrSessionGone = errors.New("session gone")

// ErrTurnActive is returned when a message arrives while the session is
// already streaming a response.
var ErrTurnActive = errors.New("turn already in progress")

// DefaultTTL is how long a session stays addressable without activity.
const DefaultTTL = 30 * time.Minute

// Service manages session lifecycle and in-flight turns.
type Service struct {
	storage *storage.Storage
	bus     *event.Bus
	review  *review.Service
	ttl     time.Duration

	mu      sync.Mutex
	expires map[string]time.Time
	turns   map[string]chan struct{}

	// Responder produces the assistant reply for a turn. Replaceable so
	// the test harness can script deterministic output.
	Responder Responder

	// streamDelay paces delta frames. Tests shrink it.
	streamDelay time.Duration
}

// NewService creates a session service.
func NewService(store *storage.Storage, bus *event.Bus, reviewSvc *review.Service, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		storage:     store,
		bus:         bus,
		review:      reviewSvc,
		ttl:         ttl,
		expires:     make(map[string]time.Time),
		turns:       make(map[string]chan struct{}),
		Responder:   defaultResponder,
		streamDelay: 20 * time.Millisecond,
	}
}

// Create creates a new session for a review. When seedRunID names an
// analysis run with stored suggestions, the session context carries their
// count so the client can render an intro card.
func (s *Service) Create(ctx context.Context, reviewID, seedRunID string) (*types.Session, error) {
	if reviewID == "" {
		return nil, errors.New("reviewID is required")
	}

	now := time.Now().UnixMilli()
	session := &types.Session{
		ID:       ulid.Make().String(),
		ReviewID: reviewID,
		Status:   "idle",
		Time: types.SessionTime{
			Created: now,
			Updated: now,
		},
	}

	if seedRunID != "" && s.review != nil {
		if sctx, err := s.seedContext(ctx, seedRunID); err != nil {
			logging.Warn().Err(err).Str("runID", seedRunID).Msg("failed to seed session context")
		} else {
			session.Context = sctx
		}
	}

	if err := s.storage.Put(ctx, []string{"session", session.ID}, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.mu.Lock()
	s.expires[session.ID] = time.Now().Add(s.ttl)
	s.mu.Unlock()

	logging.Info().Str("sessionID", session.ID).Str("reviewID", reviewID).Msg("session created")
	return session, nil
}

func (s *Service) seedContext(ctx context.Context, runID string) (*types.SessionContext, error) {
	run, err := s.review.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	count, err := s.review.SuggestionCount(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &types.SessionContext{
		SuggestionCount: count,
		Summary:         run.Summary,
	}, nil
}

// Get retrieves a session by ID. Expired or unknown sessions return
// ErrSessionGone.
func (s *Service) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	if err := s.check(sessionID); err != nil {
		return nil, err
	}

	var session types.Session
	if err := s.storage.Get(ctx, []string{"session", sessionID}, &session); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionGone
		}
		return nil, err
	}
	return &session, nil
}

// check validates a session against the registry and renews its TTL.
func (s *Service) check(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.expires[sessionID]
	if !ok {
		return ErrSessionGone
	}
	if time.Now().After(deadline) {
		delete(s.expires, sessionID)
		return ErrSessionGone
	}
	s.expires[sessionID] = time.Now().Add(s.ttl)
	return nil
}

// Expire drops a session from the registry immediately. Subsequent
// operations on it fail with ErrSessionGone.
func (s *Service) Expire(sessionID string) {
	s.mu.Lock()
	delete(s.expires, sessionID)
	s.mu.Unlock()
}

// Messages returns the persisted conversation record for a session in
// creation order.
func (s *Service) Messages(ctx context.Context, sessionID string) ([]types.Message, error) {
	if err := s.check(sessionID); err != nil {
		return nil, err
	}

	keys, err := s.storage.List(ctx, []string{"message", sessionID})
	if err != nil {
		return nil, err
	}

	messages := make([]types.Message, 0, len(keys))
	for _, key := range keys {
		var msg types.Message
		if err := s.storage.Get(ctx, []string{"message", sessionID, key}, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// appendMessage persists one message under the session's history.
func (s *Service) appendMessage(ctx context.Context, msg *types.Message) error {
	return s.storage.Put(ctx, []string{"message", msg.SessionID, msg.ID}, msg)
}

// StartTurn records the user message and kicks off a streaming assistant
// response on the chat channel. It returns once the turn is accepted; the
// response streams asynchronously.
func (s *Service) StartTurn(ctx context.Context, sessionID, content string) (*types.Message, error) {
	if err := s.check(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, busy := s.turns[sessionID]; busy {
		s.mu.Unlock()
		return nil, ErrTurnActive
	}
	abort := make(chan struct{})
	s.turns[sessionID] = abort
	s.mu.Unlock()

	userMsg := &types.Message{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Role:      types.RoleUser,
		Content:   content,
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	}
	if err := s.appendMessage(ctx, userMsg); err != nil {
		s.finishTurn(sessionID)
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	go s.respond(sessionID, content, abort)

	return userMsg, nil
}

// Abort cancels the in-flight turn for a session, if any. Aborting an
// idle session is a no-op.
func (s *Service) Abort(sessionID string) {
	s.mu.Lock()
	abort, ok := s.turns[sessionID]
	if ok {
		delete(s.turns, sessionID)
	}
	s.mu.Unlock()

	if ok {
		close(abort)
		logging.Info().Str("sessionID", sessionID).Msg("turn aborted")
	}
}

func (s *Service) finishTurn(sessionID string) {
	s.mu.Lock()
	delete(s.turns, sessionID)
	s.mu.Unlock()
}

// respond streams the assistant reply as delta frames and persists the
// final message. An abort stops the stream but still persists whatever
// accumulated, mirroring what attached clients saw.
func (s *Service) respond(sessionID, content string, abort chan struct{}) {
	defer s.finishTurn(sessionID)

	s.bus.PublishSync(event.TopicChat, types.StreamEvent{
		Type:      types.EventStatus,
		SessionID: sessionID,
		Message:   "thinking",
	})

	reply := s.Responder(content)
	messageID := ulid.Make().String()

	var sent string
	for _, chunk := range chunkReply(reply) {
		select {
		case <-abort:
			s.complete(sessionID, messageID, sent)
			return
		case <-time.After(s.streamDelay):
		}

		sent += chunk
		s.bus.PublishSync(event.TopicChat, types.StreamEvent{
			Type:      types.EventDelta,
			SessionID: sessionID,
			Text:      chunk,
		})
	}

	s.complete(sessionID, messageID, sent)
}

// complete persists the assistant message and publishes the terminal
// frame. An empty accumulation leaves no record, matching how clients
// finalize.
func (s *Service) complete(sessionID, messageID, text string) {
	if text != "" {
		msg := &types.Message{
			ID:        messageID,
			SessionID: sessionID,
			Role:      types.RoleAssistant,
			Content:   text,
			Time:      types.MessageTime{Created: time.Now().UnixMilli()},
		}
		if err := s.appendMessage(context.Background(), msg); err != nil {
			logging.Error().Err(err).Str("sessionID", sessionID).Msg("failed to persist assistant message")
		}
	}

	s.bus.PublishSync(event.TopicChat, types.StreamEvent{
		Type:      types.EventComplete,
		SessionID: sessionID,
		MessageID: messageID,
	})
}
