// Package lifecycle creates, resumes, and aborts logical sessions against
// the backend's request/response API, including transparent recovery from
// expired sessions.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/in-the-loop-labs/pair-review/internal/logging"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// ErrNoReview is the precondition failure for operations that need a
// bound review. It carries a user-facing message, not a stack trace.
var ErrNoReview = errors.New("no review is open; open a review before starting a conversation")

// genericFailure is shown when the server gave us nothing better.
const genericFailure = "something went wrong talking to the review assistant"

// SendPayload is the body of one message send. The caller keeps it; on
// failure it comes back inside SendError so a draft is never lost.
type SendPayload struct {
	Content     string         `json:"content"`
	Context     string         `json:"context,omitempty"`
	ContextData map[string]any `json:"contextData,omitempty"`
}

// SendResult reports a successful send.
type SendResult struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

// SendError is a failed send. Message is user-facing; Draft is the
// payload to restore into the input.
type SendError struct {
	Message string
	Draft   SendPayload
}

func (e *SendError) Error() string { return e.Message }

// Client drives the session lifecycle for one review.
type Client struct {
	baseURL      string
	http         *http.Client
	reviewID     string
	providerHint string

	mu      sync.Mutex
	current string

	// OnSessionSwap fires when a session id changes, before any request
	// is issued against the new id. The channel's tracked slot must be
	// swapped here so no frame races to the old handler.
	OnSessionSwap func(sessionID string, info *types.Session)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// WithProviderHint sets the provider hint forwarded on session creation.
func WithProviderHint(hint string) Option {
	return func(c *Client) { c.providerHint = hint }
}

// New creates a lifecycle client bound to a review. An empty reviewID is
// allowed here; operations that need it fail with ErrNoReview.
func New(baseURL, reviewID string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{},
		reviewID: reviewID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the current session id, empty if none.
func (c *Client) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// setCurrent swaps the session slot and notifies the coordinator.
func (c *Client) setCurrent(id string, info *types.Session) {
	c.mu.Lock()
	c.current = id
	c.mu.Unlock()
	if c.OnSessionSwap != nil {
		c.OnSessionSwap(id, info)
	}
}

// CreateSession creates a new logical session for the bound review and
// records it as current. seedContextID optionally seeds the session with
// prior analysis context.
func (c *Client) CreateSession(ctx context.Context, seedContextID string) (*types.Session, error) {
	if c.reviewID == "" {
		return nil, ErrNoReview
	}

	body := map[string]string{
		"providerHint": c.providerHint,
		"reviewID":     c.reviewID,
	}
	if seedContextID != "" {
		body["seedContextID"] = seedContextID
	}

	var session types.Session
	if err := c.post(ctx, "/session", body, &session); err != nil {
		return nil, err
	}

	c.setCurrent(session.ID, &session)
	return &session, nil
}

// SendMessage sends a message to the current session. When the server
// answers 410 the session has expired: the stale id is discarded, a fresh
// session is created, and the payload is resent once. A second 410 on the
// retry is surfaced as a normal error, never a loop. All failures return
// a *SendError carrying the draft.
func (c *Client) SendMessage(ctx context.Context, payload SendPayload) (*SendResult, error) {
	sessionID := c.Current()
	if sessionID == "" {
		session, err := c.CreateSession(ctx, "")
		if err != nil {
			return nil, &SendError{Message: err.Error(), Draft: payload}
		}
		sessionID = session.ID
	}

	result, err := c.send(ctx, sessionID, payload)
	if err == nil {
		return result, nil
	}

	var gone *goneError
	if !errors.As(err, &gone) {
		return nil, &SendError{Message: userMessage(err), Draft: payload}
	}

	// Session expired server-side. Recover exactly once.
	logging.Info().Str("sessionID", sessionID).Msg("session no longer resumable, recreating")
	c.setCurrent("", nil)

	session, err := c.CreateSession(ctx, "")
	if err != nil {
		return nil, &SendError{Message: userMessage(err), Draft: payload}
	}

	result, err = c.send(ctx, session.ID, payload)
	if err != nil {
		// No second recovery, even for another 410.
		return nil, &SendError{Message: userMessage(err), Draft: payload}
	}
	return result, nil
}

// Abort requests cancellation of the in-flight turn. Best effort: a
// network failure is logged and never blocks local finalization.
func (c *Client) Abort(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if err := c.post(ctx, "/session/"+sessionID+"/abort", struct{}{}, nil); err != nil {
		logging.Warn().Err(err).Str("sessionID", sessionID).Msg("abort request failed")
	}
}

// Messages fetches the persisted history for a session, for resumption
// display.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]types.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session/"+sessionID+"/message", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var messages []types.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// send issues one message POST without any recovery.
func (c *Client) send(ctx context.Context, sessionID string, payload SendPayload) (*SendResult, error) {
	var result SendResult
	if err := c.post(ctx, "/session/"+sessionID+"/message", payload, &result); err != nil {
		return nil, err
	}
	if result.SessionID == "" {
		result.SessionID = sessionID
	}
	return &result, nil
}

// goneError marks the distinguished "session not resumable" status.
type goneError struct {
	message string
}

func (e *goneError) Error() string { return e.message }

// post issues a JSON POST and decodes a 2xx response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", genericFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return &goneError{message: serverMessage(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns a non-2xx response into a user-facing error, using
// the server's message when it sent one.
func decodeError(resp *http.Response) error {
	return errors.New(serverMessage(resp))
}

// serverMessage extracts the error envelope's message, falling back to a
// generic one.
func serverMessage(resp *http.Response) string {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return genericFailure
}

// userMessage renders any lifecycle error as a user-facing message.
func userMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
