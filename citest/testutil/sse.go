package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// SSEClient reads StreamEvent frames from one event endpoint.
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	eventsCh chan types.StreamEvent
	cancel   context.CancelFunc
	body     io.ReadCloser
}

// NewSSEClient creates a new SSE test client.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 0, // No timeout for SSE
		},
		eventsCh: make(chan types.StreamEvent, 100),
	}
}

// Connect starts the SSE connection.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("unexpected content type: %s", ct)
	}

	c.body = resp.Body
	go c.readEvents(resp.Body)
	return nil
}

// readEvents parses SSE frames until the connection drops.
func (c *SSEClient) readEvents(body io.Reader) {
	defer close(c.eventsCh)

	reader := bufio.NewReader(body)
	var data strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if data.Len() == 0 {
				continue
			}
			var evt types.StreamEvent
			if err := json.Unmarshal([]byte(data.String()), &evt); err == nil {
				c.eventsCh <- evt
			}
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

// Next blocks for the next frame or times out.
func (c *SSEClient) Next(timeout time.Duration) (types.StreamEvent, error) {
	select {
	case evt, ok := <-c.eventsCh:
		if !ok {
			return types.StreamEvent{}, fmt.Errorf("stream closed")
		}
		return evt, nil
	case <-time.After(timeout):
		return types.StreamEvent{}, fmt.Errorf("no frame within %v", timeout)
	}
}

// WaitFor discards frames until one of the given type arrives.
func (c *SSEClient) WaitFor(eventType types.EventType, timeout time.Duration) (types.StreamEvent, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return types.StreamEvent{}, fmt.Errorf("no %s frame within %v", eventType, timeout)
		}
		evt, err := c.Next(remaining)
		if err != nil {
			return types.StreamEvent{}, err
		}
		if evt.Type == eventType {
			return evt, nil
		}
	}
}

// CollectText gathers delta text until the session's complete frame.
func (c *SSEClient) CollectText(sessionID string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var text strings.Builder
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("no complete frame within %v", timeout)
		}
		evt, err := c.Next(remaining)
		if err != nil {
			return "", err
		}
		if evt.SessionID != sessionID {
			continue
		}
		switch evt.Type {
		case types.EventDelta:
			text.WriteString(evt.Text)
		case types.EventComplete:
			return text.String(), nil
		case types.EventError:
			return "", fmt.Errorf("stream error: %s", evt.Message)
		}
	}
}

// Close tears down the connection.
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.body != nil {
		c.body.Close()
	}
}
