package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/in-the-loop-labs/pair-review/internal/event"
	"github.com/in-the-loop-labs/pair-review/internal/logging"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// SSEHeartbeatInterval is the interval for SSE heartbeat comments.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent writes one StreamEvent as an SSE data frame.
func (s *sseWriter) writeEvent(evt types.StreamEvent) error {
	jsonData, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(s.w, "data: %s\n\n", jsonData)
	if err != nil {
		return err
	}

	// ResponseController flushes through middleware wrappers; fall back to
	// the plain Flusher if it cannot.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}

	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// chatEvents handles GET /event/chat.
func (s *Server) chatEvents(w http.ResponseWriter, r *http.Request) {
	s.streamTopic(w, r, event.TopicChat)
}

// analysisEvents handles GET /event/analysis.
func (s *Server) analysisEvents(w http.ResponseWriter, r *http.Request) {
	s.streamTopic(w, r, event.TopicAnalysis)
}

// streamTopic serves one topic's frames over SSE. Every connection opens
// with a connected handshake frame that carries no session id; clients
// treat it as a liveness notice only.
func (s *Server) streamTopic(w http.ResponseWriter, r *http.Request, topic event.Topic) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent(types.StreamEvent{Type: types.EventConnected}); err != nil {
		return
	}

	// Small buffer for low-latency streaming; a slow reader drops frames
	// rather than stalling the bus.
	events := make(chan types.StreamEvent, 32)

	unsub := s.bus.Subscribe(topic, func(evt types.StreamEvent) {
		select {
		case events <- evt:
		default:
			logging.Warn().
				Str("topic", string(topic)).
				Str("eventType", string(evt.Type)).
				Msg("SSE event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-events:
			if err := sse.writeEvent(evt); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
