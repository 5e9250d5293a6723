package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/internal/event"
	"github.com/questforge/encounterd/internal/logging"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// writeEvent writes one SSE event and flushes it.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// sessionEvents streams lifecycle events, optionally filtered by
// ?sessionId= or ?playerId=.
func (e *Engine) sessionEvents(w http.ResponseWriter, r *http.Request) {
	if e.bus == nil {
		writeAppError(w, r, apperror.NotFound("event stream disabled"))
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	playerID := r.URL.Query().Get("playerId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeAppError(w, r, apperror.Internal(err, "streaming not supported"))
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	// Small buffer; the bus waits for the subscriber, so a full channel drops.
	events := make(chan event.Event, 16)
	unsub := e.bus.SubscribeAll(func(ev event.Event) {
		if !matches(ev, sessionID, playerID) {
			return
		}
		select {
		case events <- ev:
		default:
			logging.Warn().
				Str("event", string(ev.Type)).
				Str("session", ev.SessionID).
				Msg("SSE event dropped: channel full")
		}
	})
	defer unsub()

	if err := sse.writeEvent("connected", map[string]any{}); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := sse.writeEvent(string(ev.Type), ev); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

func matches(ev event.Event, sessionID, playerID string) bool {
	if sessionID != "" && ev.SessionID != sessionID {
		return false
	}
	if playerID != "" && ev.PlayerID != playerID {
		return false
	}
	return true
}
