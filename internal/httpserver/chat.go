package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/panelchat/panelchat/internal/dispatch"
	"github.com/panelchat/panelchat/internal/source"
	"github.com/panelchat/panelchat/internal/sse"
	"github.com/panelchat/panelchat/internal/transcript"
)

// chatStreamRequest is the inbound body for POST /chat-stream. An empty
// windows list selects every configured source.
type chatStreamRequest struct {
	Message string   `json:"message"`
	Windows []string `json:"windows"`
}

// handleChatStream fans the message out to the selected sources and relays
// the merged event stream as SSE frames keyed by source identity.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if s.collector != nil {
		s.collector.StreamStarted()
		defer s.collector.StreamEnded()
		defer func() { s.collector.RecordRequest("/chat-stream", time.Since(start)) }()
	}

	// Oversized input fails fast, before any upstream call.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxMessageBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.recordError("/chat-stream")
			respondError(w, http.StatusRequestEntityTooLarge, dispatch.ErrPayloadTooLarge.Error())
			return
		}
		s.recordError("/chat-stream")
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req chatStreamRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.recordError("/chat-stream")
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	keys := make([]source.Key, 0, len(req.Windows))
	for _, name := range req.Windows {
		keys = append(keys, source.Key(name))
	}
	if len(keys) == 0 {
		keys = s.registry.Keys()
	}

	merged, sess, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{
		Message:       req.Message,
		ActiveSources: keys,
	})
	if err != nil {
		s.recordError("/chat-stream")
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.debugf("session %s: dispatched to %d sources", sess.ID, len(keys))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := sse.NewEncoder(w)
	clientGone := false
	for ev := range merged {
		if clientGone {
			continue
		}
		frame := sse.Frame{Model: string(ev.Source)}
		switch ev.Kind {
		case dispatch.KindChunk:
			frame.Chunk = ev.Text
			if s.collector != nil {
				s.collector.RecordChunk(string(ev.Source), len(ev.Text))
			}
		case dispatch.KindCompleted:
			frame.Done = true
			if s.collector != nil {
				s.collector.RecordCompletion(string(ev.Source))
			}
		case dispatch.KindErrored:
			frame.Done = true
			frame.Error = string(ev.Reason)
			s.recordTerminal(ev.Reason, string(ev.Source))
		}
		if err := enc.Encode(frame); err != nil {
			// A broken client write cancels r.Context(), which tears the
			// session down; keep draining so the dispatcher can finish.
			s.debugf("session %s: client write failed: %v", sess.ID, err)
			clientGone = true
		}
	}
	if !clientGone {
		_ = enc.WriteDone()
	}

	s.persistResults(sess, req.Message)
	s.logf("session %s: finished in %s", sess.ID, time.Since(start).Round(time.Millisecond))
}

func (s *Server) recordError(endpoint string) {
	if s.collector != nil {
		s.collector.RecordError(endpoint)
	}
}

func (s *Server) recordTerminal(reason dispatch.Reason, src string) {
	if s.collector == nil {
		return
	}
	switch reason {
	case dispatch.ReasonConnectTimeout, dispatch.ReasonInactivityTimeout, dispatch.ReasonAggregateTimeout:
		s.collector.RecordTimeout(string(reason))
	default:
		s.collector.RecordSourceError(src)
	}
}

// persistResults records one transcript entry per finalized source. The
// request context is typically done by now, so writes get their own budget.
func (s *Server) persistResults(sess *dispatch.Session, prompt string) {
	if s.transcripts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, res := range sess.Results() {
		if !res.Status.Terminal() {
			continue
		}
		entry := transcript.Entry{
			SessionID: sess.ID,
			Source:    string(res.Source),
			Window:    s.windows[res.Source],
			Status:    string(res.Status),
			Reason:    string(res.Reason),
			Prompt:    prompt,
			Response:  res.Text,
		}
		if err := s.transcripts.Record(ctx, entry); err != nil {
			s.logf("session %s: record transcript for %s: %v", sess.ID, res.Source, err)
		}
	}
}
