package dispatch

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/panelchat/panelchat/internal/source"
)

// Status tracks one source through the supervisor state machine.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusStreaming  Status = "streaming"
	StatusCompleted  Status = "completed"
	StatusErrored    Status = "errored"
	StatusTimedOut   Status = "timed_out"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusErrored || s == StatusTimedOut
}

// SourceResult is the finalized view of one source after a session ends:
// the ordered concatenation of every increment it produced plus how it
// finished.
type SourceResult struct {
	Source source.Key
	Status Status
	Reason Reason
	Text   string
}

// Session is the server-side aggregate for one user request. It owns one
// accumulator per selected source; accumulators are created at dispatch,
// appended to as increments arrive, and frozen when the source finalizes.
type Session struct {
	ID        string
	StartedAt time.Time

	mu     sync.Mutex
	states map[source.Key]*sourceState
}

type sourceState struct {
	status Status
	reason Reason
	buf    strings.Builder
}

func newSession(keys []source.Key) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		states:    make(map[source.Key]*sourceState, len(keys)),
	}
	for _, k := range keys {
		s.states[k] = &sourceState{status: StatusConnecting}
	}
	return s
}

// append records one increment for a source and marks it streaming.
func (s *Session) append(key source.Key, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok || st.status.Terminal() {
		return
	}
	st.status = StatusStreaming
	st.buf.WriteString(text)
}

// finalize freezes a source's accumulator. Later calls are ignored so a
// source finalizes exactly once.
func (s *Session) finalize(key source.Key, status Status, reason Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok || st.status.Terminal() {
		return
	}
	st.status = status
	st.reason = reason
}

// Results returns the finalized (or in-flight) view of every source.
func (s *Session) Results() []SourceResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SourceResult, 0, len(s.states))
	for key, st := range s.states {
		out = append(out, SourceResult{
			Source: key,
			Status: st.status,
			Reason: st.reason,
			Text:   st.buf.String(),
		})
	}
	return out
}
