// Package transcript defines durable storage for finalized chat turns.
package transcript

import (
	"context"
	"time"
)

// Entry is one finalized per-source turn: the user message, the source's
// full accumulated response and how the stream ended.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Source    string    `json:"source"`
	Window    string    `json:"window"`
	Status    string    `json:"status"` // completed | errored | timed_out
	Reason    string    `json:"reason,omitempty"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists finalized turns.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
