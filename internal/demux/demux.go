// Package demux routes decoded stream frames to per-window accumulators,
// reproducing the live typing effect: increments append to the window's
// in-progress assistant message in arrival order.
package demux

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/panelchat/panelchat/internal/source"
	"github.com/panelchat/panelchat/internal/sse"
)

// WindowID names one UI destination panel.
type WindowID string

// Table maps source identities to their window. Fixed and injectable;
// events for unmapped sources are ignored.
type Table map[source.Key]WindowID

// Message is one entry in a window's history.
type Message struct {
	Role  string
	Text  string
	Final bool
}

// Demux owns the client-side accumulators. It is unaware of the server
// session; its only input is the decoded frame stream.
type Demux struct {
	table  Table
	logger *log.Logger

	mu       sync.Mutex
	windows  map[WindowID][]Message
	pending  map[WindowID]bool // awaiting a terminal marker this turn
	inFlight bool
}

// New creates a demultiplexer over the given routing table. logger may be nil.
func New(table Table, logger *log.Logger) *Demux {
	d := &Demux{
		table:   table,
		logger:  logger,
		windows: make(map[WindowID][]Message, len(table)),
		pending: make(map[WindowID]bool, len(table)),
	}
	for _, wid := range table {
		d.windows[wid] = nil
	}
	return d
}

// BeginTurn records the user's message and marks windows as awaiting a
// terminal marker. With no keys the turn spans every mapped window; with
// keys only the windows those sources route to take part, so windows left
// out of the turn never collect synthesized notices.
func (d *Demux) BeginTurn(userMessage string, active ...source.Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight = true
	for wid := range d.turnWindows(active) {
		d.windows[wid] = append(d.windows[wid], Message{Role: "user", Text: userMessage, Final: true})
		d.pending[wid] = true
	}
}

// turnWindows resolves which windows a turn covers, deduplicating shared
// destinations.
func (d *Demux) turnWindows(active []source.Key) map[WindowID]struct{} {
	out := make(map[WindowID]struct{}, len(d.table))
	if len(active) == 0 {
		for _, wid := range d.table {
			out[wid] = struct{}{}
		}
		return out
	}
	for _, key := range active {
		if wid, ok := d.table[key]; ok {
			out[wid] = struct{}{}
		}
	}
	return out
}

// OnFrame routes one decoded frame. Increments append to the window's
// in-progress assistant message, or start one; terminal markers freeze it.
func (d *Demux) OnFrame(f sse.Frame) {
	wid, ok := d.table[source.Key(f.Model)]
	if !ok {
		if d.logger != nil {
			d.logger.Printf("demux: ignoring frame for unmapped source %q", f.Model)
		}
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if f.Chunk != "" {
		d.appendLocked(wid, f.Chunk)
	}
	if f.Done {
		d.finalizeLocked(wid)
	}
}

// OnTransportFailure synthesizes a terminal error message for every window
// still awaiting its marker when the merged stream broke.
func (d *Demux) OnTransportFailure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inFlight {
		return
	}
	for wid, waiting := range d.pending {
		if !waiting {
			continue
		}
		d.appendLocked(wid, "\n[connection lost before the response finished]")
		d.finalizeLocked(wid)
	}
	d.inFlight = false
	if d.logger != nil && err != nil {
		d.logger.Printf("demux: transport failure: %v", err)
	}
}

// endTurn closes the turn without synthesizing anything. Used when the
// server finished the stream normally.
func (d *Demux) endTurn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for wid := range d.pending {
		d.pending[wid] = false
	}
	d.inFlight = false
}

// appendLocked applies the append-or-start rule for assistant messages.
func (d *Demux) appendLocked(wid WindowID, text string) {
	msgs := d.windows[wid]
	if n := len(msgs); n > 0 && msgs[n-1].Role == "assistant" && !msgs[n-1].Final {
		msgs[n-1].Text += text
	} else {
		msgs = append(msgs, Message{Role: "assistant", Text: text})
	}
	d.windows[wid] = msgs
}

func (d *Demux) finalizeLocked(wid WindowID) {
	msgs := d.windows[wid]
	if n := len(msgs); n > 0 && msgs[n-1].Role == "assistant" && !msgs[n-1].Final {
		msgs[n-1].Final = true
	}
	d.pending[wid] = false
}

// Window returns a copy of one window's history.
func (d *Demux) Window(wid WindowID) []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	msgs := d.windows[wid]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Windows returns the ids of every mapped window.
func (d *Demux) Windows() []WindowID {
	seen := make(map[WindowID]struct{}, len(d.table))
	var out []WindowID
	for _, wid := range d.table {
		if _, ok := seen[wid]; ok {
			continue
		}
		seen[wid] = struct{}{}
		out = append(out, wid)
	}
	return out
}

// Run decodes frames from r until the stream ends, routing each one. A
// close after the end-of-stream sentinel is normal and returns nil; a
// transport that breaks mid-turn synthesizes error messages for unfinished
// windows.
func (d *Demux) Run(ctx context.Context, r io.Reader) error {
	dec := sse.NewDecoder(r, d.logger)
	for {
		select {
		case <-ctx.Done():
			d.OnTransportFailure(ctx.Err())
			return ctx.Err()
		default:
		}
		frame, err := dec.Next()
		if err == io.EOF {
			if dec.CleanClose() {
				d.endTurn()
				return nil
			}
			// The reader ran dry without the sentinel: the server went
			// away mid-turn.
			d.OnTransportFailure(nil)
			return nil
		}
		if err != nil {
			d.OnTransportFailure(err)
			return err
		}
		d.OnFrame(frame)
	}
}
