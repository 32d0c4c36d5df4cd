// Package sse frames merged stream events for the wire and reassembles
// them on the far side. One event per frame, `data: <json>` terminated by a
// blank line; frames may arrive split across arbitrary read boundaries.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

// Frame is the wire envelope. Data frames carry Model+Chunk; the terminal
// marker reuses the same shape with Done set (and Error naming the reason
// when the source did not complete naturally).
type Frame struct {
	Model string `json:"model"`
	Chunk string `json:"chunk,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

const dataPrefix = "data: "

// Encoder writes frames to an SSE response, flushing after each one so
// increments reach the client as they happen.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder wraps a response writer. Flushing is best effort; writers that
// cannot flush (buffers in tests) still get correct framing.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// Encode writes one delimiter-terminated frame.
func (e *Encoder) Encode(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("sse: marshal frame: %w", err)
	}
	if _, err := io.WriteString(e.w, dataPrefix+string(payload)+"\n\n"); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}
	e.flush()
	return nil
}

// WriteDone emits the stream-end sentinel.
func (e *Encoder) WriteDone() error {
	if _, err := io.WriteString(e.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("sse: write done: %w", err)
	}
	e.flush()
	return nil
}

func (e *Encoder) flush() {
	if e.flusher != nil {
		e.flusher.Flush()
	}
}

// Decoder reassembles frames from a byte stream. Partial frames are carried
// across reads; a malformed payload is dropped with a logged diagnostic and
// decoding continues.
type Decoder struct {
	r      io.Reader
	buf    bytes.Buffer
	read   []byte
	logger *log.Logger
	eof    bool
	clean  bool
}

// NewDecoder wraps a reader. logger may be nil.
func NewDecoder(r io.Reader, logger *log.Logger) *Decoder {
	return &Decoder{r: r, read: make([]byte, 4096), logger: logger}
}

// Next returns the next complete frame, io.EOF when the stream ends
// (after the [DONE] sentinel or when the reader runs dry), or the transport
// error that broke the stream. CleanClose distinguishes the two EOF cases.
func (d *Decoder) Next() (Frame, error) {
	for {
		if frame, ok, done := d.extract(); done {
			d.clean = true
			return Frame{}, io.EOF
		} else if ok {
			return frame, nil
		}
		if d.eof {
			return Frame{}, io.EOF
		}
		n, err := d.r.Read(d.read)
		if n > 0 {
			d.buf.Write(d.read[:n])
		}
		if err != nil {
			if err == io.EOF {
				d.eof = true
				continue
			}
			return Frame{}, fmt.Errorf("sse: read stream: %w", err)
		}
	}
}

// CleanClose reports whether the stream ended with the [DONE] sentinel
// rather than the reader breaking mid-turn.
func (d *Decoder) CleanClose() bool { return d.clean }

// extract pops the first complete frame out of the buffer. The third return
// reports the [DONE] sentinel.
func (d *Decoder) extract() (Frame, bool, bool) {
	for {
		raw := d.buf.Bytes()
		idx := bytes.Index(raw, []byte("\n\n"))
		if idx < 0 {
			return Frame{}, false, false
		}
		block := string(raw[:idx])
		d.buf.Next(idx + 2)

		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimRight(strings.TrimSpace(line), "\r")
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				return Frame{}, false, true
			}
			var frame Frame
			if err := json.Unmarshal([]byte(payload), &frame); err != nil {
				if d.logger != nil {
					d.logger.Printf("sse: dropping malformed frame: %v", err)
				}
				continue
			}
			return frame, true, false
		}
		// Block held no parseable data line; keep scanning.
	}
}
