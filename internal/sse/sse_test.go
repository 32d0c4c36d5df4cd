package sse

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

// chunkedReader yields its payload n bytes at a time, exercising frame
// reassembly across arbitrary read boundaries.
type chunkedReader struct {
	data []byte
	n    int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.n
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	frames := []Frame{
		{Model: "llama", Chunk: "Hello"},
		{Model: "openai", Chunk: ", world"},
		{Model: "llama", Done: true},
		{Model: "openai", Done: true, Error: "inactivity_timeout"},
	}
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	if err := enc.WriteDone(); err != nil {
		t.Fatalf("WriteDone: %v", err)
	}

	dec := NewDecoder(&buf, nil)
	for i, want := range frames {
		got, err := dec.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("frame %d = %+v, want %+v", i, got, want)
		}
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after sentinel, got %v", err)
	}
	if !dec.CleanClose() {
		t.Fatalf("sentinel close not reported as clean")
	}
}

func TestDecoderReassemblesSplitFrames(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	want := []Frame{
		{Model: "llama", Chunk: "split across"},
		{Model: "llama", Chunk: " many reads"},
		{Model: "llama", Done: true},
	}
	for _, f := range want {
		if err := enc.Encode(f); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	// One byte per read is the worst case.
	dec := NewDecoder(&chunkedReader{data: buf.Bytes(), n: 1}, nil)
	for i, w := range want {
		got, err := dec.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("frame %d = %+v, want %+v", i, got, w)
		}
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of input, got %v", err)
	}
}

func TestDecoderDropsMalformedFrame(t *testing.T) {
	stream := "data: {not json}\n\n" +
		"data: {\"model\":\"llama\",\"chunk\":\"still here\"}\n\n" +
		"data: [DONE]\n\n"

	dec := NewDecoder(strings.NewReader(stream), nil)
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Model != "llama" || got.Chunk != "still here" {
		t.Fatalf("frame after malformed = %+v", got)
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestDecoderIgnoresNonDataLines(t *testing.T) {
	stream := ": keepalive comment\n\n" +
		"event: message\ndata: {\"model\":\"openai\",\"chunk\":\"x\"}\n\n"

	dec := NewDecoder(strings.NewReader(stream), nil)
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Model != "openai" || got.Chunk != "x" {
		t.Fatalf("frame = %+v", got)
	}
}

func TestDecoderPartialTailAtEOF(t *testing.T) {
	// A truncated final frame never completes; the stream ends cleanly from
	// the decoder's point of view and the caller decides what that means.
	stream := "data: {\"model\":\"llama\",\"chunk\":\"done\"}\n\n" +
		"data: {\"model\":\"llama\",\"chu"

	dec := NewDecoder(strings.NewReader(stream), nil)
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Chunk != "done" {
		t.Fatalf("frame = %+v", got)
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF on truncated tail, got %v", err)
	}
	if dec.CleanClose() {
		t.Fatalf("truncated stream reported as a clean close")
	}
}
