package metrics

import (
	"testing"
	"time"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordRequest("/chat-stream", 120*time.Millisecond)
	c.RecordRequest("/chat-stream", 80*time.Millisecond)
	c.RecordError("/chat-stream")
	c.StreamStarted()
	c.RecordChunk("llama", 5)
	c.RecordChunk("llama", 3)
	c.RecordCompletion("llama")
	c.RecordSourceError("openai")
	c.RecordTimeout("inactivity_timeout")
	c.RecordRateLimitHit()
	c.StreamEnded()

	snap := c.GetSnapshot()
	if snap.TotalRequests["/chat-stream"] != 2 {
		t.Fatalf("total requests = %d", snap.TotalRequests["/chat-stream"])
	}
	if snap.TotalRequestsDur["/chat-stream"] != 200 {
		t.Fatalf("total duration = %d", snap.TotalRequestsDur["/chat-stream"])
	}
	if snap.RequestErrors["/chat-stream"] != 1 {
		t.Fatalf("request errors = %d", snap.RequestErrors["/chat-stream"])
	}
	if snap.ActiveStreams != 0 {
		t.Fatalf("active streams = %d", snap.ActiveStreams)
	}
	if snap.ChunksBySource["llama"] != 2 || snap.BytesBySource["llama"] != 8 {
		t.Fatalf("chunk counters = %v / %v", snap.ChunksBySource, snap.BytesBySource)
	}
	if snap.SourceCompleted["llama"] != 1 || snap.SourceErrors["openai"] != 1 {
		t.Fatalf("terminal counters = %v / %v", snap.SourceCompleted, snap.SourceErrors)
	}
	if snap.SourceTimeouts["inactivity_timeout"] != 1 {
		t.Fatalf("timeout counters = %v", snap.SourceTimeouts)
	}
	if snap.RateLimitHits != 1 {
		t.Fatalf("rate limit hits = %d", snap.RateLimitHits)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCollector()
	c.RecordChunk("llama", 1)

	snap := c.GetSnapshot()
	snap.ChunksBySource["llama"] = 99

	if got := c.GetSnapshot().ChunksBySource["llama"]; got != 1 {
		t.Fatalf("snapshot mutation leaked into collector: %d", got)
	}
}
