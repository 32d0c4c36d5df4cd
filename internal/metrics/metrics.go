package metrics

import (
	"sync"
	"time"
)

// Collector tracks aggregation-service counters with manual bookkeeping,
// no external dependencies. Exposed as a JSON snapshot on /metrics.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests    map[string]int64 // by endpoint
	totalRequestsDur map[string]int64 // total duration in ms
	requestErrors    map[string]int64 // by endpoint

	// Stream metrics
	activeStreams   int64
	chunksBySource  map[string]int64
	bytesBySource   map[string]int64
	sourceCompleted map[string]int64
	sourceErrors    map[string]int64 // by source
	sourceTimeouts  map[string]int64 // by timeout reason

	rateLimitHits int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:    make(map[string]int64),
		totalRequestsDur: make(map[string]int64),
		requestErrors:    make(map[string]int64),
		chunksBySource:   make(map[string]int64),
		bytesBySource:    make(map[string]int64),
		sourceCompleted:  make(map[string]int64),
		sourceErrors:     make(map[string]int64),
		sourceTimeouts:   make(map[string]int64),
		startTime:        time.Now(),
	}
}

// RecordRequest records a completed request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records a failed request for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestErrors[endpoint]++
}

// StreamStarted increments the in-flight stream gauge.
func (c *Collector) StreamStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeStreams++
}

// StreamEnded decrements the in-flight stream gauge.
func (c *Collector) StreamEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeStreams--
}

// RecordChunk records one increment delivered for a source.
func (c *Collector) RecordChunk(source string, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chunksBySource[source]++
	c.bytesBySource[source] += int64(bytes)
}

// RecordCompletion records a source finishing naturally.
func (c *Collector) RecordCompletion(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sourceCompleted[source]++
}

// RecordSourceError records a per-source upstream failure.
func (c *Collector) RecordSourceError(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sourceErrors[source]++
}

// RecordTimeout records a per-source timeout by reason.
func (c *Collector) RecordTimeout(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sourceTimeouts[reason]++
}

// RecordRateLimitHit records a rate limit rejection.
func (c *Collector) RecordRateLimitHit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitHits++
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Uptime           int64            `json:"uptime_seconds"`
	TotalRequests    map[string]int64 `json:"total_requests"`
	TotalRequestsDur map[string]int64 `json:"total_requests_duration_ms"`
	RequestErrors    map[string]int64 `json:"request_errors"`
	ActiveStreams    int64            `json:"active_streams"`
	ChunksBySource   map[string]int64 `json:"chunks_by_source"`
	BytesBySource    map[string]int64 `json:"bytes_by_source"`
	SourceCompleted  map[string]int64 `json:"source_completed"`
	SourceErrors     map[string]int64 `json:"source_errors"`
	SourceTimeouts   map[string]int64 `json:"source_timeouts"`
	RateLimitHits    int64            `json:"rate_limit_hits"`
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:           int64(time.Since(c.startTime).Seconds()),
		TotalRequests:    copyMap(c.totalRequests),
		TotalRequestsDur: copyMap(c.totalRequestsDur),
		RequestErrors:    copyMap(c.requestErrors),
		ActiveStreams:    c.activeStreams,
		ChunksBySource:   copyMap(c.chunksBySource),
		BytesBySource:    copyMap(c.bytesBySource),
		SourceCompleted:  copyMap(c.sourceCompleted),
		SourceErrors:     copyMap(c.sourceErrors),
		SourceTimeouts:   copyMap(c.sourceTimeouts),
		RateLimitHits:    c.rateLimitHits,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
