package dispatch

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/panelchat/panelchat/internal/source"
)

// Kind discriminates merged stream events.
type Kind int

const (
	// KindChunk carries one text increment (or a human-readable notice).
	KindChunk Kind = iota
	// KindCompleted marks natural end-of-output for a source.
	KindCompleted
	// KindErrored marks a per-source failure or timeout; Reason says which.
	KindErrored
)

// Event is one element of the merged stream. Order within one source is the
// order its adapter produced; interleaving across sources is arrival order.
type Event struct {
	Source source.Key
	Kind   Kind
	Text   string
	Reason Reason
	Err    error
}

// Request is one user message fanned out to a set of sources.
type Request struct {
	Message       string
	ActiveSources []source.Key
}

// Config holds the supervisor's timer budgets.
type Config struct {
	// ConnectTimeout bounds the wait for a source's first event.
	ConnectTimeout time.Duration
	// InactivityTimeout bounds the gap between consecutive events.
	InactivityTimeout time.Duration
	// SessionTimeout bounds total wall-clock time across all sources.
	SessionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 15 * time.Second
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 120 * time.Second
	}
	return c
}

// Dispatcher fans one request out to every selected source concurrently and
// merges their event sequences into a single channel.
type Dispatcher struct {
	registry *source.Registry
	cfg      Config
	logger   *log.Logger
}

// New creates a Dispatcher over the given source registry.
func New(registry *source.Registry, cfg Config, logger *log.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, cfg: cfg.withDefaults(), logger: logger}
}

// Dispatch validates the request, starts one goroutine per selected source
// and returns the merged event channel. The channel closes only after every
// source has reached a terminal state (or the aggregate budget forces one).
// Cancelling ctx cancels the session and all upstream calls.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (<-chan Event, *Session, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, nil, ErrInvalidRequest
	}
	if len(req.ActiveSources) == 0 {
		return nil, nil, ErrInvalidRequest
	}

	// Duplicates collapse; unknown identities are filtered. A request that
	// names no known source at all is rejected before any upstream call.
	seen := make(map[source.Key]struct{}, len(req.ActiveSources))
	var keys []source.Key
	for _, k := range req.ActiveSources {
		if _, dup := seen[k]; dup {
			continue
		}
		if _, ok := d.registry.Lookup(k); !ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, nil, ErrInvalidRequest
	}

	sess := newSession(keys)
	merged := make(chan Event, 16)

	// The aggregate timer lives in a context derived from the client's: a
	// client cancel tears everything down, while an aggregate expiry still
	// leaves the client context alive so final notices can be delivered.
	aggCtx, aggCancel := context.WithTimeout(ctx, d.cfg.SessionTimeout)

	var wg sync.WaitGroup
	for _, key := range keys {
		src, _ := d.registry.Lookup(key)
		wg.Add(1)
		go d.run(ctx, aggCtx, sess, src, req.Message, merged, &wg)
	}
	go func() {
		wg.Wait()
		aggCancel()
		close(merged)
	}()

	return merged, sess, nil
}

type invokeResult struct {
	ch  <-chan source.Event
	err error
}

// run supervises a single source: Connecting until the first event, then
// Streaming with a per-chunk inactivity timer, until one of Completed,
// Errored or TimedOut. Each source has its own cancellation; nothing here
// touches another source's stream.
func (d *Dispatcher) run(clientCtx, aggCtx context.Context, sess *Session, src source.Source, message string, out chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()
	key := src.Key()

	srcCtx, cancel := context.WithCancel(aggCtx)
	defer cancel()

	// Invoke may block establishing the upstream connection, so it runs
	// aside while the connect timer counts down.
	resCh := make(chan invokeResult, 1)
	go func() {
		ch, err := src.Invoke(srcCtx, message)
		resCh <- invokeResult{ch: ch, err: err}
	}()

	timer := time.NewTimer(d.cfg.ConnectTimeout)
	defer timer.Stop()

	var ch <-chan source.Event
	select {
	case res := <-resCh:
		if res.err != nil {
			d.logf("source %s: invoke failed: %v", key, res.err)
			d.fail(clientCtx, sess, out, key, StatusErrored, ReasonUpstreamError, res.err, nil)
			return
		}
		ch = res.ch
	case <-timer.C:
		cancel()
		go drainPending(resCh)
		d.logf("source %s: connect timeout", key)
		d.fail(clientCtx, sess, out, key, StatusTimedOut, ReasonConnectTimeout, nil, nil)
		return
	case <-aggCtx.Done():
		cancel()
		go drainPending(resCh)
		d.abort(clientCtx, sess, out, key, nil)
		return
	}

	streaming := false
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				sess.finalize(key, StatusCompleted, "")
				d.send(clientCtx, out, Event{Source: key, Kind: KindCompleted})
				return
			}
			if ev.Err != nil {
				if errors.Is(ev.Err, context.Canceled) || errors.Is(ev.Err, context.DeadlineExceeded) {
					d.abort(clientCtx, sess, out, key, ch)
					return
				}
				d.logf("source %s: upstream error: %v", key, ev.Err)
				d.fail(clientCtx, sess, out, key, StatusErrored, ReasonUpstreamError, ev.Err, ch)
				return
			}
			if ev.Text == "" {
				continue
			}
			streaming = true
			sess.append(key, ev.Text)
			if !d.send(clientCtx, out, Event{Source: key, Kind: KindChunk, Text: ev.Text}) {
				cancel()
				sess.finalize(key, StatusTimedOut, ReasonCancelled)
				go drain(ch)
				return
			}
			// Each event re-arms the inactivity timer.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.cfg.InactivityTimeout)

		case <-timer.C:
			cancel()
			reason := ReasonConnectTimeout
			if streaming {
				reason = ReasonInactivityTimeout
			}
			d.logf("source %s: %s", key, reason)
			d.fail(clientCtx, sess, out, key, StatusTimedOut, reason, nil, ch)
			return

		case <-aggCtx.Done():
			cancel()
			d.abort(clientCtx, sess, out, key, ch)
			return
		}
	}
}

// fail finalizes a source with a visible notice chunk followed by its
// terminal marker.
func (d *Dispatcher) fail(clientCtx context.Context, sess *Session, out chan<- Event, key source.Key, status Status, reason Reason, err error, ch <-chan source.Event) {
	if ch != nil {
		go drain(ch)
	}
	notice := reason.Notice()
	sess.append(key, notice)
	sess.finalize(key, status, reason)
	if !d.send(clientCtx, out, Event{Source: key, Kind: KindChunk, Text: notice, Reason: reason}) {
		return
	}
	d.send(clientCtx, out, Event{Source: key, Kind: KindErrored, Reason: reason, Err: err})
}

// abort handles aggregate expiry and client cancellation. Only the former
// gets a truncation notice; a departed client has nothing left to read.
func (d *Dispatcher) abort(clientCtx context.Context, sess *Session, out chan<- Event, key source.Key, ch <-chan source.Event) {
	if clientCtx.Err() != nil {
		if ch != nil {
			go drain(ch)
		}
		sess.finalize(key, StatusTimedOut, ReasonCancelled)
		return
	}
	d.logf("source %s: aggregate timeout", key)
	d.fail(clientCtx, sess, out, key, StatusTimedOut, ReasonAggregateTimeout, nil, ch)
}

// send delivers an event to the merged channel unless the client is gone.
func (d *Dispatcher) send(clientCtx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-clientCtx.Done():
		return false
	}
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}

// drain consumes a cancelled source's remaining events so its producer
// goroutine can exit.
func drain(ch <-chan source.Event) {
	for range ch {
	}
}

// drainPending collects a late Invoke result after its supervisor gave up.
func drainPending(resCh <-chan invokeResult) {
	if res := <-resCh; res.ch != nil {
		drain(res.ch)
	}
}
