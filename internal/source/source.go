package source

import (
	"context"
	"sort"
)

// Key identifies one upstream text-generation backend. Stable for the
// lifetime of a request; the HTTP layer maps it to a UI window.
type Key string

// Event is one increment of generated text from a source. A non-nil Err is
// terminal for that source; the channel closes on natural completion.
type Event struct {
	Text string
	Err  error
}

// Source wraps one upstream provider. Invoke returns an error if the
// request could not be started at all; otherwise events arrive on the
// channel until completion or failure. Cancelling ctx must stop the stream.
type Source interface {
	Key() Key
	Invoke(ctx context.Context, message string) (<-chan Event, error)
}

// Registry is the fixed table of configured sources keyed by identity.
type Registry struct {
	sources map[Key]Source
}

// NewRegistry builds a registry from the given sources.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[Key]Source, len(sources))}
	for _, s := range sources {
		r.sources[s.Key()] = s
	}
	return r
}

// Lookup returns the source for a key, if configured.
func (r *Registry) Lookup(key Key) (Source, bool) {
	s, ok := r.sources[key]
	return s, ok
}

// Keys returns all configured source keys in stable order.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.sources))
	for k := range r.sources {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns the number of configured sources.
func (r *Registry) Len() int { return len(r.sources) }
