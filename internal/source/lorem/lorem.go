package lorem

import (
	"context"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	"github.com/panelchat/panelchat/internal/source"
)

// Ensure LoremSource implements source.Source.
var _ source.Source = (*LoremSource)(nil)

// LoremSource is a mock source that streams lorem ipsum words. It stands in
// for a real provider in development and tests, no API key required.
type LoremSource struct {
	key       source.Key
	generator *loremgen.Lorem
	words     int
	delay     time.Duration
}

// Config holds configuration for the lorem source.
type Config struct {
	Key   source.Key
	Words int           // optional, defaults to 40
	Delay time.Duration // optional pause between words, defaults to 25ms
}

// New creates a LoremSource instance.
func New(cfg Config) *LoremSource {
	key := cfg.Key
	if key == "" {
		key = "lorem"
	}
	words := cfg.Words
	if words <= 0 {
		words = 40
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = 25 * time.Millisecond
	}
	return &LoremSource{
		key:       key,
		generator: loremgen.New(),
		words:     words,
		delay:     delay,
	}
}

// Key returns the source identity.
func (s *LoremSource) Key() source.Key { return s.key }

// Invoke streams generated words at a fixed pace until the budget is spent.
func (s *LoremSource) Invoke(ctx context.Context, message string) (<-chan source.Event, error) {
	text := s.generateText()
	words := strings.Fields(text)

	ch := make(chan source.Event, 10)
	go func() {
		defer close(ch)
		for _, word := range words {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.delay):
			}
			select {
			case <-ctx.Done():
				return
			case ch <- source.Event{Text: word + " "}:
			}
		}
	}()
	return ch, nil
}

func (s *LoremSource) generateText() string {
	var sb strings.Builder
	count := 0
	for count < s.words {
		sentence := s.generator.Sentence(5, 12)
		sb.WriteString(sentence)
		sb.WriteString(" ")
		count += len(strings.Fields(sentence))
	}
	return strings.TrimSpace(sb.String())
}
