package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/panelchat/panelchat/internal/source"
)

// Ensure AnthropicSource implements source.Source.
var _ source.Source = (*AnthropicSource)(nil)

// AnthropicSource streams completions from the Anthropic API (Claude)
// through the official SDK.
type AnthropicSource struct {
	key          source.Key
	client       *anthropic.Client
	model        string
	systemPrompt string
	maxTokens    int64
}

// Config holds configuration for the Anthropic source.
type Config struct {
	Key          source.Key
	APIKey       string
	BaseURL      string // optional
	Model        string // optional, defaults to claude-3-5-sonnet-latest
	SystemPrompt string
	MaxTokens    int64 // optional, defaults to 4096
}

// New creates an AnthropicSource instance.
func New(cfg Config) (*AnthropicSource, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key required")
	}
	key := cfg.Key
	if key == "" {
		key = "anthropic"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicSource{
		key:          key,
		client:       &client,
		model:        model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    maxTokens,
	}, nil
}

// Key returns the source identity.
func (s *AnthropicSource) Key() source.Key { return s.key }

// Invoke starts a streaming message request and emits text deltas.
func (s *AnthropicSource) Invoke(ctx context.Context, message string) (<-chan source.Event, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("anthropic: empty message")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
		},
	}
	if s.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: s.systemPrompt}}
	}

	ch := make(chan source.Event, 10)
	go func() {
		defer close(ch)

		stream := s.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if e.Delta.Type == "text_delta" && e.Delta.Text != "" {
					select {
					case <-ctx.Done():
						ch <- source.Event{Err: ctx.Err()}
						return
					case ch <- source.Event{Text: e.Delta.Text}:
					}
				}
			case anthropic.MessageStopEvent:
				return
			}
		}
		if err := stream.Err(); err != nil {
			ch <- source.Event{Err: fmt.Errorf("anthropic: stream: %w", err)}
		}
	}()
	return ch, nil
}
