package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/panelchat/panelchat/internal/source"
)

// Ensure OpenAISource implements source.Source.
var _ source.Source = (*OpenAISource)(nil)

// OpenAISource streams chat completions from the OpenAI API.
type OpenAISource struct {
	key          source.Key
	apiKey       string
	baseURL      string
	model        string
	systemPrompt string
	org          string // optional organization ID
	httpClient   *http.Client
}

// Config holds configuration for the OpenAI source.
type Config struct {
	Key          source.Key
	APIKey       string
	BaseURL      string // optional, defaults to https://api.openai.com/v1
	Model        string // optional, defaults to gpt-4o-mini
	SystemPrompt string
	Organization string // optional
}

// New creates an OpenAISource instance.
func New(cfg Config) (*OpenAISource, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key required")
	}
	key := cfg.Key
	if key == "" {
		key = "openai"
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAISource{
		key:          key,
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		model:        model,
		systemPrompt: cfg.SystemPrompt,
		org:          cfg.Organization,
		httpClient:   &http.Client{},
	}, nil
}

// Key returns the source identity.
func (s *OpenAISource) Key() source.Key { return s.key }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamChunk is the minimal schema of one OpenAI SSE delta payload.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Invoke sends a streaming chat completion request and emits text deltas.
func (s *OpenAISource) Invoke(ctx context.Context, message string) (<-chan source.Event, error) {
	messages := []chatMessage{}
	if s.systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: s.systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: message})

	payload := map[string]interface{}{
		"model":    s.model,
		"messages": messages,
		"stream":   true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	if s.org != "" {
		httpReq.Header.Set("OpenAI-Organization", s.org)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai: http %d: %s", resp.StatusCode, string(data))
	}

	ch := make(chan source.Event, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		reader := resp.Body
		buf := make([]byte, 8192)
		leftover := ""
		for {
			select {
			case <-ctx.Done():
				ch <- source.Event{Err: ctx.Err()}
				return
			default:
			}

			n, err := reader.Read(buf)
			if n > 0 {
				data := leftover + string(buf[:n])
				lines := strings.Split(data, "\n")
				leftover = lines[len(lines)-1]
				lines = lines[:len(lines)-1]
				for _, line := range lines {
					line = strings.TrimSpace(line)
					if line == "" || !strings.HasPrefix(line, "data:") {
						continue
					}
					payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
					if payload == "[DONE]" {
						return
					}
					var chunk streamChunk
					if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
						// A single garbled line should not kill the stream.
						continue
					}
					if len(chunk.Choices) == 0 {
						continue
					}
					if text := chunk.Choices[0].Delta.Content; text != "" {
						ch <- source.Event{Text: text}
					}
					if fr := chunk.Choices[0].FinishReason; fr != nil && *fr != "" {
						return
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					return
				}
				ch <- source.Event{Err: fmt.Errorf("openai: read stream: %w", err)}
				return
			}
		}
	}()
	return ch, nil
}
