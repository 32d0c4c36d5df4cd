package ollama

import (
	"bufio"
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

// Ensure OllamaSource implements source.Source.
var _ source.Source = (*OllamaSource)(nil)

// OllamaSource streams completions from a local Ollama server via the
// /api/generate endpoint (newline-delimited JSON, one object per chunk).
type OllamaSource struct {
	key          source.Key
	baseURL      string
	model        string
	systemPrompt string
	httpClient   *http.Client
}

// Config holds configuration for the Ollama source.
type Config struct {
	Key          source.Key
	BaseURL      string // optional, defaults to http://localhost:11434
	Model        string
	SystemPrompt string
}

// New creates an OllamaSource instance.
func New(cfg Config) (*OllamaSource, error) {
	if cfg.Model == "" {
		return nil, errors.New("ollama: model required")
	}
	key := cfg.Key
	if key == "" {
		key = "llama"
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &OllamaSource{
		key:          key,
		baseURL:      baseURL,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		// No client-level timeout: streams can legitimately outlive any
		// fixed budget; the dispatcher supervises per-chunk pacing.
		httpClient: &http.Client{},
	}, nil
}

// Key returns the source identity.
func (s *OllamaSource) Key() source.Key { return s.key }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Invoke sends a generate request and streams response increments.
func (s *OllamaSource) Invoke(ctx context.Context, message string) (<-chan source.Event, error) {
	body, err := json.Marshal(generateRequest{
		Model:  s.model,
		Prompt: s.buildPrompt(message),
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama: http %d: %s", resp.StatusCode, string(data))
	}

	ch := make(chan source.Event, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				ch <- source.Event{Err: ctx.Err()}
				return
			default:
			}
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk generateChunk
			if perr := json.Unmarshal(line, &chunk); perr != nil {
				// A single garbled line should not kill the stream.
				continue
			}
			if chunk.Response != "" {
				ch <- source.Event{Text: chunk.Response}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- source.Event{Err: fmt.Errorf("ollama: read stream: %w", err)}
		}
	}()
	return ch, nil
}

// buildPrompt prefixes the system prompt and frames the user turn.
func (s *OllamaSource) buildPrompt(message string) string {
	var sb strings.Builder
	if s.systemPrompt != "" {
		sb.WriteString("System: ")
		sb.WriteString(s.systemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString("User: ")
	sb.WriteString(message)
	sb.WriteString("\nAssistant:")
	return sb.String()
}
