package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/panelchat.ini"

	defaultSystemPrompt = "You are a helpful assistant. Answer clearly and concisely."
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// ServiceConfig describes runtime options for the aggregation service.
type ServiceConfig struct {
	Environment string
	ListenAddr  string

	SystemPrompt string

	// Supervisor budgets
	ConnectTimeout    time.Duration
	InactivityTimeout time.Duration
	SessionTimeout    time.Duration

	// Inbound request cap; oversized input fails fast before dispatch.
	MaxMessageBytes int64

	// Logging
	LogFile  string
	LogLevel string

	// Transcript persistence
	TranscriptPath string

	// Rate limiting on the streaming endpoint
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   float64

	// Upstream sources
	OllamaBaseURL      string
	OllamaModel        string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	AnthropicAPIKey    string
	AnthropicBaseURL   string
	AnthropicModel     string
	AnthropicMaxTokens int
	LoremEnabled       bool

	// Source identity -> window identity table
	Windows map[string]string
}

// LoadServiceConfig reads the current environment and loads the appropriate
// config file, applying PANELCHAT_* environment overrides.
func LoadServiceConfig(root string) (ServiceConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return ServiceConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return ServiceConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := ServiceConfig{
		Environment:  s.Environment,
		ListenAddr:   firstNonEmpty(os.Getenv("PANELCHAT_LISTEN_ADDR"), merged["listen_addr"], "localhost:5000"),
		SystemPrompt: firstNonEmpty(os.Getenv("PANELCHAT_SYSTEM_PROMPT"), merged["system_prompt"], defaultSystemPrompt),
		LogFile:      firstNonEmpty(os.Getenv("PANELCHAT_LOG_FILE"), merged["log_file"]),
		LogLevel:     firstNonEmpty(os.Getenv("PANELCHAT_LOG_LEVEL"), merged["log_level"], "info"),
	}

	cfg.ConnectTimeout, err = parseSeconds(firstNonEmpty(os.Getenv("PANELCHAT_CONNECT_TIMEOUT"), merged["connect_timeout_seconds"]), 30*time.Second)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("invalid connect_timeout_seconds: %w", err)
	}
	cfg.InactivityTimeout, err = parseSeconds(firstNonEmpty(os.Getenv("PANELCHAT_INACTIVITY_TIMEOUT"), merged["inactivity_timeout_seconds"]), 15*time.Second)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("invalid inactivity_timeout_seconds: %w", err)
	}
	cfg.SessionTimeout, err = parseSeconds(firstNonEmpty(os.Getenv("PANELCHAT_SESSION_TIMEOUT"), merged["session_timeout_seconds"]), 120*time.Second)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("invalid session_timeout_seconds: %w", err)
	}

	cfg.MaxMessageBytes = int64(parseOptionalInt(firstNonEmpty(os.Getenv("PANELCHAT_MAX_MESSAGE_BYTES"), merged["max_message_bytes"]), 64*1024))
	cfg.TranscriptPath = firstNonEmpty(os.Getenv("PANELCHAT_TRANSCRIPT_PATH"), merged["transcript_path"], DefaultTranscriptPath())

	cfg.RateLimitEnabled = parseOptionalBool(firstNonEmpty(os.Getenv("PANELCHAT_RATE_LIMIT_ENABLED"), merged["rate_limit_enabled"]), true)
	cfg.RateLimitRPS = parseOptionalFloat(firstNonEmpty(os.Getenv("PANELCHAT_RATE_LIMIT_RPS"), merged["rate_limit_rps"]), 2)
	cfg.RateLimitBurst = parseOptionalFloat(firstNonEmpty(os.Getenv("PANELCHAT_RATE_LIMIT_BURST"), merged["rate_limit_burst"]), 5)

	cfg.OllamaBaseURL = firstNonEmpty(os.Getenv("PANELCHAT_OLLAMA_BASE_URL"), merged["ollama_base_url"], "http://localhost:11434")
	cfg.OllamaModel = firstNonEmpty(os.Getenv("PANELCHAT_OLLAMA_MODEL"), merged["ollama_model"])
	cfg.OpenAIAPIKey = firstNonEmpty(os.Getenv("PANELCHAT_OPENAI_API_KEY"), os.Getenv("OPENAI_API_KEY"), merged["openai_api_key"])
	cfg.OpenAIBaseURL = firstNonEmpty(os.Getenv("PANELCHAT_OPENAI_BASE_URL"), merged["openai_base_url"])
	cfg.OpenAIModel = firstNonEmpty(os.Getenv("PANELCHAT_OPENAI_MODEL"), merged["openai_model"], "gpt-4o-mini")
	cfg.AnthropicAPIKey = firstNonEmpty(os.Getenv("PANELCHAT_ANTHROPIC_API_KEY"), os.Getenv("ANTHROPIC_API_KEY"), merged["anthropic_api_key"])
	cfg.AnthropicBaseURL = firstNonEmpty(os.Getenv("PANELCHAT_ANTHROPIC_BASE_URL"), merged["anthropic_base_url"])
	cfg.AnthropicModel = firstNonEmpty(os.Getenv("PANELCHAT_ANTHROPIC_MODEL"), merged["anthropic_model"], "claude-3-5-sonnet-latest")
	cfg.AnthropicMaxTokens = parseOptionalInt(firstNonEmpty(os.Getenv("PANELCHAT_ANTHROPIC_MAX_TOKENS"), merged["anthropic_max_tokens"]), 4096)
	cfg.LoremEnabled = parseOptionalBool(firstNonEmpty(os.Getenv("PANELCHAT_LOREM_ENABLED"), merged["lorem_enabled"]), false)

	// Window table: inline pairs first, then an optional YAML file on top.
	cfg.Windows = parsePairs(firstNonEmpty(os.Getenv("PANELCHAT_WINDOWS"), merged["windows"]))
	windowsFile := firstNonEmpty(os.Getenv("PANELCHAT_WINDOWS_FILE"), merged["windows_file"])
	if strings.TrimSpace(windowsFile) != "" {
		fileWindows, err := loadWindowsFile(windowsFile)
		if err != nil {
			return ServiceConfig{}, err
		}
		if cfg.Windows == nil {
			cfg.Windows = map[string]string{}
		}
		for k, v := range fileWindows {
			cfg.Windows[k] = v
		}
	}
	if len(cfg.Windows) == 0 {
		cfg.Windows = DefaultWindows()
	}

	return cfg, nil
}

// DefaultWindows returns the stock source -> window panel mapping.
func DefaultWindows() map[string]string {
	return map[string]string{
		"llama":     "response1",
		"anthropic": "response2",
		"openai":    "response3",
		"lorem":     "response1",
	}
}

// DefaultTranscriptPath returns the fallback transcript database location.
func DefaultTranscriptPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "transcripts.db"
	}
	return filepath.Join(home, ".panelchat", "transcripts.db")
}

// windowsFileSchema is the YAML shape of an external window table.
type windowsFileSchema struct {
	Windows map[string]string `yaml:"windows"`
}

func loadWindowsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read windows file: %w", err)
	}
	var schema windowsFileSchema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parse windows file %s: %w", path, err)
	}
	return schema.Windows, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalFloat(v string, fallback float64) float64 {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return parsed
	}
	return fallback
}

// parseSeconds converts a decimal seconds string to a duration.
func parseSeconds(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, err
	}
	if secs <= 0 {
		return 0, fmt.Errorf("must be positive, got %q", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parsePairs parses "key=value" entries separated by commas or newlines.
// Both '=' and '=>' separators are accepted.
func parsePairs(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	pairs := make(map[string]string)
	for _, line := range strings.Split(input, "\n") {
		for _, part := range strings.Split(line, ",") {
			entry := strings.TrimSpace(part)
			if entry == "" {
				continue
			}
			var kv []string
			if strings.Contains(entry, "=>") {
				kv = strings.SplitN(entry, "=>", 2)
			} else {
				kv = strings.SplitN(entry, "=", 2)
			}
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			val := strings.TrimSpace(kv[1])
			if key != "" && val != "" {
				pairs[key] = val
			}
		}
	}
	if len(pairs) == 0 {
		return nil
	}
	return pairs
}
