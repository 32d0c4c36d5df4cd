package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PANELCHAT_LISTEN_ADDR", "PANELCHAT_SYSTEM_PROMPT", "PANELCHAT_LOG_FILE",
		"PANELCHAT_LOG_LEVEL", "PANELCHAT_CONNECT_TIMEOUT", "PANELCHAT_INACTIVITY_TIMEOUT",
		"PANELCHAT_SESSION_TIMEOUT", "PANELCHAT_MAX_MESSAGE_BYTES", "PANELCHAT_TRANSCRIPT_PATH",
		"PANELCHAT_RATE_LIMIT_ENABLED", "PANELCHAT_WINDOWS", "PANELCHAT_WINDOWS_FILE",
		"PANELCHAT_OLLAMA_MODEL", "PANELCHAT_OPENAI_API_KEY", "PANELCHAT_ANTHROPIC_API_KEY",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadServiceConfigDefaults(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	cfg, err := LoadServiceConfig(root)
	if err != nil {
		t.Fatalf("LoadServiceConfig: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("environment = %q", cfg.Environment)
	}
	if cfg.ListenAddr != "localhost:5000" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.ConnectTimeout != 30*time.Second || cfg.InactivityTimeout != 15*time.Second || cfg.SessionTimeout != 120*time.Second {
		t.Fatalf("timeouts = %v/%v/%v", cfg.ConnectTimeout, cfg.InactivityTimeout, cfg.SessionTimeout)
	}
	if cfg.MaxMessageBytes != 64*1024 {
		t.Fatalf("max message bytes = %d", cfg.MaxMessageBytes)
	}
	if cfg.Windows["llama"] != "response1" || cfg.Windows["openai"] != "response3" {
		t.Fatalf("windows = %v", cfg.Windows)
	}
}

func TestLoadServiceConfigFromFiles(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config/setting.ini"), "environment=prod\nlog_level=debug\n")
	writeFile(t, filepath.Join(root, "config/prod/panelchat.ini"), `
listen_addr = 0.0.0.0:8080
connect_timeout_seconds = 10
inactivity_timeout_seconds = 5.5
session_timeout_seconds = 60
ollama_model = llama3
windows = llama=left, openai=right
`)

	cfg, err := LoadServiceConfig(root)
	if err != nil {
		t.Fatalf("LoadServiceConfig: %v", err)
	}
	if cfg.Environment != "prod" {
		t.Fatalf("environment = %q", cfg.Environment)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q (settings defaults should carry over)", cfg.LogLevel)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("connect timeout = %v", cfg.ConnectTimeout)
	}
	if cfg.InactivityTimeout != 5500*time.Millisecond {
		t.Fatalf("inactivity timeout = %v", cfg.InactivityTimeout)
	}
	if cfg.OllamaModel != "llama3" {
		t.Fatalf("ollama model = %q", cfg.OllamaModel)
	}
	if cfg.Windows["llama"] != "left" || cfg.Windows["openai"] != "right" {
		t.Fatalf("windows = %v", cfg.Windows)
	}
}

func TestEnvOverridesFiles(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config/setting.ini"), "environment=dev\n")
	writeFile(t, filepath.Join(root, "config/dev/panelchat.ini"), "listen_addr = localhost:5000\nsession_timeout_seconds = 60\n")

	t.Setenv("PANELCHAT_LISTEN_ADDR", "127.0.0.1:9999")
	t.Setenv("PANELCHAT_SESSION_TIMEOUT", "45")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadServiceConfig(root)
	if err != nil {
		t.Fatalf("LoadServiceConfig: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.SessionTimeout != 45*time.Second {
		t.Fatalf("session timeout = %v", cfg.SessionTimeout)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("openai key not picked up from plain env var")
	}
}

func TestInvalidTimeoutRejected(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config/setting.ini"), "environment=dev\n")
	writeFile(t, filepath.Join(root, "config/dev/panelchat.ini"), "connect_timeout_seconds = -3\n")

	if _, err := LoadServiceConfig(root); err == nil {
		t.Fatalf("expected error for negative timeout")
	}
}

func TestWindowsFileOverlaysInlinePairs(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	yamlPath := filepath.Join(root, "windows.yaml")
	writeFile(t, yamlPath, "windows:\n  anthropic: response9\n")
	writeFile(t, filepath.Join(root, "config/setting.ini"), "environment=dev\n")
	writeFile(t, filepath.Join(root, "config/dev/panelchat.ini"),
		"windows = llama=response1, anthropic=response2\nwindows_file = "+yamlPath+"\n")

	cfg, err := LoadServiceConfig(root)
	if err != nil {
		t.Fatalf("LoadServiceConfig: %v", err)
	}
	if cfg.Windows["llama"] != "response1" {
		t.Fatalf("inline pair lost: %v", cfg.Windows)
	}
	if cfg.Windows["anthropic"] != "response9" {
		t.Fatalf("file should win over inline pair: %v", cfg.Windows)
	}
}

func TestParsePairs(t *testing.T) {
	got := parsePairs("a=1, b=>2\nc = 3,, bad")
	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	if len(got) != len(want) {
		t.Fatalf("parsePairs = %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("parsePairs[%s] = %q, want %q", k, got[k], v)
		}
	}
}
