package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/panelchat/panelchat/internal/config"
	"github.com/panelchat/panelchat/internal/dispatch"
	"github.com/panelchat/panelchat/internal/health"
	"github.com/panelchat/panelchat/internal/httpserver"
	"github.com/panelchat/panelchat/internal/logging"
	"github.com/panelchat/panelchat/internal/metrics"
	"github.com/panelchat/panelchat/internal/ratelimit"
	"github.com/panelchat/panelchat/internal/source"
	"github.com/panelchat/panelchat/internal/source/anthropic"
	"github.com/panelchat/panelchat/internal/source/lorem"
	"github.com/panelchat/panelchat/internal/source/ollama"
	"github.com/panelchat/panelchat/internal/source/openai"
	transcriptsqlite "github.com/panelchat/panelchat/internal/transcript/sqlite"
	"github.com/panelchat/panelchat/internal/version"
)

func main() {
	// Local .env is optional; missing files are not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadServiceConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	const maxLogBytes = int64(100 * 1024 * 1024) // 100MB
	if strings.TrimSpace(cfg.LogFile) != "" {
		rot, err := logging.NewRotatingWriter(cfg.LogFile, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[panelchatd] ")
	log.Printf("panelchat %s", version.FullInfo())

	registry := buildRegistry(cfg)
	if registry.Len() == 0 {
		log.Fatalf("no sources configured: set ollama_model, an API key, or lorem_enabled=true")
	}
	log.Printf("sources configured: %v", registry.Keys())

	dispatcher := dispatch.New(registry, dispatch.Config{
		ConnectTimeout:    cfg.ConnectTimeout,
		InactivityTimeout: cfg.InactivityTimeout,
		SessionTimeout:    cfg.SessionTimeout,
	}, log.New(log.Writer(), "[panelchatd/dispatch] ", log.LstdFlags|log.Lmicroseconds))

	srv := httpserver.New(registry, dispatcher)
	srv.SetLogger(log.New(log.Writer(), "[panelchatd/http] ", log.LstdFlags|log.Lmicroseconds), cfg.LogLevel)
	srv.SetMaxMessageBytes(cfg.MaxMessageBytes)
	srv.SetWindows(windowTable(cfg.Windows))

	collector := metrics.NewCollector()
	srv.SetMetrics(collector)

	if cfg.RateLimitEnabled {
		limiter := ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		})
		defer limiter.Close()
		mw := ratelimit.NewMiddleware(limiter, true, log.New(log.Writer(), "[panelchatd/ratelimit] ", log.LstdFlags))
		mw.OnReject = collector.RecordRateLimitHit
		srv.SetRateLimiter(mw)
	}

	checker := health.NewChecker(3 * time.Second)
	if strings.TrimSpace(cfg.OllamaModel) != "" {
		checker.Register("ollama", "upstream", health.Reachable(nil, cfg.OllamaBaseURL))
	}

	if strings.TrimSpace(cfg.TranscriptPath) != "" {
		store, err := transcriptsqlite.New(cfg.TranscriptPath)
		if err != nil {
			log.Fatalf("open transcript store: %v", err)
		}
		defer store.Close()
		srv.SetTranscripts(store)
		checker.Register("transcripts", "database", store.Ping)
		log.Printf("transcripts recorded to %s", cfg.TranscriptPath)
	}
	srv.SetHealthChecker(checker)

	httpSrv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     srv.Router(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: chat streams stay open for the whole session
		// budget and are bounded by the dispatcher instead.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("panelchat server listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// buildRegistry registers every source the configuration enables.
func buildRegistry(cfg config.ServiceConfig) *source.Registry {
	var sources []source.Source

	if strings.TrimSpace(cfg.OllamaModel) != "" {
		src, err := ollama.New(ollama.Config{
			BaseURL:      cfg.OllamaBaseURL,
			Model:        cfg.OllamaModel,
			SystemPrompt: cfg.SystemPrompt,
		})
		if err != nil {
			log.Printf("ollama source init failed: %v", err)
		} else {
			sources = append(sources, src)
		}
	}

	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		src, err := anthropic.New(anthropic.Config{
			APIKey:       cfg.AnthropicAPIKey,
			BaseURL:      cfg.AnthropicBaseURL,
			Model:        cfg.AnthropicModel,
			SystemPrompt: cfg.SystemPrompt,
			MaxTokens:    int64(cfg.AnthropicMaxTokens),
		})
		if err != nil {
			log.Printf("anthropic source init failed: %v", err)
		} else {
			sources = append(sources, src)
		}
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		src, err := openai.New(openai.Config{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.OpenAIModel,
			SystemPrompt: cfg.SystemPrompt,
		})
		if err != nil {
			log.Printf("openai source init failed: %v", err)
		} else {
			sources = append(sources, src)
		}
	}

	if cfg.LoremEnabled {
		sources = append(sources, lorem.New(lorem.Config{}))
	}

	return source.NewRegistry(sources...)
}

func windowTable(m map[string]string) map[source.Key]string {
	out := make(map[source.Key]string, len(m))
	for k, v := range m {
		out[source.Key(k)] = v
	}
	return out
}
