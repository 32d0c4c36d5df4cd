// Package httpserver exposes the aggregation service over HTTP: the
// streaming chat endpoint plus health, metrics and transcript surfaces.
package httpserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/panelchat/panelchat/internal/dispatch"
	"github.com/panelchat/panelchat/internal/health"
	"github.com/panelchat/panelchat/internal/metrics"
	"github.com/panelchat/panelchat/internal/ratelimit"
	"github.com/panelchat/panelchat/internal/source"
	"github.com/panelchat/panelchat/internal/transcript"
	"github.com/panelchat/panelchat/internal/version"
)

// Server wires the dispatcher to its HTTP surface.
type Server struct {
	registry   *source.Registry
	dispatcher *dispatch.Dispatcher

	windows         map[source.Key]string
	maxMessageBytes int64

	logger      *log.Logger
	debug       bool
	collector   *metrics.Collector
	limiter     *ratelimit.Middleware
	transcripts transcript.Store
	checker     *health.Checker
}

// New creates a server over the given registry and dispatcher.
func New(registry *source.Registry, dispatcher *dispatch.Dispatcher) *Server {
	return &Server{
		registry:        registry,
		dispatcher:      dispatcher,
		windows:         map[source.Key]string{},
		maxMessageBytes: 64 * 1024,
	}
}

// SetLogger installs a request logger; level "debug" enables verbose logs.
func (s *Server) SetLogger(logger *log.Logger, level string) {
	s.logger = logger
	s.debug = level == "debug"
}

// SetWindows installs the source identity to window identity table used
// when recording transcripts.
func (s *Server) SetWindows(windows map[source.Key]string) {
	if windows != nil {
		s.windows = windows
	}
}

// SetMaxMessageBytes caps the inbound request body size.
func (s *Server) SetMaxMessageBytes(n int64) {
	if n > 0 {
		s.maxMessageBytes = n
	}
}

// SetMetrics installs the metrics collector.
func (s *Server) SetMetrics(c *metrics.Collector) { s.collector = c }

// SetRateLimiter installs rate limiting for the streaming endpoint.
func (s *Server) SetRateLimiter(m *ratelimit.Middleware) { s.limiter = m }

// SetTranscripts installs durable transcript storage.
func (s *Server) SetTranscripts(store transcript.Store) { s.transcripts = store }

// SetHealthChecker installs dependency probes for the health endpoint.
func (s *Server) SetHealthChecker(c *health.Checker) { s.checker = c }

// Router returns the HTTP handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.logger != nil {
		r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger, NoColor: true}))
	}
	r.Use(middleware.Recoverer)

	chat := http.Handler(http.HandlerFunc(s.handleChatStream))
	if s.limiter != nil {
		chat = s.limiter.Wrap(chat)
	}
	r.Method(http.MethodPost, "/chat-stream", chat)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/transcripts", s.handleTranscripts)
	})
	return r
}

// handleHealth reports liveness, the configured source identities and,
// when probes are installed, per-dependency results.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	keys := s.registry.Keys()
	models := make([]string, 0, len(keys))
	for _, k := range keys {
		models = append(models, string(k))
	}
	payload := map[string]any{
		"status":  string(health.StatusHealthy),
		"version": version.Info(),
		"models":  models,
	}
	code := http.StatusOK
	if s.checker != nil {
		status, components := s.checker.CheckAll(r.Context())
		payload["status"] = string(status)
		payload["components"] = components
		if status == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, payload)
}

// handleMetrics returns a JSON snapshot of service counters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		respondError(w, http.StatusNotFound, "metrics not enabled")
		return
	}
	respondJSON(w, http.StatusOK, s.collector.GetSnapshot())
}

// handleTranscripts lists recently recorded turns.
func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		respondError(w, http.StatusNotFound, "transcripts not enabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n <= 500 {
			limit = n
		}
	}
	entries, err := s.transcripts.ListRecent(r.Context(), limit)
	if err != nil {
		s.logf("list transcripts: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"transcripts": entries})
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) debugf(format string, args ...any) {
	if s.debug && s.logger != nil {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
