package ratelimit

import (
	"fmt"
	"log"
	"net"
	"net/http"
)

// Middleware wraps an HTTP handler with per-client rate limiting.
type Middleware struct {
	limiter *Limiter
	enabled bool
	logger  *log.Logger

	// OnReject, when set, is called once per rejected request.
	OnReject func()
}

// NewMiddleware creates a rate limiting middleware. When disabled it is a
// no-op passthrough.
func NewMiddleware(limiter *Limiter, enabled bool, logger *log.Logger) *Middleware {
	return &Middleware{limiter: limiter, enabled: enabled, logger: logger}
}

// Wrap applies rate limiting to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled || m.limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !m.limiter.Allow(key) {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", m.limiter.Capacity()))
			w.Header().Set("X-RateLimit-Remaining", "0")
			if m.logger != nil {
				m.logger.Printf("rate limit exceeded: client=%s path=%s", key, r.URL.Path)
			}
			if m.OnReject != nil {
				m.OnReject()
			}
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", m.limiter.Capacity()))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", m.limiter.Remaining(key)))
		next.ServeHTTP(w, r)
	})
}

// clientKey derives the limiting key from the request. RealIP middleware
// runs earlier in the chain, so RemoteAddr already reflects forwarding
// headers when present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
