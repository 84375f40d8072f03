package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"
)

// requireAPIKey rejects requests without the configured X-API-Key header.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" || key != s.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid or missing API key",
			})
			return
		}
		next(w, r)
	}
}

// rateLimit applies a process-wide token bucket to the API surface.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimitRPS), s.cfg.RateLimitBurst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sanitizeFilename keeps only safe characters from a client-supplied name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := b.String()
	if out == "" || out == "." || out == ".." {
		out = "upload"
	}
	return out
}
