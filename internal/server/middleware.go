package server

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// fixed-window per-key rate limiter for the device ingestion endpoints
type rateLimiter struct {
	capacity int
	window   time.Duration
	mu       sync.Mutex
	store    map[string]bucket
}

type bucket struct {
	remaining int
	reset     time.Time
}

func newRateLimiter(capacity int, window time.Duration) *rateLimiter {
	return &rateLimiter{capacity: capacity, window: window, store: map[string]bucket{}}
}

func (r *rateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.store[key]
	now := time.Now()
	if !ok || now.After(b.reset) {
		r.store[key] = bucket{remaining: r.capacity - 1, reset: now.Add(r.window)}
		return true
	}
	if b.remaining <= 0 {
		r.store[key] = b
		return false
	}
	b.remaining--
	r.store[key] = b
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder captures the response code for access logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withAccessLog logs method, path, status, and latency, and feeds the
// request counter.
func (s *Server) withAccessLog(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		s.metrics.requests.WithLabelValues(route, fmt.Sprintf("%dxx", rec.status/100)).Inc()
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, elapsed)
	})
}

// withCORS mirrors the permissive policy of the deployed server; the admin
// and kiosk UIs are served from different origins.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withDeviceLimit rate-limits device pushes per source IP.
func (s *Server) withDeviceLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			http.Error(w, `{"message":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
