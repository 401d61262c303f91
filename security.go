package main

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/olgasafonova/confluence-spec-mcp-server/metrics"
)

// SecurityConfig configures the HTTP transport middleware
type SecurityConfig struct {
	// RateLimit is the number of requests allowed per IP per minute; 0 disables limiting
	RateLimit int

	// MaxBodySize caps request bodies, in bytes; 0 disables the cap
	MaxBodySize int64
}

// RateLimiter is a per-IP token bucket. Buckets refill lazily on access, so
// it runs no background goroutine.
type RateLimiter struct {
	rate     int
	interval time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	stopCh    chan struct{}
	closeOnce sync.Once
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter allows rate requests per interval for each IP.
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		rate:      rate,
		interval:  interval,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Allow reports whether ip may make a request now, consuming a token if so.
func (rl *RateLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	select {
	case <-rl.stopCh:
		return true
	default:
	}

	rl.sweep(now)

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{tokens: float64(rl.rate), last: now}
		rl.buckets[ip] = b
	}

	elapsed := now.Sub(b.last)
	if elapsed > 0 {
		b.tokens += float64(rl.rate) * float64(elapsed) / float64(rl.interval)
		if b.tokens > float64(rl.rate) {
			b.tokens = float64(rl.rate)
		}
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets that have refilled completely. Callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.interval {
		return
	}
	for ip, b := range rl.buckets {
		if now.Sub(b.last) >= rl.interval {
			delete(rl.buckets, ip)
		}
	}
	rl.lastSweep = now
}

// Close stops limiting and releases the buckets. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		close(rl.stopCh)
		rl.buckets = make(map[string]*bucket)
	})
}

// SecurityMiddleware applies rate limiting, body size limits and response
// headers to the HTTP transport.
type SecurityMiddleware struct {
	handler http.Handler
	logger  *slog.Logger
	config  SecurityConfig
	limiter *RateLimiter
}

// NewSecurityMiddleware wraps handler.
func NewSecurityMiddleware(handler http.Handler, logger *slog.Logger, config SecurityConfig) *SecurityMiddleware {
	sm := &SecurityMiddleware{handler: handler, logger: logger, config: config}
	if config.RateLimit > 0 {
		sm.limiter = NewRateLimiter(config.RateLimit, time.Minute)
	}
	return sm
}

// Close releases the rate limiter.
func (sm *SecurityMiddleware) Close() {
	if sm.limiter != nil {
		sm.limiter.Close()
	}
}

func (sm *SecurityMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	}()

	rec.Header().Set("X-Content-Type-Options", "nosniff")
	rec.Header().Set("X-Frame-Options", "DENY")
	rec.Header().Set("Cache-Control", "no-store")

	if sm.limiter != nil {
		ip := clientIP(r)
		if !sm.limiter.Allow(ip) {
			metrics.RateLimitRejections.Inc()
			sm.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
			rec.Header().Set("Retry-After", "60")
			http.Error(rec, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	if sm.config.MaxBodySize > 0 && r.Body != nil {
		if r.ContentLength > sm.config.MaxBodySize {
			http.Error(rec, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(rec, r.Body, sm.config.MaxBodySize)
	}

	sm.handler.ServeHTTP(rec, r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
