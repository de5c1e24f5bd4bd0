package api

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// APIKeyAuth is middleware that validates requests against a backend API key.
// It checks the X-API-Key header first, then falls back to Authorization: Bearer <key>.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestAPIKey(r)

			if key == "" {
				respondJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "Missing API key. Provide X-API-Key header or Authorization: Bearer <key>",
				})
				return
			}

			// Constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				respondJSON(w, http.StatusForbidden, map[string]string{
					"error": "Invalid API key",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// RateLimit applies a token bucket per client (API key, else remote IP).
func RateLimit(requestsPerMinute, burst int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	limiters := newClientLimiters(time.Minute/time.Duration(requestsPerMinute), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(clientKey(r)) {
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerMinute))
				w.Header().Set("X-RateLimit-Remaining", "0")
				respondError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientLimiters holds one bucket per client. A bucket idle for idleTTL has
// refilled completely, so it is dropped and recreated on the next request.
type clientLimiters struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	interval  time.Duration
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(interval time.Duration, burst int) *clientLimiters {
	idleTTL := interval * time.Duration(burst)
	if idleTTL < time.Minute {
		idleTTL = time.Minute
	}
	return &clientLimiters{
		limiters: make(map[string]*clientLimiter),
		interval: interval,
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

func (c *clientLimiters) allow(client string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= c.idleTTL {
		c.sweep(now)
	}

	l, ok := c.limiters[client]
	if !ok {
		l = &clientLimiter{limiter: rate.NewLimiter(rate.Every(c.interval), c.burst)}
		c.limiters[client] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

func (c *clientLimiters) sweep(now time.Time) {
	for client, l := range c.limiters {
		if now.Sub(l.lastSeen) >= c.idleTTL {
			delete(c.limiters, client)
		}
	}
	c.lastSweep = now
}

func (c *clientLimiters) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.limiters)
}

func clientKey(r *http.Request) string {
	if key := requestAPIKey(r); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestLogger logs one line per request with logrus.
func RequestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.WithFields(logrus.Fields{
				"request_id":  middleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": ww.Status(),
				"bytes":       ww.BytesWritten(),
				"latency":     time.Since(start),
				"client_ip":   r.RemoteAddr,
			}).Info("HTTP Request")
		})
	}
}
