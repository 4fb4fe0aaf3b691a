package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/auth"
	"github.com/fpang/social-scheduler/internal/metrics"
)

type ctxKey int

const claimsKey ctxKey = iota

func withClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// claimsFrom returns the caller set by withAuth, or nil on public routes.
func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}

func userID(r *http.Request) string {
	if c := claimsFrom(r.Context()); c != nil {
		return c.UserID
	}
	return ""
}

// withRecover turns a panic into a 500 so one bad request does not take the
// whole invocation down.
func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Str("path", r.URL.Path).
					Str("panic", fmt.Sprint(rec)).
					Bytes("stack", debug.Stack()).
					Msg("Recovered from panic in handler")
				httpError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// withMetrics emits RequestLatencyMs and RequestCount per endpoint.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		elapsed := time.Since(start)
		metrics.New(metrics.Namespace).
			Dimension("Endpoint", normalizeEndpoint(r.URL.Path)).
			Metric("RequestLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
			Count("RequestCount").
			Property("method", r.Method).
			Property("statusCode", sr.statusCode).
			Property("path", r.URL.Path).
			Flush()
	})
}

// normalizeEndpoint collapses path parameters so /api/posts/{id}/publish
// is one dimension value rather than one per post.
func normalizeEndpoint(path string) string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		if looksLikeID(p) {
			p = "*"
		}
		parts = append(parts, p)
	}
	return "/" + strings.Join(parts, "/")
}

// looksLikeID reports whether a path segment looks like a generated ID
// (UUID, hex, or an id with a long numeric run).
func looksLikeID(s string) bool {
	if len(s) < 8 {
		return false
	}
	idChars := 0
	for _, c := range s {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || c == '-' || c == '_' {
			idChars++
		}
	}
	return float64(idChars)/float64(len(s)) > 0.8
}

// withGzip compresses responses for clients that accept it.
func withGzip(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

// isPublicPath lists routes that skip bearer auth. Cron has its own secret.
func isPublicPath(path string) bool {
	return path == "/api/health" || strings.HasPrefix(path, "/api/cron/")
}

// withAuth requires a valid bearer token on every non-public route and
// stores the caller's claims on the request context.
func withAuth(v *auth.Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := v.FromRequest(r)
		if err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("Rejected unauthenticated request")
			httpError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// redisCounter is the subset of a go-redis client the limiter uses.
type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisLimiter is a fixed-window counter: the first hit in a window sets
// the key's expiry, and hits past limit are refused until it expires.
type RedisLimiter struct {
	client redisCounter
	limit  int64
	window time.Duration
}

// NewRedisLimiter allows limit requests per key per window.
func NewRedisLimiter(client redisCounter, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: int64(limit), window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	key = "rate_limit:" + key
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to set rate limit window")
		}
	}
	return count <= l.limit, nil
}

// withRateLimit keys requests by path and caller (or client IP on public
// routes). A nil limiter disables limiting.
func withRateLimit(l Limiter, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who := userID(r)
		if who == "" {
			who = clientIP(r)
		}
		ok, err := l.Allow(r.Context(), normalizeEndpoint(r.URL.Path)+":"+who)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "rate limit check failed", err.Error())
			return
		}
		if !ok {
			httpError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cronAuthorized accepts the shared secret in x-cron-secret or as a bearer
// token. An empty secret rejects everything.
func cronAuthorized(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	got := r.Header.Get("x-cron-secret")
	if got == "" {
		got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
