package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"golang.org/x/time/rate"

	"guacplayer/internal/observability/metrics"
)

const (
	defaultLoginWindow   = time.Minute
	defaultRedisTimeout  = 2 * time.Second
	defaultLoginKeyspace = "guacplayer:login:"
)

// RateLimitConfig configures the three throttles in front of the API:
// a process-wide token bucket, a per-client window on login attempts, and a
// per-client request budget for authenticated routes. Zero values disable
// the corresponding limiter. When RedisAddr is set, login attempts are
// counted in Redis so every replica shares the same window.
type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int

	LoginLimit  int
	LoginWindow time.Duration

	APIRequestsPerMinute int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration
}

// loginStore counts attempts for key inside a fixed window.
type loginStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
	Ping(ctx context.Context) error
	Close() error
}

type rateLimiter struct {
	global *rate.Limiter

	loginLimit  int
	loginWindow time.Duration
	store       loginStore

	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(cfg RateLimitConfig) (*rateLimiter, error) {
	rl := &rateLimiter{
		loginLimit:  cfg.LoginLimit,
		loginWindow: cfg.LoginWindow,
		clients:     make(map[string]*clientLimiter),
		now:         time.Now,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = max(int(cfg.GlobalRPS), 1)
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if rl.loginLimit < 0 {
		rl.loginLimit = 0
	}
	if rl.loginWindow <= 0 {
		rl.loginWindow = defaultLoginWindow
	}
	if cfg.RedisAddr != "" && rl.loginLimit > 0 {
		store, err := newRedisStore(redisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Timeout:  cfg.RedisTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("configure login throttle store: %w", err)
		}
		rl.store = store
	}
	return rl, nil
}

// AllowRequest consumes a token from the global bucket.
func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowLogin reports whether key may attempt another login and, if not, how
// long it should wait.
func (r *rateLimiter) AllowLogin(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.loginLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = unknownClientIdentity
	}
	if r.store != nil {
		return r.store.Allow(ctx, defaultLoginKeyspace+key, r.loginLimit, r.loginWindow)
	}

	now := r.now()
	r.mu.Lock()
	client, exists := r.clients[key]
	if !exists {
		every := rate.Every(r.loginWindow / time.Duration(r.loginLimit))
		client = &clientLimiter{limiter: rate.NewLimiter(every, r.loginLimit)}
		r.clients[key] = client
	}
	client.lastSeen = now
	r.cleanupLocked(now)
	r.mu.Unlock()

	reservation := client.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

func (r *rateLimiter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-2 * r.loginWindow)
	for key, client := range r.clients {
		if client.lastSeen.Before(cutoff) {
			delete(r.clients, key)
		}
	}
}

// Ping checks the shared login store. The in-memory limiter is always ready.
func (r *rateLimiter) Ping(ctx context.Context) error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Ping(ctx)
}

func (r *rateLimiter) Distributed() bool {
	return r != nil && r.store != nil
}

func (r *rateLimiter) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

func globalRateLimitMiddleware(rl *rateLimiter, recorder *metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.AllowRequest() {
				recorder.ObserveRateLimited("global")
				setRetryAfter(w, time.Second)
				writeMiddlewareError(w, http.StatusTooManyRequests, "global rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loginThrottleMiddleware guards the login route. A failing shared store
// rejects the attempt rather than letting it through unthrottled.
func loginThrottleMiddleware(rl *rateLimiter, resolver clientIPResolver, logger *slog.Logger, recorder *metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, _ := resolver.key(r)
			allowed, retryAfter, err := rl.AllowLogin(r.Context(), key)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					loggingWithRequest(logger, resolver, r).Error("login throttle failure", "error", err)
				}
				writeMiddlewareError(w, http.StatusServiceUnavailable, "login temporarily unavailable")
				return
			}
			if !allowed {
				recorder.ObserveRateLimited("login")
				loggingWithRequest(logger, resolver, r).Warn("login throttled", "retry_after", retryAfter.String())
				setRetryAfter(w, retryAfter)
				writeMiddlewareError(w, http.StatusTooManyRequests, "too many login attempts")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// apiRateLimitMiddleware applies a sliding per-client window to API routes.
func apiRateLimitMiddleware(limit int, resolver clientIPResolver, recorder *metrics.Recorder) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		limit,
		time.Minute,
		httprate.WithKeyFuncs(resolver.key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			recorder.ObserveRateLimited("api")
			setRetryAfter(w, time.Minute)
			writeMiddlewareError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}
