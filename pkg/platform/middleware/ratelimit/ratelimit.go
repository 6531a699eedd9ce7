// Package ratelimit provides fixed-window request limiting keyed by user or
// client IP. A shared store (Redis) is used when healthy; a circuit breaker
// switches to the in-process store while it is failing.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/circuit"
	"ticketeer/pkg/platform/httputil"
	"ticketeer/pkg/requestcontext"
)

// Result of a single limiter check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Store counts hits for a key inside a window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Rule names a route class and its budget.
type Rule struct {
	Class  string
	Limit  int
	Window time.Duration
}

type Middleware struct {
	primary  Store
	fallback Store
	breaker  *circuit.Breaker
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for tests and local demos).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

// WithFallback sets the store used while the primary's breaker is open.
func WithFallback(store Store) Option {
	return func(m *Middleware) { m.fallback = store }
}

func New(primary Store, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		breaker: circuit.New("ratelimit", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(3)),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fallback == nil {
		m.fallback = NewMemoryStore()
	}
	if m.primary == nil {
		m.primary = m.fallback
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

func (m *Middleware) check(ctx context.Context, key string, rule Rule) (*Result, error) {
	if m.breaker.IsOpen() {
		res, err := m.primary.Allow(ctx, key, rule.Limit, rule.Window)
		if err != nil {
			m.breaker.RecordFailure()
			return m.fallback.Allow(ctx, key, rule.Limit, rule.Window)
		}
		if _, change := m.breaker.RecordSuccess(); change.Closed {
			m.logger.InfoContext(ctx, "rate limit store recovered")
			return res, nil
		}
		return m.fallback.Allow(ctx, key, rule.Limit, rule.Window)
	}

	res, err := m.primary.Allow(ctx, key, rule.Limit, rule.Window)
	if err != nil {
		useFallback, change := m.breaker.RecordFailure()
		if change.Opened {
			m.logger.WarnContext(ctx, "rate limit store failing, using in-memory fallback", "error", err)
		}
		if useFallback {
			return m.fallback.Allow(ctx, key, rule.Limit, rule.Window)
		}
		return nil, err
	}
	m.breaker.RecordSuccess()
	return res, nil
}

// Limit enforces rule per authenticated user, or per client IP for anonymous callers.
func (m *Middleware) Limit(rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled || rule.Limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := keyFor(ctx, rule.Class)

			res, err := m.check(ctx, key, rule)
			if err != nil {
				// fail open: limiting is a protection, not a correctness gate
				m.logger.ErrorContext(ctx, "rate limit check failed",
					"request_id", requestcontext.RequestID(ctx),
					"class", rule.Class,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			if m.breaker.IsOpen() {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			if !res.Allowed {
				retry := int(time.Until(res.ResetAt).Seconds()) + 1
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keyFor(ctx context.Context, class string) string {
	if uid := requestcontext.UserID(ctx); !uid.IsNil() {
		return fmt.Sprintf("rl:%s:user:%s", class, uid)
	}
	return fmt.Sprintf("rl:%s:ip:%s", class, requestcontext.ClientIP(ctx))
}
