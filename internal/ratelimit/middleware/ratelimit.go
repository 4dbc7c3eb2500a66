// Package middleware throttles API requests per caller, falling back to the
// client IP for anonymous requests.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"trustcore/internal/ratelimit/metrics"
	"trustcore/internal/ratelimit/models"
	"trustcore/pkg/platform/circuit"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/platform/middleware/request"
	"trustcore/pkg/requestcontext"
)

// BucketStore admits or rejects one request against a keyed window.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit models.Limit) (*models.Result, error)
}

// Middleware enforces per-class request budgets.
type Middleware struct {
	primary  BucketStore
	fallback BucketStore
	breaker  *circuit.Breaker
	limits   map[models.EndpointClass]models.Limit
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns throttling off entirely.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithFallback serves checks from store while the primary store is failing.
func WithFallback(store BucketStore, breaker *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.fallback = store
		m.breaker = breaker
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(mw *Middleware) {
		mw.metrics = m
	}
}

func New(store BucketStore, limits map[models.EndpointClass]models.Limit, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: store,
		limits:  limits,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.disabled {
		m.logger.Info("rate limiting disabled")
	}
	return m
}

// Handler must run after authentication so the caller is known.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		class := models.ClassOf(r.Method)
		limit, ok := m.limits[class]
		if !ok || limit.RequestsPerWindow <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := keyFor(r, class)
		result, degraded, err := m.check(ctx, key, limit)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed, allowing request",
				"request_id", requestcontext.RequestID(ctx),
				"class", string(class),
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		addHeaders(w, result)
		if degraded {
			w.Header().Set("X-RateLimit-Status", "degraded")
		}
		if !result.Allowed {
			m.metrics.IncrementRejected(string(class))
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"request_id", requestcontext.RequestID(ctx),
				"class", string(class),
				"key", key,
			)
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
				Error:      "rate_limit_exceeded",
				Message:    "Too many requests. Please try again later.",
				RetryAfter: result.RetryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) check(ctx context.Context, key string, limit models.Limit) (*models.Result, bool, error) {
	result, err := m.primary.Allow(ctx, key, limit)
	if err == nil {
		if m.breaker != nil {
			if _, change := m.breaker.RecordSuccess(); change.Closed {
				m.logger.InfoContext(ctx, "rate limit store recovered", "breaker", m.breaker.Name())
				m.metrics.SetDegraded(false)
			}
		}
		return result, false, nil
	}

	m.metrics.IncrementStoreFailures()
	if m.breaker == nil || m.fallback == nil {
		return nil, false, err
	}
	useFallback, change := m.breaker.RecordFailure()
	if change.Opened {
		m.logger.WarnContext(ctx, "rate limit store failing, using in-memory fallback",
			"breaker", m.breaker.Name(),
			"error", err,
		)
		m.metrics.SetDegraded(true)
	}
	if !useFallback {
		return nil, false, err
	}
	result, err = m.fallback.Allow(ctx, key, limit)
	return result, true, err
}

func keyFor(r *http.Request, class models.EndpointClass) string {
	if caller := requestcontext.Caller(r.Context()); !caller.IsNil() {
		return models.NewKey(class, "caller", caller.String())
	}
	return models.NewKey(class, "ip", request.ClientIP(r))
}

func addHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
