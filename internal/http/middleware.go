package http

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/idempotency"
	"github.com/robertarktes/departure-inventory/internal/observability"
	"github.com/robertarktes/departure-inventory/internal/ratelimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	actorHeader       = "X-Actor-ID"
	sessionHeader     = "X-Session-ID"
	idempotencyHeader = "Idempotency-Key"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	identityKey
)

// Identity is who is acting, as asserted by the upstream gateway.
type Identity struct {
	ActorID   string
	SessionID string
}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

func loggerFrom(ctx context.Context) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return observability.NewDiscardLogger()
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{ActorID: r.Header.Get(actorHeader), SessionID: r.Header.Get(sessionHeader)}
		ctx := context.WithValue(r.Context(), identityKey, id)
		if id.ActorID != "" {
			ctx = context.WithValue(ctx, loggerKey, loggerFrom(ctx).WithField("actor_id", id.ActorID))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MetricsMiddleware counts requests by route pattern, not raw path.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer("http").Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

// RateLimits are per-window request budgets. Zero disables a budget.
type RateLimits struct {
	PerActor int
	PerIP    int
	Window   time.Duration
}

func RateLimitMiddleware(rl *ratelimit.RateLimiter, limits RateLimits) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			allowed := rl.Allow(ctx, "ip:"+clientIP(r), limits.PerIP, limits.Window)
			if actor := identityFrom(ctx).ActorID; allowed && actor != "" {
				allowed = rl.Allow(ctx, "actor:"+actor, limits.PerActor, limits.Window)
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(limits.Window.Seconds())))
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{Code: "RATE_LIMITED", Message: "rate limit exceeded"}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

const maxIdempotencyKey = 255

// IdempotencyMiddleware replays the stored response of a POST that carries
// an Idempotency-Key seen before. Server errors are not stored, so the
// client may retry them with the same key.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKey {
				writeError(w, r, errors.Mark(errors.New("Idempotency-Key is too long"), domain.ErrValidation))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, errors.Mark(errors.Wrap(err, "read body"), domain.ErrValidation))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fp := idempotency.Fingerprint(r.Method, r.URL.Path, body)

			stored, err := idemp.Begin(r.Context(), key, fp)
			switch {
			case errors.Is(err, idempotency.ErrKeyReused):
				writeError(w, r, errors.Wrap(domain.ErrIdempotencyConflict, err.Error()))
				return
			case errors.Is(err, idempotency.ErrInFlight):
				writeError(w, r, errors.Mark(err, domain.ErrConflict))
				return
			case err != nil:
				// The cache is an optimisation over the engine's own idempotency.
				loggerFrom(r.Context()).WithError(err).Warn("idempotency store unavailable")
				next.ServeHTTP(w, r)
				return
			case stored != nil:
				for k, v := range stored.Header {
					w.Header().Set(k, v)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Result)
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			var resp *idempotency.Response
			if status < http.StatusInternalServerError {
				resp = &idempotency.Response{
					Status: status,
					Header: map[string]string{"Content-Type": ww.Header().Get("Content-Type")},
					Result: buf.Bytes(),
				}
			}
			if err := idemp.Finish(context.WithoutCancel(r.Context()), key, fp, resp); err != nil {
				loggerFrom(r.Context()).WithError(err).Warn("store idempotent response")
			}
		})
	}
}
