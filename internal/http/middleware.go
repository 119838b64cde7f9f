package http

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/idempotency"
	"github.com/robertarktes/tigertix/internal/observability"
	"github.com/robertarktes/tigertix/internal/rateLimit"
	"github.com/robertarktes/tigertix/internal/reservation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := observability.ContextWithLogger(r.Context(), entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// JWTMiddleware requires an HMAC-signed bearer token. An empty secret
// disables the check.
func JWTMiddleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
			tok, err := jwt.Parse(strings.TrimSpace(authz[7:]), func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
			if err != nil || !tok.Valid {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyMiddleware validates the Idempotency-Key header on POST and
// answers a repeated key from the response cache. Only 2xx responses are
// cached; failures stay retryable.
func IdempotencyMiddleware(idemp *idempotency.Idempotency, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(reservation.IdempotencyKeyHeader)
			if !idempotencyKeyValid(key) {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid Idempotency-Key"})
				return
			}
			if key == "" || idemp == nil {
				next.ServeHTTP(w, r)
				return
			}

			log := observability.LoggerFrom(r.Context(), logger)
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, logger, domain.InvalidInput("unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := requestFingerprint(body)

			cacheKey := r.URL.Path + ":" + key
			cached, err := idemp.Get(r.Context(), cacheKey)
			if err != nil {
				log.WithError(err).Warn("idempotency cache read failed")
			}
			if cached != nil && cached.Fingerprint != "" && cached.Fingerprint != fingerprint {
				writeError(w, r, logger, domain.InvalidInput("idempotency key was already used for a different purchase"))
				return
			}
			if cached != nil {
				observability.IdempotentReplays.Inc()
				if cached.ContentType != "" {
					w.Header().Set("Content-Type", cached.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.Status)
				w.Write(cached.Result)
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			if ww.Status() >= 200 && ww.Status() < 300 {
				err := idemp.Set(r.Context(), cacheKey, idempotency.Response{
					Status:      ww.Status(),
					ContentType: ww.Header().Get("Content-Type"),
					Fingerprint: fingerprint,
					Result:      buf.Bytes(),
				})
				if err != nil {
					log.WithError(err).Warn("idempotency cache write failed")
				}
			}
		})
	}
}

// requestFingerprint hashes the body in canonical JSON form so key order and
// whitespace do not matter. Bodies that are not JSON are hashed as sent.
func requestFingerprint(body []byte) string {
	canonical := body
	var v interface{}
	if err := json.Unmarshal(body, &v); err == nil {
		if b, err := json.Marshal(v); err == nil {
			canonical = b
		}
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// RateLimitMiddleware limits per client IP. When the limiter backend fails
// the request is let through.
func RateLimitMiddleware(rl *rateLimit.RateLimiter, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			allowed, err := rl.Allow(r.Context(), "ip:"+ip)
			if err != nil {
				observability.LoggerFrom(r.Context(), logger).WithError(err).Warn("rate limiter unavailable")
				allowed = true
			}
			if !allowed {
				observability.RateLimitExceeded.Inc()
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
	})
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status()), r.Method).Inc()
	})
}
