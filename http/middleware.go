package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mark3labs/x402-facilitator/encoding"
	"github.com/mark3labs/x402-facilitator/internal/auth"
	"github.com/mark3labs/x402-facilitator/metrics"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// AdminClaimsKey holds the verified *auth.AdminClaims on admin requests.
const AdminClaimsKey = contextKey("x402_admin_claims")

// AllowedHeaders are the request headers accepted from browsers.
var AllowedHeaders = []string{"Content-Type", "Authorization", encoding.PaymentHeader}

// requestLogger logs every request and records its duration on m.
func requestLogger(logger zerolog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			m.ObserveRequest(r.Method, route, strconv.Itoa(status), elapsed)

			event := logger.Debug()
			if status >= http.StatusInternalServerError {
				event = logger.Warn()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", elapsed).
				Msg("request")
		})
	}
}

// cors allows cross-origin calls from browser agents and answers preflight.
func cors(next http.Handler) http.Handler {
	allowed := strings.Join(AllowedHeaders, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", allowed)
		h.Set("Access-Control-Expose-Headers", encoding.PaymentResponseHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// adminOnly rejects requests without a valid admin token.
func adminOnly(tokens *auth.TokenAuth, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeResponse(w, unauthorized("missing bearer token"))
				return
			}
			claims, err := tokens.Verify(token)
			if err != nil {
				logger.Warn().Err(err).Str("route", r.URL.Path).Msg("admin token rejected")
				writeResponse(w, unauthorized("invalid admin token"))
				return
			}
			ctx := context.WithValue(r.Context(), AdminClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Unauthorized is the reply to admin calls without a valid token.
func Unauthorized(message string) *Response {
	return unauthorized(message)
}

func unauthorized(message string) *Response {
	return &Response{
		Status: http.StatusUnauthorized,
		Header: http.Header{"WWW-Authenticate": []string{`Bearer realm="x402-admin"`}},
		Body:   &ErrorBody{Error: "unauthorized", Category: "authorization", Message: message},
	}
}
