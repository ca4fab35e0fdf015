package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mark3labs/x402-facilitator/encoding"
	"github.com/mark3labs/x402-facilitator/internal/auth"
)

// RouterConfig selects the optional surfaces mounted next to the API.
type RouterConfig struct {
	Logger zerolog.Logger

	// Auth enables the /admin routes. Nil leaves them unmounted.
	Auth *auth.TokenAuth

	// MCP is mounted at /mcp when set.
	MCP http.Handler
}

// NewRouter mounts api on a chi router.
func NewRouter(api *API, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger, api.Metrics()))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, api.Info(r.Context()))
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/requirements", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, api.Requirements())
	})
	r.Post("/verify", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, api.Verify(r.Context(), r.Body, r.Header.Get(encoding.PaymentHeader)))
	})
	r.Post("/settle", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, api.Settle(r.Context(), r.Body, r.Header.Get(encoding.PaymentHeader)))
	})
	r.Get("/bounty", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, api.BountyStatus(r.Context()))
	})
	r.Get("/bounty/check/{address}", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, api.BountyCheck(r.Context(), chi.URLParam(r, "address")))
	})

	if m := api.Metrics(); m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	if cfg.MCP != nil {
		r.Handle("/mcp", cfg.MCP)
		r.Handle("/mcp/*", cfg.MCP)
	}

	if cfg.Auth != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminOnly(cfg.Auth, cfg.Logger))
			r.Get("/whitelist", func(w http.ResponseWriter, r *http.Request) {
				writeResponse(w, api.AdminListWhitelist(r.Context()))
			})
			r.Post("/whitelist", func(w http.ResponseWriter, r *http.Request) {
				writeResponse(w, api.AdminAddWhitelist(r.Context(), r.Body))
			})
			r.Delete("/whitelist/{address}", func(w http.ResponseWriter, r *http.Request) {
				writeResponse(w, api.AdminRemoveWhitelist(r.Context(), chi.URLParam(r, "address")))
			})
			r.Post("/reconcile", func(w http.ResponseWriter, r *http.Request) {
				writeResponse(w, api.AdminReconcile(r.Context()))
			})
			r.Get("/audit", func(w http.ResponseWriter, r *http.Request) {
				writeResponse(w, api.AdminAudit(r.Context()))
			})
			r.Post("/claims/{address}/release", func(w http.ResponseWriter, r *http.Request) {
				writeResponse(w, api.AdminRelease(r.Context(), chi.URLParam(r, "address")))
			})
		})
	}
	return r
}

// writeResponse writes resp as JSON.
func writeResponse(w http.ResponseWriter, resp *Response) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_ = json.NewEncoder(w).Encode(resp.Body)
}

const (
	defaultWriteTimeout = 2 * time.Minute
	// writeHeadroom covers verification and RPC round trips around a receipt wait.
	writeHeadroom = 30 * time.Second
)

// Server runs a handler until its context is cancelled.
type Server struct {
	srv             *http.Server
	logger          zerolog.Logger
	shutdownTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithConfirmTimeout sizes the write timeout so that a reply which waited the
// full confirm timeout for a receipt is still written.
func WithConfirmTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.srv.WriteTimeout = writeTimeoutFor(d)
	}
}

func writeTimeoutFor(confirm time.Duration) time.Duration {
	if t := confirm + writeHeadroom; t > defaultWriteTimeout {
		return t
	}
	return defaultWriteTimeout
}

// NewServer creates a server listening on addr.
func NewServer(addr string, handler http.Handler, logger zerolog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      defaultWriteTimeout,
			IdleTimeout:       2 * time.Minute,
		},
		logger:          logger.With().Str("component", "server").Logger(),
		shutdownTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
