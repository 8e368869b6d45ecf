package rest

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dsp/store"
)

// RouterConfig assembles the HTTP surface.
type RouterConfig struct {
	Log     *zap.Logger
	Records *store.RecordStore
	// Gate authorizes resource access. Ignored when Auth is nil.
	Gate store.Gate
	// Auth and Tokens enable sessions. With Auth nil every request is
	// trusted as a system administrator.
	Auth   Authenticator
	Tokens *Tokens

	Pagination  store.PaginationConfig
	MaxBodySize int64

	// GzipMinSize enables compression of responses at least this large.
	GzipMinSize int
	GzipLevel   int

	// Registry collects the request metrics served on /metrics.
	Registry *prometheus.Registry
}

// NewRouter returns the handler serving /rest/system, /rest/session and
// /metrics.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, MethodOverride, Logging(log))

	opts := []HandlerOption{WithLog(log)}
	if cfg.MaxBodySize > 0 {
		opts = append(opts, WithMaxBodySize(cfg.MaxBodySize))
	}
	if cfg.Pagination.MaxLimit > 0 || cfg.Pagination.DefaultLimit > 0 {
		opts = append(opts, WithPagination(cfg.Pagination))
	}
	if cfg.Registry != nil {
		metrics := NewMetrics(cfg.Registry)
		r.Use(metrics.Middleware)
		opts = append(opts, WithMetrics(metrics))
	}
	if cfg.GzipMinSize > 0 {
		level := cfg.GzipLevel
		if level == 0 {
			level = -1
		}
		compress, err := Compress(level, cfg.GzipMinSize)
		if err != nil {
			return nil, store.NewConfigErrorForField("http.gzip_level", cfg.GzipLevel, err.Error())
		}
		r.Use(compress)
	}

	if cfg.Auth != nil {
		if cfg.Tokens == nil {
			return nil, store.NewConfigError("sessions need a token issuer")
		}
		gate := cfg.Gate
		if gate == nil {
			gate = store.RequireSession
		}
		opts = append(opts, WithGate(gate))
		r.Use(Authenticate(cfg.Tokens, cfg.Auth, log))

		sessions := NewSessionHandler(cfg.Auth, cfg.Tokens, log)
		r.Post("/rest/session", sessions.handleLogin)
		r.Get("/rest/session", sessions.handleCurrent)
	} else {
		log.Warn("Authentication is disabled, every request is trusted")
		r.Use(Trusted)
		opts = append(opts, WithGate(store.AllowAll))
	}

	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}
	r.Mount("/rest/system", NewHandler(cfg.Records, opts...).Routes())
	return r, nil
}
