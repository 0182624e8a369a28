package web

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"licensure/internal/adapters/http/binder"
	"licensure/internal/adapters/http/middleware"
	"licensure/internal/adapters/http/perf"
	"licensure/internal/application/filters"
	"licensure/internal/domain/flow"
)

// CSRFFieldName is the form field carrying the CSRF token.
const CSRFFieldName = "csrf_token"

// RateLimitPerSecond controls the per-IP rate limit. Tests can increase this.
var RateLimitPerSecond = 20

// Deps holds what the handlers need.
type Deps struct {
	Filters   *filters.Service
	Hub       *filters.Hub
	Binder    *binder.Binder
	Resolver  *flow.Resolver
	Collector *perf.Collector // optional
	Metrics   *Metrics        // optional
}

// Config holds HTTP-level settings.
type Config struct {
	StaticDir      string
	CSRFKey        []byte
	Production     bool
	VisitorMaxAge  int // seconds; 0 for a browser-session cookie
	TrustedOrigins []string
}

// server carries handler dependencies.
type server struct {
	deps  Deps
	pages *pageRenderer
}

// LoadCSRFKey decodes a hex-encoded 32-byte CSRF secret.
// In production the key is required; in development a random key is
// generated per startup when none is given.
func LoadCSRFKey(keyHex string, production bool) ([]byte, error) {
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 32 {
			return nil, errors.New("csrf key must be 64 hex characters (32 bytes)")
		}
		return key, nil
	}
	if production {
		return nil, errors.New("csrf key is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate csrf key: %w", err)
	}
	slog.Warn("csrf_key_random", "hint", "set LICENSURE_CSRF_KEY so activation forms survive restarts")
	return key, nil
}

// NewRoutes wires the wizard handlers without middleware.
// PRE: deps.Filters, deps.Hub, deps.Binder and deps.Resolver are non-nil
// POST: Returns the route mux, or a template parse error
func NewRoutes(staticDir string, deps Deps) (*http.ServeMux, error) {
	pages, err := newPageRenderer()
	if err != nil {
		return nil, err
	}
	s := &server{deps: deps, pages: pages}

	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	mux.HandleFunc("GET /{$}", s.handlePage)
	mux.HandleFunc("GET /{page}", s.handlePage)
	mux.HandleFunc("POST /activate", s.handleActivate)
	mux.HandleFunc("GET /api/filters", s.handleGetFilters)
	mux.HandleFunc("PUT /api/filters", s.handleReplaceFilters)
	mux.HandleFunc("DELETE /api/filters", s.handleClearFilters)
	mux.HandleFunc("GET /api/filters/events", s.handleFilterEvents)
	mux.HandleFunc("GET /api/flows", s.handleFlows)
	mux.HandleFunc("GET /admin/perf", s.handlePerf)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	return mux, nil
}

// NewMux wires HTTP handlers for the app.
func NewMux(cfg Config, deps Deps) (http.Handler, error) {
	mux, err := NewRoutes(cfg.StaticDir, deps)
	if err != nil {
		return nil, err
	}
	middleware.SecureCookies = cfg.Production

	limiter := middleware.NewRateLimiter(RateLimitPerSecond, time.Second)

	// Request order: Timing -> RateLimit -> Visitor -> CSRF -> SecurityHeaders -> Mux
	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.CSRF(cfg.CSRFKey, middleware.CSRFOptions{
			Secure:         cfg.Production,
			TrustedOrigins: cfg.TrustedOrigins,
			FieldName:      CSRFFieldName,
		}),
		middleware.Visitor(cfg.VisitorMaxAge),
		middleware.RateLimit(limiter),
		middleware.Timing(deps.Collector),
	), nil
}
