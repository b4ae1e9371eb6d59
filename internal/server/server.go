// Package server implements the HTTP transport layer for the staycache
// gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	staycache "github.com/harborview/staycache/internal"
	"github.com/harborview/staycache/internal/app"
	"github.com/harborview/staycache/internal/settings"
	"github.com/harborview/staycache/internal/storage"
	syncengine "github.com/harborview/staycache/internal/sync"
	"github.com/harborview/staycache/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Authenticator validates request credentials and returns the caller.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*staycache.Caller, error)
}

// KeyInvalidator drops cached authentication state for a key.
type KeyInvalidator interface {
	InvalidateByKeyID(keyID string)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           Authenticator
	Gateway        *app.Gateway
	Keys           *app.KeyManager
	Engine         *syncengine.Engine
	Settings       *settings.Service
	Store          storage.Store
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Invalidator    KeyInvalidator     // nil = no auth cache invalidation
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Client-facing gateway API (auth required)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/bookings/list", s.handleAction(staycache.ActionBookingsList))
		r.Post("/v1/bookings/get", s.handleAction(staycache.ActionBookingsGet))
		r.Post("/v1/sites/list", s.handleAction(staycache.ActionSitesList))
		r.Post("/v1/actions/{action}", s.handleGenericAction)
	})

	// Admin API (auth required)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/v1/cache/stats", s.handleCacheStats)
		r.Get("/v1/cache/summary", s.handleCacheSummary)
		r.Post("/v1/cache/clear", s.handleCacheClear)
		r.Delete("/v1/cache/bookings/{id}", s.handleCacheDeleteBooking)

		r.Post("/v1/sync/{job}", s.handleSyncTrigger)

		r.Get("/v1/keys", s.handleListKeys)
		r.Post("/v1/keys", s.handleCreateKey)
		r.Get("/v1/keys/stats", s.handleKeyStats)
		r.Post("/v1/keys/{id}/revoke", s.handleRevokeKey)
		r.Delete("/v1/keys/{id}", s.handleDeleteKey)

		r.Get("/v1/uncached", s.handleListUncached)

		r.Get("/v1/logs", s.handleListLogs)
		r.Delete("/v1/logs", s.handleClearLogs)

		r.Get("/v1/settings", s.handleGetSettings)
		r.Put("/v1/settings/{key}", s.handleSetSetting)

		r.Post("/v1/test-connection", s.handleTestConnection)
	})

	return r
}

type server struct {
	deps Deps
}
