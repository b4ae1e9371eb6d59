// Package staycache defines domain types and interfaces for the staycache
// booking gateway. This package has no project imports -- it is the
// dependency root.
package staycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// --- Actions ---

// Actions the gateway serves from the cache. Everything else is subject to
// the unknown-action policy (audit + deny, or relay when enabled).
const (
	ActionBookingsList = "bookings_list"
	ActionBookingsGet  = "bookings_get"
	ActionSitesList    = "sites_list"
)

// KnownAction reports whether the gateway caches the given upstream action.
func KnownAction(action string) bool {
	switch action {
	case ActionBookingsList, ActionBookingsGet, ActionSitesList:
		return true
	}
	return false
}

// List types accepted by bookings_list. The list type selects the date
// dimension the period window applies to.
const (
	ListStaying   = "staying"   // arrival/departure overlap
	ListPlaced    = "placed"    // booking placed within window
	ListCancelled = "cancelled" // booking cancelled within window
	ListAll       = "all"       // every change in window; delta sync only
)

// --- Request/response envelope ---

// Params is the parameter bag for an upstream action, as received from the
// caller. Credentials are never present here; the upstream client injects
// them per call.
type Params map[string]any

// Result is the uniform outcome of every gateway action and upstream call.
// Failures are values, never panics: Success=false with a human-readable
// Message, and HTTPStatus set when the upstream rejected the request.
type Result struct {
	Records    []json.RawMessage `json:"data"`
	Success    bool              `json:"success"`
	Message    string            `json:"message,omitempty"`
	HTTPStatus int               `json:"http_code,omitempty"`
	CacheHit   bool              `json:"_cache_hit,omitempty"`
}

// OK returns a successful result carrying the given records.
func OK(records []json.RawMessage) *Result {
	if records == nil {
		records = []json.RawMessage{}
	}
	return &Result{Records: records, Success: true}
}

// Failure returns a failed result with the given message.
func Failure(message string) *Result {
	return &Result{Records: []json.RawMessage{}, Message: message}
}

// Failuref returns a failed result with a formatted message.
func Failuref(format string, args ...any) *Result {
	return Failure(fmt.Sprintf(format, args...))
}

// --- Caller context ---

// Caller describes the pre-authenticated origin of a gateway request. The
// gateway trusts it for audit and logging only; authentication happens in
// the transport layer.
type Caller struct {
	ClientType string `json:"client_type,omitempty"`
	User       string `json:"user,omitempty"`
	KeyID      string `json:"key_id,omitempty"`
	IP         string `json:"ip,omitempty"`
	Route      string `json:"route,omitempty"`
	Method     string `json:"method,omitempty"`
}

// Describe returns a compact descriptor for audit rows.
func (c Caller) Describe() string {
	switch {
	case c.ClientType != "" && c.Route != "":
		return c.ClientType + " -> " + c.Route
	case c.User != "":
		return c.User
	case c.ClientType != "":
		return c.ClientType
	}
	return "unknown"
}

// --- Sync checkpoints ---

// Checkpoint job names, each written by exactly one sync job.
const (
	CheckpointFullRefresh = "full_refresh"
	CheckpointIncremental = "incremental_sync"
	CheckpointCleanup     = "cleanup"
)

// Checkpoints holds the completion timestamps of the three sync jobs.
// A zero time means the job has never completed.
type Checkpoints struct {
	FullRefresh time.Time `json:"full_refresh"`
	Incremental time.Time `json:"incremental_sync"`
	Cleanup     time.Time `json:"cleanup"`
}

// --- Retention ---

// RetentionPolicy bounds the window the cache promises to keep populated.
type RetentionPolicy struct {
	FutureDays    int `json:"future_days"`
	PastDays      int `json:"past_days"`
	CancelledDays int `json:"cancelled_days"`
}

// --- Statistics ---

// CacheStats summarizes the record store for diagnostics.
type CacheStats struct {
	Total            int      `json:"total"`
	Hot              int      `json:"hot"`
	Historical       int      `json:"historical"`
	Active           int      `json:"active"`
	CheckedOut       int      `json:"checked_out"`
	Cancelled        int      `json:"cancelled"`
	DBSizeMB         float64  `json:"db_size_mb"`
	DistinctStatuses []string `json:"distinct_statuses"`
}

// DateSummary is a per-arrival-date rollup of cached bookings.
type DateSummary struct {
	Date        string    `json:"date"`
	Total       int       `json:"total"`
	Active      int       `json:"active"`
	Cancelled   int       `json:"cancelled"`
	LastUpdated time.Time `json:"last_updated"`
}

// --- API keys ---

// APIKeyPrefix is the prefix for all staycache API keys.
const APIKeyPrefix = "sc_"

// APIKey is a hashed bearer credential for external callers.
type APIKey struct {
	ID         string     `json:"id"`
	KeyHash    string     `json:"-"` // SHA-256 hex, never exposed
	Label      string     `json:"label"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UsageCount int64      `json:"usage_count"`
	Active     bool       `json:"active"`
}

// KeyStats summarizes API key usage.
type KeyStats struct {
	TotalActiveKeys int        `json:"total_active_keys"`
	TotalUsage      int64      `json:"total_usage"`
	LastUsed        *time.Time `json:"last_used,omitempty"`
}

// HashKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// --- Audit ---

// UncachedRequest records an unknown action that reached the gateway,
// kept regardless of whether the action was relayed or blocked.
type UncachedRequest struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Params    string    `json:"params"` // JSON of the redacted param allow-list
	Caller    string    `json:"caller"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Diagnostics log ---

// Log levels, ordered so that a threshold comparison admits everything at
// or below it. Matches the persisted representation.
const (
	LogOff   = 0
	LogError = 1
	LogInfo  = 2
	LogDebug = 3
)

// LogEntry is a persisted diagnostic record.
type LogEntry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Level   int       `json:"level"`
	Message string    `json:"message"`
	Context string    `json:"context,omitempty"` // JSON attrs
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Caller field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue.
type requestMeta struct {
	RequestID string
	Caller    *Caller
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// CallerFromContext extracts the authenticated caller from context.
func CallerFromContext(ctx context.Context) *Caller {
	if m := metaFromContext(ctx); m != nil {
		return m.Caller
	}
	return nil
}

// ContextWithCaller stores the caller in the existing request metadata if
// present, falling back to a new context value (e.g. in tests).
func ContextWithCaller(ctx context.Context, c *Caller) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Caller = c
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Caller: c})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Credentials ---

// Credentials authenticate the gateway to the upstream booking API.
// Username/password go into the basic-auth header; the API key and region
// ride in the request body per the upstream contract.
type Credentials struct {
	Username string
	Password string
	APIKey   string
	Region   string
}

// Configured reports whether all required credential fields are present.
func (c Credentials) Configured() bool {
	return c.Username != "" && c.Password != "" && c.APIKey != ""
}
