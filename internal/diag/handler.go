// Package diag persists application log records to the database so
// diagnostics survive restarts and can be read back through the API. It
// plugs into log/slog as a handler that tees records into the async log
// writer while delegating console output to an inner handler.
package diag

import (
	"context"
	"encoding/json"
	"log/slog"

	staycache "github.com/harborview/staycache/internal"
)

// internalMarker flags records emitted by the log pipeline itself. They are
// never persisted; a failing flush that logged through this handler would
// otherwise feed the queue it could not drain.
const internalMarker = "diag_internal"

// Enqueuer accepts entries for asynchronous persistence.
type Enqueuer interface {
	Enqueue(e staycache.LogEntry)
}

// LevelSource supplies the persistence threshold per record, so level
// changes made through the settings API apply immediately.
type LevelSource interface {
	LogLevel(ctx context.Context) int
}

// Handler is a slog.Handler that persists records at or above the
// configured threshold and forwards everything to inner.
type Handler struct {
	inner  slog.Handler
	sink   Enqueuer
	levels LevelSource
	attrs  []slog.Attr
}

// NewHandler wraps inner with database persistence.
func NewHandler(inner slog.Handler, sink Enqueuer, levels LevelSource) *Handler {
	return &Handler{inner: inner, sink: sink, levels: levels}
}

// Enabled defers to the inner handler but never below debug, so records the
// console would drop can still reach the persisted log.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelDebug
}

// Handle forwards the record to the inner handler and, when the persisted
// threshold admits it, enqueues a LogEntry.
func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	var err error
	if h.inner.Enabled(ctx, rec.Level) {
		err = h.inner.Handle(ctx, rec.Clone())
	}

	level := persistLevel(rec.Level)
	if level == staycache.LogOff || level > h.levels.LogLevel(ctx) {
		return err
	}

	internal := false
	attrs := map[string]any{}
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == internalMarker {
			internal = true
			return false
		}
		attrs[a.Key] = a.Value.Any()
		return true
	})
	if internal {
		return err
	}
	if id := staycache.RequestIDFromContext(ctx); id != "" {
		attrs["request_id"] = id
	}

	var contextJSON string
	if len(attrs) > 0 {
		if blob, jerr := json.Marshal(attrs); jerr == nil {
			contextJSON = string(blob)
		}
	}

	h.sink.Enqueue(staycache.LogEntry{
		Time:    rec.Time,
		Level:   level,
		Message: rec.Message,
		Context: contextJSON,
	})
	return err
}

// WithAttrs returns a handler that includes attrs on every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{
		inner:  h.inner.WithAttrs(attrs),
		sink:   h.sink,
		levels: h.levels,
		attrs:  merged,
	}
}

// WithGroup groups only on the inner handler; the persisted context stays
// flat for queryability.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		inner:  h.inner.WithGroup(name),
		sink:   h.sink,
		levels: h.levels,
		attrs:  h.attrs,
	}
}

// persistLevel maps slog levels onto the persisted scale. Warnings persist
// as info; there is no separate warning tier in the stored log.
func persistLevel(l slog.Level) int {
	switch {
	case l >= slog.LevelError:
		return staycache.LogError
	case l >= slog.LevelInfo:
		return staycache.LogInfo
	default:
		return staycache.LogDebug
	}
}
