package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/harborview/staycache/internal/settings"
	"github.com/harborview/staycache/internal/storage"
)

const trimInterval = time.Hour

// LogTrimmer periodically trims the persisted diagnostic log down to the
// configured retention count.
type LogTrimmer struct {
	store    storage.LogStore
	settings *settings.Service
}

// NewLogTrimmer creates a LogTrimmer.
func NewLogTrimmer(store storage.LogStore, cfg *settings.Service) *LogTrimmer {
	return &LogTrimmer{store: store, settings: cfg}
}

// Run trims once at startup, then hourly until ctx is cancelled.
func (t *LogTrimmer) Run(ctx context.Context) error {
	t.trim(ctx)

	ticker := time.NewTicker(trimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.trim(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *LogTrimmer) trim(ctx context.Context) {
	deleted, err := t.store.TrimLogs(ctx, t.settings.MaxLogEntries(ctx))
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "log trim failed",
			slog.String("error", err.Error()),
			slog.Bool("diag_internal", true),
		)
		return
	}
	if deleted > 0 {
		slog.LogAttrs(ctx, slog.LevelDebug, "log trim removed entries",
			slog.Int64("deleted", deleted),
		)
	}
}
