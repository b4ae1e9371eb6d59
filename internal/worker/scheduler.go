package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	staycache "github.com/harborview/staycache/internal"
	"github.com/harborview/staycache/internal/settings"
	"github.com/harborview/staycache/internal/storage"
	syncengine "github.com/harborview/staycache/internal/sync"
)

// Daily job times, UTC. Full refresh runs first so cleanup never evicts
// rows a refresh is about to rewrite.
const (
	fullRefreshHour = 3
	cleanupHour     = 4
)

// SyncScheduler drives the sync engine on its three cadences: incremental
// every configured interval, full refresh and cleanup once a day. The
// interval is re-read from settings each tick so changes apply without a
// restart.
type SyncScheduler struct {
	engine   *syncengine.Engine
	settings *settings.Service
	store    storage.CheckpointStore
	now      func() time.Time
}

// NewSyncScheduler creates a SyncScheduler.
func NewSyncScheduler(engine *syncengine.Engine, cfg *settings.Service, store storage.CheckpointStore) *SyncScheduler {
	return &SyncScheduler{engine: engine, settings: cfg, store: store, now: time.Now}
}

// Run blocks until ctx is cancelled. On a fresh database it kicks off an
// initial full refresh so the cache starts populated.
func (s *SyncScheduler) Run(ctx context.Context) error {
	if cp, err := s.store.Checkpoints(ctx); err == nil && cp.FullRefresh.IsZero() {
		slog.LogAttrs(ctx, slog.LevelInfo, "no full refresh on record, starting initial refresh")
		go s.runFullRefresh(ctx)
	}

	interval := time.Duration(s.settings.SyncInterval(ctx)) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fullTimer := time.NewTimer(untilNextHour(s.now(), fullRefreshHour))
	defer fullTimer.Stop()
	cleanupTimer := time.NewTimer(untilNextHour(s.now(), cleanupHour))
	defer cleanupTimer.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.engine.IncrementalSync(ctx); err != nil && !errors.Is(err, staycache.ErrConflict) {
				slog.LogAttrs(ctx, slog.LevelError, "incremental sync failed",
					slog.String("error", err.Error()),
				)
			}
			if next := time.Duration(s.settings.SyncInterval(ctx)) * time.Second; next != interval {
				interval = next
				ticker.Reset(interval)
				slog.LogAttrs(ctx, slog.LevelInfo, "sync interval changed",
					slog.Int64("seconds", int64(interval/time.Second)),
				)
			}

		case <-fullTimer.C:
			// Long jobs run detached so the incremental cadence holds; the
			// engine's overlap guards keep re-entry out.
			go s.runFullRefresh(ctx)
			fullTimer.Reset(untilNextHour(s.now(), fullRefreshHour))

		case <-cleanupTimer.C:
			go s.runCleanup(ctx)
			cleanupTimer.Reset(untilNextHour(s.now(), cleanupHour))

		case <-ctx.Done():
			return nil
		}
	}
}

func (s *SyncScheduler) runFullRefresh(ctx context.Context) {
	if err := s.engine.FullRefresh(ctx); err != nil && !errors.Is(err, staycache.ErrConflict) && !errors.Is(err, context.Canceled) {
		slog.LogAttrs(ctx, slog.LevelError, "full refresh failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *SyncScheduler) runCleanup(ctx context.Context) {
	if err := s.engine.Cleanup(ctx); err != nil && !errors.Is(err, staycache.ErrConflict) {
		slog.LogAttrs(ctx, slog.LevelError, "cleanup failed",
			slog.String("error", err.Error()),
		)
	}
}

// untilNextHour returns the duration until the next occurrence of the given
// UTC hour.
func untilNextHour(now time.Time, hour int) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
