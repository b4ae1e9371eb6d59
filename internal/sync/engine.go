// Package sync implements the background jobs that keep the record store
// aligned with upstream: periodic full refreshes, frequent incremental
// deltas, and retention cleanup.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	staycache "github.com/harborview/staycache/internal"
	"github.com/harborview/staycache/internal/settings"
	"github.com/harborview/staycache/internal/storage"
	"github.com/harborview/staycache/internal/telemetry"
)

const (
	// chunkDays bounds the window of a single upstream list call so full
	// refreshes of a year-long range stay within response size limits.
	chunkDays = 30
	// chunkPause spaces consecutive upstream calls to stay under the
	// upstream rate limit.
	chunkPause = 100 * time.Millisecond
)

// Upstream is the slice of the upstream client the engine needs.
type Upstream interface {
	Call(ctx context.Context, action string, params staycache.Params) *staycache.Result
}

// Engine runs the three sync jobs. Each job refuses to overlap itself; the
// jobs are independent and may run concurrently with each other.
type Engine struct {
	store    storage.Store
	upstream Upstream
	settings *settings.Service
	metrics  *telemetry.Metrics
	now      func() time.Time
	pause    time.Duration

	fullRunning    atomic.Bool
	incrRunning    atomic.Bool
	cleanupRunning atomic.Bool
}

// NewEngine wires an Engine. metrics may be nil in tests.
func NewEngine(store storage.Store, up Upstream, cfg *settings.Service, metrics *telemetry.Metrics) *Engine {
	if metrics == nil {
		metrics = telemetry.NewMetrics(prometheus.NewRegistry())
	}
	return &Engine{
		store:    store,
		upstream: up,
		settings: cfg,
		metrics:  metrics,
		now:      time.Now,
		pause:    chunkPause,
	}
}

// FullRefresh repopulates the whole maintained window from upstream in
// 30-day chunks. A failed chunk is logged and skipped; the checkpoint is
// written once the pass completes so freshness reflects a full traversal.
func (e *Engine) FullRefresh(ctx context.Context) error {
	if !e.fullRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("full refresh: %w", staycache.ErrConflict)
	}
	defer e.fullRunning.Store(false)

	start := e.now()
	ret := e.settings.Retention(ctx)
	today := start.UTC().Truncate(24 * time.Hour)

	var synced int
	outcome := "ok"

	// Staying bookings over the whole retention range, then cancellations
	// over the same range so cancelled rows age out instead of lingering
	// as stale actives.
	windows := []struct {
		listType   string
		start, end time.Time
	}{
		{staycache.ListStaying, today.AddDate(0, 0, -ret.PastDays), today.AddDate(0, 0, ret.FutureDays)},
		{staycache.ListCancelled, today.AddDate(0, 0, -ret.CancelledDays), today.AddDate(0, 0, ret.FutureDays)},
	}

	for _, w := range windows {
		for chunkStart := w.start; !chunkStart.After(w.end); chunkStart = chunkStart.AddDate(0, 0, chunkDays) {
			chunkEnd := chunkStart.AddDate(0, 0, chunkDays-1)
			if chunkEnd.After(w.end) {
				chunkEnd = w.end
			}

			res := e.upstream.Call(ctx, staycache.ActionBookingsList, staycache.Params{
				"list_type":   w.listType,
				"period_from": chunkStart.Format(staycache.DateFormat),
				"period_to":   chunkEnd.Format(staycache.DateFormat),
			})
			if !res.Success {
				outcome = "partial"
				slog.LogAttrs(ctx, slog.LevelError, "full refresh chunk failed",
					slog.String("list_type", w.listType),
					slog.String("from", chunkStart.Format(staycache.DateFormat)),
					slog.String("to", chunkEnd.Format(staycache.DateFormat)),
					slog.String("message", res.Message),
				)
			} else {
				n, _ := e.persist(ctx, res)
				synced += n
			}

			select {
			case <-ctx.Done():
			case <-time.After(e.pause):
			}
			// Checked outside the select: with a zero pause both cases can
			// be ready and the select would pick one at random.
			if err := ctx.Err(); err != nil {
				e.metrics.SyncRuns.WithLabelValues(staycache.CheckpointFullRefresh, "cancelled").Inc()
				return err
			}
		}
	}

	if err := e.store.SetCheckpoint(ctx, staycache.CheckpointFullRefresh, e.now()); err != nil {
		return fmt.Errorf("full refresh checkpoint: %w", err)
	}

	e.metrics.SyncRuns.WithLabelValues(staycache.CheckpointFullRefresh, outcome).Inc()
	e.metrics.SyncDuration.WithLabelValues(staycache.CheckpointFullRefresh).Observe(time.Since(start).Seconds())
	e.metrics.RecordsSynced.Add(float64(synced))

	slog.LogAttrs(ctx, slog.LevelInfo, "full refresh complete",
		slog.Int("records", synced),
		slog.String("outcome", outcome),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// IncrementalSync pulls every change since the last incremental checkpoint.
// The checkpoint advances even when the upstream call fails: the next full
// refresh repairs any gap, and a stuck checkpoint would otherwise grow the
// delta window without bound.
func (e *Engine) IncrementalSync(ctx context.Context) error {
	if !e.incrRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("incremental sync: %w", staycache.ErrConflict)
	}
	defer e.incrRunning.Store(false)

	start := e.now()
	cp, err := e.store.Checkpoints(ctx)
	if err != nil {
		return fmt.Errorf("incremental sync checkpoints: %w", err)
	}
	since := cp.Incremental
	if since.IsZero() {
		since = start.Add(-time.Duration(e.settings.SyncInterval(ctx)) * time.Second)
	}

	res := e.upstream.Call(ctx, staycache.ActionBookingsList, staycache.Params{
		"list_type":   staycache.ListAll,
		"period_from": since.UTC().Format(staycache.TimeFormat),
		"period_to":   start.UTC().Format(staycache.TimeFormat),
	})

	switch {
	case !res.Success:
		// Quiet: transient upstream trouble on a tight cycle is noise at
		// error level.
		e.metrics.SyncRuns.WithLabelValues(staycache.CheckpointIncremental, "failed").Inc()
		slog.LogAttrs(ctx, slog.LevelDebug, "incremental sync call failed",
			slog.String("message", res.Message),
		)
	case len(res.Records) == 0:
		e.metrics.SyncRuns.WithLabelValues(staycache.CheckpointIncremental, "ok").Inc()
	default:
		added, updated := e.persist(ctx, res)
		e.metrics.SyncRuns.WithLabelValues(staycache.CheckpointIncremental, "ok").Inc()
		e.metrics.RecordsSynced.Add(float64(added + updated))
		slog.LogAttrs(ctx, slog.LevelInfo, "incremental sync applied changes",
			slog.Int("added", added),
			slog.Int("updated", updated),
		)
	}

	if err := e.store.SetCheckpoint(ctx, staycache.CheckpointIncremental, start); err != nil {
		return fmt.Errorf("incremental sync checkpoint: %w", err)
	}
	e.metrics.SyncDuration.WithLabelValues(staycache.CheckpointIncremental).Observe(time.Since(start).Seconds())
	return nil
}

// Cleanup evicts rows outside the retention window. The checkpoint is
// written unconditionally so the schedule keeps its cadence even when
// nothing was evicted.
func (e *Engine) Cleanup(ctx context.Context) error {
	if !e.cleanupRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("cleanup: %w", staycache.ErrConflict)
	}
	defer e.cleanupRunning.Store(false)

	start := e.now()
	ret := e.settings.Retention(ctx)
	today := start.UTC().Truncate(24 * time.Hour)

	departed, err := e.store.DeleteDepartedBefore(ctx,
		today.AddDate(0, 0, -ret.PastDays).Format(staycache.DateFormat))
	if err != nil {
		return fmt.Errorf("cleanup departed: %w", err)
	}
	cancelled, err := e.store.DeleteCancelledBefore(ctx,
		start.AddDate(0, 0, -ret.CancelledDays))
	if err != nil {
		return fmt.Errorf("cleanup cancelled: %w", err)
	}

	if err := e.store.SetCheckpoint(ctx, staycache.CheckpointCleanup, e.now()); err != nil {
		return fmt.Errorf("cleanup checkpoint: %w", err)
	}

	e.metrics.SyncRuns.WithLabelValues(staycache.CheckpointCleanup, "ok").Inc()
	e.metrics.SyncDuration.WithLabelValues(staycache.CheckpointCleanup).Observe(time.Since(start).Seconds())
	e.metrics.RecordsEvicted.Add(float64(departed + cancelled))

	if departed+cancelled > 0 {
		slog.LogAttrs(ctx, slog.LevelInfo, "cleanup evicted records",
			slog.Int64("departed", departed),
			slog.Int64("cancelled", cancelled),
		)
	}
	return nil
}

// persist writes upstream records, returning added and updated counts.
// Individual failures are logged and skipped.
func (e *Engine) persist(ctx context.Context, res *staycache.Result) (added, updated int) {
	now := e.now()
	for _, raw := range res.Records {
		rec, err := staycache.RecordFromPayload(raw, now)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelDebug, "skipping unparseable sync record",
				slog.String("error", err.Error()),
			)
			continue
		}
		exists, err := e.store.BookingExists(ctx, rec.BookingID)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "booking existence check failed",
				slog.Int64("booking_id", rec.BookingID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := e.store.UpsertBooking(ctx, rec); err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "sync persist failed",
				slog.Int64("booking_id", rec.BookingID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if exists {
			updated++
		} else {
			added++
		}
	}
	return added, updated
}
