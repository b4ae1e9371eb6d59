package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	staycache "github.com/harborview/staycache/internal"
	"github.com/harborview/staycache/internal/storage"
	"github.com/harborview/staycache/internal/telemetry"
)

const (
	logChanSize   = 1000
	logBatchSize  = 100
	logFlushEvery = 5 * time.Second
	logDrainTime  = 30 * time.Second
)

// LogWriter buffers diagnostic log entries and batch-flushes them to the
// store. Entries are dropped if the channel is full (back-pressure on slow
// DB): the persisted log is a diagnostic aid, never worth blocking for.
type LogWriter struct {
	ch      chan staycache.LogEntry
	store   storage.LogStore
	metrics *telemetry.Metrics
}

// NewLogWriter creates a LogWriter backed by store. metrics may be nil in
// tests.
func NewLogWriter(store storage.LogStore, metrics *telemetry.Metrics) *LogWriter {
	if metrics == nil {
		metrics = telemetry.NewMetrics(prometheus.NewRegistry())
	}
	return &LogWriter{
		ch:      make(chan staycache.LogEntry, logChanSize),
		store:   store,
		metrics: metrics,
	}
}

// Enqueue adds an entry to the write queue. It never blocks; drops on full
// channel.
func (w *LogWriter) Enqueue(e staycache.LogEntry) {
	select {
	case w.ch <- e:
		w.metrics.LogQueueLength.Set(float64(len(w.ch)))
	default:
	}
}

// Run processes entries until ctx is cancelled, then drains the queue.
func (w *LogWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(logFlushEvery)
	defer ticker.Stop()

	buf := make([]staycache.LogEntry, 0, logBatchSize)

	for {
		select {
		case e := <-w.ch:
			buf = append(buf, e)
			if len(buf) >= logBatchSize {
				w.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				w.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			w.drain(buf)
			return nil
		}
	}
}

func (w *LogWriter) drain(buf []staycache.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), logDrainTime)
	defer cancel()

	for {
		select {
		case e := <-w.ch:
			buf = append(buf, e)
			if len(buf) >= logBatchSize {
				w.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				w.flush(ctx, buf)
			}
			return
		}
	}
}

func (w *LogWriter) flush(ctx context.Context, buf []staycache.LogEntry) {
	batch := make([]staycache.LogEntry, len(buf))
	copy(batch, buf)

	// IDs are assigned off the hot path; callers leave them empty.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := w.store.InsertLogEntries(ctx, batch); err != nil {
		// The diag handler must not see this failure as a loggable event or
		// it would feed the queue it just failed to drain.
		slog.LogAttrs(ctx, slog.LevelError, "log flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
			slog.Bool("diag_internal", true),
		)
	}
	w.metrics.LogQueueLength.Set(float64(len(w.ch)))
}
