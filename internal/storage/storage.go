// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	staycache "github.com/harborview/staycache/internal"
)

// BookingStore manages encrypted booking records. Implementations encrypt
// payloads on write and decrypt on read; a row whose payload fails to
// decrypt is skipped (logged, not fatal) so one corrupt row cannot fail an
// otherwise-successful range read.
type BookingStore interface {
	// UpsertBooking inserts or replaces a record keyed by booking ID
	// (last-write-wins).
	UpsertBooking(ctx context.Context, rec *staycache.Record) error
	// GetBooking returns the record or staycache.ErrNotFound. A record that
	// fails to decrypt is reported as not found.
	GetBooking(ctx context.Context, bookingID int64) (*staycache.Record, error)
	// BookingExists reports presence without decrypting.
	BookingExists(ctx context.Context, bookingID int64) (bool, error)
	// BookingsByStay returns records whose stay overlaps [from, to]:
	// arrival <= to AND departure > from. Dates are YYYY-MM-DD. Cancelled
	// and no-show rows are excluded, matching the upstream staying list.
	BookingsByStay(ctx context.Context, from, to string) ([]*staycache.Record, error)
	// BookingsByPlaced returns records placed within [from, to], excluding
	// records with no placement timestamp.
	BookingsByPlaced(ctx context.Context, from, to time.Time) ([]*staycache.Record, error)
	// BookingsByCancelled returns records cancelled within [from, to],
	// excluding records with no cancellation timestamp.
	BookingsByCancelled(ctx context.Context, from, to time.Time) ([]*staycache.Record, error)
	// DeleteDepartedBefore removes terminal-status rows whose departure date
	// is before cutoff (YYYY-MM-DD). Returns rows deleted.
	DeleteDepartedBefore(ctx context.Context, cutoff string) (int64, error)
	// DeleteCancelledBefore removes cancelled rows last updated before cutoff.
	DeleteCancelledBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteBooking removes a single record.
	DeleteBooking(ctx context.Context, bookingID int64) error
	// ClearBookings removes every record.
	ClearBookings(ctx context.Context) error
	// BookingStats summarizes the table for diagnostics.
	BookingStats(ctx context.Context) (*staycache.CacheStats, error)
	// BookingSummary rolls up cached bookings per arrival date, optionally
	// restricted to a year and month (0 = no restriction).
	BookingSummary(ctx context.Context, year, month int) ([]staycache.DateSummary, error)
}

// CheckpointStore persists sync job completion timestamps. Each job writes
// only its own checkpoint.
type CheckpointStore interface {
	Checkpoints(ctx context.Context) (staycache.Checkpoints, error)
	SetCheckpoint(ctx context.Context, job string, completedAt time.Time) error
}

// SettingStore persists dynamic named settings. Callers read per operation
// and never cache values.
type SettingStore interface {
	Setting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error
}

// APIKeyStore manages hashed bearer keys for external callers.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *staycache.APIKey) error
	GetKeyByHash(ctx context.Context, hash string) (*staycache.APIKey, error)
	ListKeys(ctx context.Context, activeOnly bool) ([]*staycache.APIKey, error)
	RevokeKey(ctx context.Context, id string) error
	DeleteKey(ctx context.Context, id string) error
	// TouchKeyUsage increments the usage counter and stamps last_used_at.
	TouchKeyUsage(ctx context.Context, id string) error
	KeyStats(ctx context.Context) (*staycache.KeyStats, error)
}

// AuditStore records unknown actions that reached the gateway.
type AuditStore interface {
	InsertUncachedRequest(ctx context.Context, req *staycache.UncachedRequest) error
	ListUncachedRequests(ctx context.Context, limit int) ([]*staycache.UncachedRequest, error)
}

// LogStore persists diagnostic log entries with retention trimming.
type LogStore interface {
	InsertLogEntries(ctx context.Context, entries []staycache.LogEntry) error
	// TrimLogs deletes all but the newest keep entries. Returns rows deleted.
	TrimLogs(ctx context.Context, keep int) (int64, error)
	ListLogEntries(ctx context.Context, minLevel, limit, offset int) ([]*staycache.LogEntry, error)
	ClearLogs(ctx context.Context) error
}

// Store combines all storage interfaces.
type Store interface {
	BookingStore
	CheckpointStore
	SettingStore
	APIKeyStore
	AuditStore
	LogStore
	Ping(ctx context.Context) error
	Close() error
}
