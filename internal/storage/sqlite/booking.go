package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	staycache "github.com/harborview/staycache/internal"
)

const bookingColumns = `booking_id, arrival_date, departure_date, placed_at, cancelled_at,
	 status, group_id, room_name, guest_count, encrypted_payload, last_updated, cache_tier`

// UpsertBooking inserts or replaces a booking row, encrypting the payload.
// Last write wins; the row-level REPLACE is the only serialization needed
// for concurrent writers of the same booking ID.
func (s *Store) UpsertBooking(ctx context.Context, rec *staycache.Record) error {
	blob, err := s.codec.Encrypt(rec.Payload)
	if err != nil {
		return fmt.Errorf("encrypt booking %d: %w", rec.BookingID, err)
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT OR REPLACE INTO bookings (`+bookingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BookingID, rec.Arrival, rec.Departure,
		timeToStr(rec.PlacedAt), timeToStr(rec.CancelledAt),
		string(rec.Status), nullStr(rec.GroupID), nullStr(rec.RoomName), rec.Guests,
		blob, rec.LastUpdated.UTC().Format(time.RFC3339), rec.Tier,
	)
	return err
}

// GetBooking returns the record for bookingID. A payload that fails to
// decrypt is logged and reported as not found, per the degrade-to-miss rule.
func (s *Store) GetBooking(ctx context.Context, bookingID int64) (*staycache.Record, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE booking_id = ?`, bookingID)
	rec, err := s.scanBooking(ctx, row)
	if err != nil {
		if errors.Is(err, staycache.ErrDecrypt) {
			return nil, staycache.ErrNotFound
		}
		return nil, notFoundErr(err)
	}
	return rec, nil
}

// BookingExists reports presence without decrypting.
func (s *Store) BookingExists(ctx context.Context, bookingID int64) (bool, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE booking_id = ?`, bookingID).Scan(&n)
	return n > 0, err
}

// BookingsByStay returns records whose stay overlaps [from, to]. Cancelled
// and no-show rows are excluded: the upstream staying list never contains
// them, and the store carries cancelled rows for their own retention path.
func (s *Store) BookingsByStay(ctx context.Context, from, to string) ([]*staycache.Record, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE arrival_date <= ? AND departure_date > ?
		   AND status NOT IN ('cancelled', 'no_show')
		 ORDER BY arrival_date`, to, from)
	if err != nil {
		return nil, err
	}
	return s.collectBookings(ctx, rows)
}

// BookingsByPlaced returns records placed within [from, to]. Rows without a
// placement timestamp are excluded by the IS NOT NULL comparison semantics.
func (s *Store) BookingsByPlaced(ctx context.Context, from, to time.Time) ([]*staycache.Record, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE placed_at IS NOT NULL AND placed_at >= ? AND placed_at <= ?
		 ORDER BY placed_at`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	return s.collectBookings(ctx, rows)
}

// BookingsByCancelled returns records cancelled within [from, to].
func (s *Store) BookingsByCancelled(ctx context.Context, from, to time.Time) ([]*staycache.Record, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE cancelled_at IS NOT NULL AND cancelled_at >= ? AND cancelled_at <= ?
		 ORDER BY cancelled_at`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	return s.collectBookings(ctx, rows)
}

// DeleteDepartedBefore removes terminal-status rows whose departure date is
// before cutoff. The status set is exclusion-complement aware: only stays
// that have ended are eligible, cancelled rows have their own path.
func (s *Store) DeleteDepartedBefore(ctx context.Context, cutoff string) (int64, error) {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM bookings
		 WHERE status IN ('departed', 'checked_out', 'no_show')
		   AND departure_date < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteCancelledBefore removes cancelled rows last updated before cutoff.
func (s *Store) DeleteCancelledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM bookings
		 WHERE status = 'cancelled' AND last_updated < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteBooking removes a single booking row.
func (s *Store) DeleteBooking(ctx context.Context, bookingID int64) error {
	res, err := s.write.ExecContext(ctx, `DELETE FROM bookings WHERE booking_id = ?`, bookingID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "booking")
}

// ClearBookings removes every booking row.
func (s *Store) ClearBookings(ctx context.Context) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM bookings`)
	return err
}

// BookingStats summarizes the bookings table. "Active" is computed by
// exclusion from the terminal and cancelled sets so new upstream status
// values are counted as active rather than silently dropped.
func (s *Store) BookingStats(ctx context.Context) (*staycache.CacheStats, error) {
	stats := &staycache.CacheStats{}
	err := s.read.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(cache_tier = 'hot'), 0),
		       COALESCE(SUM(cache_tier = 'historical'), 0),
		       COALESCE(SUM(status NOT IN ('cancelled', 'departed', 'checked_out', 'no_show')), 0),
		       COALESCE(SUM(status IN ('departed', 'checked_out')), 0),
		       COALESCE(SUM(status = 'cancelled'), 0)
		FROM bookings`,
	).Scan(&stats.Total, &stats.Hot, &stats.Historical,
		&stats.Active, &stats.CheckedOut, &stats.Cancelled)
	if err != nil {
		return nil, err
	}

	rows, err := s.read.QueryContext(ctx,
		`SELECT DISTINCT status FROM bookings ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		stats.DistinctStatuses = append(stats.DistinctStatuses, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.DBSizeMB, err = s.sizeMB(ctx)
	return stats, err
}

// BookingSummary rolls up bookings per arrival date. year/month of 0 mean
// no restriction on that component.
func (s *Store) BookingSummary(ctx context.Context, year, month int) ([]staycache.DateSummary, error) {
	query := `
		SELECT arrival_date,
		       COUNT(*),
		       COALESCE(SUM(status NOT IN ('cancelled', 'departed', 'checked_out', 'no_show')), 0),
		       COALESCE(SUM(status = 'cancelled'), 0),
		       MAX(last_updated)
		FROM bookings`
	var args []any
	switch {
	case year > 0 && month > 0:
		query += ` WHERE substr(arrival_date, 1, 7) = ?`
		args = append(args, fmt.Sprintf("%04d-%02d", year, month))
	case year > 0:
		query += ` WHERE substr(arrival_date, 1, 4) = ?`
		args = append(args, fmt.Sprintf("%04d", year))
	}
	query += ` GROUP BY arrival_date ORDER BY arrival_date`

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []staycache.DateSummary
	for rows.Next() {
		var d staycache.DateSummary
		var updated string
		if err := rows.Scan(&d.Date, &d.Total, &d.Active, &d.Cancelled, &updated); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, updated); err == nil {
			d.LastUpdated = t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// collectBookings scans all rows, dropping any whose payload fails to
// decrypt so one corrupt row cannot fail the whole range read.
func (s *Store) collectBookings(ctx context.Context, rows *sql.Rows) ([]*staycache.Record, error) {
	defer rows.Close()
	var out []*staycache.Record
	for rows.Next() {
		rec, err := s.scanBooking(ctx, rows)
		if err != nil {
			if errors.Is(err, staycache.ErrDecrypt) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) scanBooking(ctx context.Context, sc scanner) (*staycache.Record, error) {
	var rec staycache.Record
	var placedAt, cancelledAt, groupID, roomName sql.NullString
	var status, lastUpdated string
	var blob []byte

	err := sc.Scan(
		&rec.BookingID, &rec.Arrival, &rec.Departure, &placedAt, &cancelledAt,
		&status, &groupID, &roomName, &rec.Guests, &blob, &lastUpdated, &rec.Tier,
	)
	if err != nil {
		return nil, err
	}

	payload, err := s.codec.Decrypt(blob)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "booking payload decrypt failed, treating as absent",
			slog.Int64("booking_id", rec.BookingID),
		)
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)

	rec.Status = staycache.Status(status)
	rec.GroupID = groupID.String
	rec.RoomName = roomName.String
	rec.PlacedAt = parseTime(placedAt)
	rec.CancelledAt = parseTime(cancelledAt)
	if t, err := time.Parse(time.RFC3339, lastUpdated); err == nil {
		rec.LastUpdated = t
	}
	return &rec, nil
}
