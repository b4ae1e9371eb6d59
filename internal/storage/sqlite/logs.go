package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	staycache "github.com/harborview/staycache/internal"
)

// InsertLogEntries writes a batch of diagnostic entries in one statement.
func (s *Store) InsertLogEntries(ctx context.Context, entries []staycache.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO logs (id, ts, level, message, context) VALUES `)
	args := make([]any, 0, len(entries)*5)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, e.ID, e.Time.UTC().Format(time.RFC3339Nano),
			e.Level, e.Message, nullStr(e.Context))
	}
	_, err := s.write.ExecContext(ctx, sb.String(), args...)
	return err
}

// TrimLogs deletes all but the newest keep entries and returns rows deleted.
func (s *Store) TrimLogs(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM logs WHERE id NOT IN (
		    SELECT id FROM logs ORDER BY ts DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListLogEntries returns entries at or below minLevel severity threshold,
// newest first. A minLevel of 0 returns nothing, matching the off level.
func (s *Store) ListLogEntries(ctx context.Context, minLevel, limit, offset int) ([]*staycache.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, ts, level, message, context FROM logs
		 WHERE level <= ? AND level > 0
		 ORDER BY ts DESC LIMIT ? OFFSET ?`, minLevel, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*staycache.LogEntry
	for rows.Next() {
		var e staycache.LogEntry
		var ts string
		var logCtx sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Level, &e.Message, &logCtx); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Time = t
		}
		e.Context = logCtx.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ClearLogs removes every diagnostic entry.
func (s *Store) ClearLogs(ctx context.Context) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM logs`)
	return err
}
