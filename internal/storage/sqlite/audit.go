package sqlite

import (
	"context"
	"database/sql"
	"time"

	staycache "github.com/harborview/staycache/internal"
)

// InsertUncachedRequest records an unknown action for later review.
func (s *Store) InsertUncachedRequest(ctx context.Context, req *staycache.UncachedRequest) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO uncached_requests (id, action, params, caller, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		req.ID, req.Action, nullStr(req.Params), nullStr(req.Caller),
		req.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListUncachedRequests returns the newest audit rows, up to limit.
func (s *Store) ListUncachedRequests(ctx context.Context, limit int) ([]*staycache.UncachedRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, action, params, caller, created_at
		 FROM uncached_requests ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*staycache.UncachedRequest
	for rows.Next() {
		var req staycache.UncachedRequest
		var params, caller sql.NullString
		var createdAt string
		if err := rows.Scan(&req.ID, &req.Action, &params, &caller, &createdAt); err != nil {
			return nil, err
		}
		req.Params = params.String
		req.Caller = caller.String
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			req.CreatedAt = t
		}
		out = append(out, &req)
	}
	return out, rows.Err()
}
