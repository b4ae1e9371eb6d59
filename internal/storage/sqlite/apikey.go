package sqlite

import (
	"context"
	"database/sql"
	"time"

	staycache "github.com/harborview/staycache/internal"
)

const apiKeyColumns = `id, key_hash, label, created_at, last_used_at, usage_count, active`

// CreateKey inserts a new API key row. The caller supplies the hash; raw key
// material never reaches the store.
func (s *Store) CreateKey(ctx context.Context, key *staycache.APIKey) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.Label,
		key.CreatedAt.UTC().Format(time.RFC3339),
		timeToStr(key.LastUsedAt), key.UsageCount, boolToInt(key.Active),
	)
	return err
}

// GetKeyByHash returns the key with the given hash or staycache.ErrNotFound.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*staycache.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	return scanAPIKey(row)
}

// ListKeys returns keys newest first, optionally restricted to active ones.
func (s *Store) ListKeys(ctx context.Context, activeOnly bool) ([]*staycache.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.read.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*staycache.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// RevokeKey deactivates a key without losing its usage history.
func (s *Store) RevokeKey(ctx context.Context, id string) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "api key")
}

// DeleteKey removes a key row entirely.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	res, err := s.write.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "api key")
}

// TouchKeyUsage bumps the usage counter and stamps last_used_at. Called off
// the request path, so a failure here never fails a request.
func (s *Store) TouchKeyUsage(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// KeyStats summarizes the key table for the admin surface.
func (s *Store) KeyStats(ctx context.Context) (*staycache.KeyStats, error) {
	stats := &staycache.KeyStats{}
	var lastUsed sql.NullString
	err := s.read.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(active = 1), 0),
		       COALESCE(SUM(usage_count), 0),
		       MAX(last_used_at)
		FROM api_keys`,
	).Scan(&stats.TotalActiveKeys, &stats.TotalUsage, &lastUsed)
	if err != nil {
		return nil, err
	}
	stats.LastUsed = parseTime(lastUsed)
	return stats, nil
}

func scanAPIKey(sc scanner) (*staycache.APIKey, error) {
	var key staycache.APIKey
	var createdAt string
	var lastUsed sql.NullString
	var active int
	err := sc.Scan(&key.ID, &key.KeyHash, &key.Label, &createdAt,
		&lastUsed, &key.UsageCount, &active)
	if err != nil {
		return nil, notFoundErr(err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		key.CreatedAt = t
	}
	key.LastUsedAt = parseTime(lastUsed)
	key.Active = active != 0
	return &key, nil
}
