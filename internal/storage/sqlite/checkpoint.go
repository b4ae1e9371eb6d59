package sqlite

import (
	"context"
	"time"

	staycache "github.com/harborview/staycache/internal"
)

// Checkpoints returns the last completion time of every sync job. Jobs that
// have never run are zero-valued.
func (s *Store) Checkpoints(ctx context.Context) (staycache.Checkpoints, error) {
	var cp staycache.Checkpoints
	rows, err := s.read.QueryContext(ctx, `SELECT job, completed_at FROM checkpoints`)
	if err != nil {
		return cp, err
	}
	defer rows.Close()

	for rows.Next() {
		var job, completed string
		if err := rows.Scan(&job, &completed); err != nil {
			return cp, err
		}
		t, err := time.Parse(time.RFC3339, completed)
		if err != nil {
			continue
		}
		switch job {
		case staycache.CheckpointFullRefresh:
			cp.FullRefresh = t
		case staycache.CheckpointIncremental:
			cp.Incremental = t
		case staycache.CheckpointCleanup:
			cp.Cleanup = t
		}
	}
	return cp, rows.Err()
}

// SetCheckpoint records completedAt for job, replacing any prior value.
func (s *Store) SetCheckpoint(ctx context.Context, job string, completedAt time.Time) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (job, completed_at) VALUES (?, ?)`,
		job, completedAt.UTC().Format(time.RFC3339))
	return err
}
