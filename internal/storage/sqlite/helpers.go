package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	staycache "github.com/harborview/staycache/internal"
)

// scanner abstracts *sql.Row and *sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...any) error
}

// notFoundErr converts sql.ErrNoRows into the domain sentinel.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return staycache.ErrNotFound
	}
	return err
}

// checkRowsAffected returns ErrNotFound when a mutation touched no rows.
func checkRowsAffected(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, staycache.ErrNotFound)
	}
	return nil
}

// nullStr maps "" to NULL so empty optional fields stay out of indexes.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeToStr formats an optional timestamp as RFC3339, nil becoming NULL.
func timeToStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTime parses an optional RFC3339 column back into *time.Time.
func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
