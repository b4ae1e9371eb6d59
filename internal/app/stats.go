package app

import (
	"context"
	"fmt"
	"time"

	staycache "github.com/harborview/staycache/internal"
)

// Overview bundles the cache statistics and sync checkpoints served by the
// stats endpoint.
type Overview struct {
	Cache       *staycache.CacheStats     `json:"cache"`
	Checkpoints staycache.Checkpoints     `json:"checkpoints"`
	Retention   staycache.RetentionPolicy `json:"retention"`
}

// Statistics returns the current cache overview.
func (g *Gateway) Statistics(ctx context.Context) (*Overview, error) {
	stats, err := g.store.BookingStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("booking stats: %w", err)
	}
	cp, err := g.store.Checkpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: %w", err)
	}
	return &Overview{
		Cache:       stats,
		Checkpoints: cp,
		Retention:   g.settings.Retention(ctx),
	}, nil
}

// SummaryByDate returns the per-arrival-date rollup, optionally restricted
// to a year and month (0 means unrestricted).
func (g *Gateway) SummaryByDate(ctx context.Context, year, month int) ([]staycache.DateSummary, error) {
	if month < 0 || month > 12 {
		return nil, fmt.Errorf("%w: month out of range", staycache.ErrBadRequest)
	}
	return g.store.BookingSummary(ctx, year, month)
}

// ClearAll empties the record store and the reference cache, and resets the
// sync checkpoints. An empty store with a live full-refresh checkpoint would
// look trustworthy to the freshness check and serve empty results for
// bookings that still exist upstream.
func (g *Gateway) ClearAll(ctx context.Context) error {
	if err := g.store.ClearBookings(ctx); err != nil {
		return fmt.Errorf("clear bookings: %w", err)
	}
	for _, job := range []string{staycache.CheckpointFullRefresh, staycache.CheckpointIncremental} {
		if err := g.store.SetCheckpoint(ctx, job, time.Time{}); err != nil {
			return fmt.Errorf("reset %s checkpoint: %w", job, err)
		}
	}
	g.sites.Purge(ctx)
	return nil
}

// ClearBooking removes a single booking from the cache.
func (g *Gateway) ClearBooking(ctx context.Context, bookingID int64) error {
	if bookingID <= 0 {
		return fmt.Errorf("%w: booking_id must be positive", staycache.ErrBadRequest)
	}
	return g.store.DeleteBooking(ctx, bookingID)
}

// TestConnection checks upstream reachability and credentials.
func (g *Gateway) TestConnection(ctx context.Context) *staycache.Result {
	return g.upstream.TestConnection(ctx)
}
