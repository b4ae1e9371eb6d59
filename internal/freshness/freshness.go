// Package freshness decides whether an empty cache window can be trusted as
// a true "no bookings" answer or must be treated as a miss. The decision is
// a pure function of the clock, the requested window, the retention policy,
// and the sync checkpoints; it performs no I/O.
package freshness

import (
	"time"

	staycache "github.com/harborview/staycache/internal"
)

// incrementalMaxAge is how recent the last incremental sync must be for the
// cache to vouch for an empty window.
const incrementalMaxAge = time.Hour

// TrustworthyEmpty reports whether an empty result for [from, to] can be
// served as authoritative. Two conditions must hold: the window overlaps the
// maintained retention range around now, and the sync engine has either
// completed a full refresh at some point or run an incremental pass within
// the last hour. Outside the maintained range the cache has no opinion.
func TrustworthyEmpty(now time.Time, from, to string, ret staycache.RetentionPolicy, cp staycache.Checkpoints) bool {
	fromDate, err := time.Parse(staycache.DateFormat, from)
	if err != nil {
		return false
	}
	toDate, err := time.Parse(staycache.DateFormat, to)
	if err != nil {
		return false
	}
	if toDate.Before(fromDate) {
		return false
	}

	today := now.UTC().Truncate(24 * time.Hour)
	rangeStart := today.AddDate(0, 0, -ret.PastDays)
	rangeEnd := today.AddDate(0, 0, ret.FutureDays)
	if toDate.Before(rangeStart) || fromDate.After(rangeEnd) {
		return false
	}

	if !cp.FullRefresh.IsZero() {
		return true
	}
	return !cp.Incremental.IsZero() && now.Sub(cp.Incremental) <= incrementalMaxAge
}
