package staycache

import "strings"

// Status is a booking status string as reported by the upstream API,
// normalized to lower case. The vocabulary is upstream-defined and open:
// new values may appear at any time, so "active" is always decided by
// exclusion from the known terminal set, never by an allow-list.
type Status string

// Known status values. The upstream renamed checked-out stays from
// "checked_out" to "departed" at some point; both spellings are treated
// as terminal.
const (
	StatusConfirmed  Status = "confirmed"
	StatusArrived    Status = "arrived"
	StatusDeparted   Status = "departed"
	StatusCheckedOut Status = "checked_out"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// terminalStatuses are stays that have ended without being cancelled.
var terminalStatuses = map[Status]struct{}{
	StatusDeparted:   {},
	StatusCheckedOut: {},
	StatusNoShow:     {},
}

// NormalizeStatus lower-cases and trims an upstream status value,
// defaulting to "confirmed" when absent.
func NormalizeStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return StatusConfirmed
	}
	return Status(s)
}

// Terminal reports whether the stay has ended (departed/checked out/no-show).
func (s Status) Terminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// Cancelled reports whether the booking was cancelled.
func (s Status) Cancelled() bool { return s == StatusCancelled }

// Active reports whether the booking is still live: not cancelled and not
// in the terminal set. Unknown upstream values count as active.
func (s Status) Active() bool { return !s.Cancelled() && !s.Terminal() }
