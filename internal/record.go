package staycache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Date and timestamp layouts used by the upstream API.
const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

// Cache tiers, derived from the departure date. Statistics only.
const (
	TierHot        = "hot"
	TierHistorical = "historical"
)

// Record is the unit of caching: one booking. Payload holds the full
// upstream record and is the only authoritative copy; every other field is
// denormalized from it to support indexed queries and must stay derivable
// from it (RecordFromPayload is the single derivation path).
type Record struct {
	BookingID   int64           `json:"booking_id"`
	Arrival     string          `json:"arrival_date"`   // YYYY-MM-DD
	Departure   string          `json:"departure_date"` // YYYY-MM-DD
	PlacedAt    *time.Time      `json:"placed_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	Status      Status          `json:"status"`
	GroupID     string          `json:"group_id,omitempty"`
	RoomName    string          `json:"room_name,omitempty"`
	Guests      int             `json:"guest_count"`
	Payload     json.RawMessage `json:"-"`
	LastUpdated time.Time       `json:"last_updated"`
	Tier        string          `json:"cache_tier"`
}

// RecordFromPayload derives a Record from a raw upstream booking payload.
// Dates longer than YYYY-MM-DD are truncated; a missing or unparsable
// booking_id is an error since it is the cache key.
func RecordFromPayload(payload []byte, now time.Time) (*Record, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("booking payload: invalid JSON")
	}
	doc := gjson.ParseBytes(payload)

	id := doc.Get("booking_id").Int()
	if id <= 0 {
		return nil, fmt.Errorf("booking payload: missing booking_id")
	}

	rec := &Record{
		BookingID:   id,
		Arrival:     truncDate(doc.Get("booking_arrival").String()),
		Departure:   truncDate(doc.Get("booking_departure").String()),
		PlacedAt:    parseUpstreamTime(doc.Get("booking_placed").String()),
		CancelledAt: parseUpstreamTime(doc.Get("booking_cancelled").String()),
		Status:      NormalizeStatus(doc.Get("booking_status").String()),
		GroupID:     doc.Get("group_id").String(),
		RoomName:    doc.Get("site_name").String(),
		Guests:      int(doc.Get("booking_adults").Int() + doc.Get("booking_children").Int()),
		Payload:     json.RawMessage(payload),
		LastUpdated: now.UTC(),
	}
	rec.Tier = TierFor(rec.Departure, now)
	return rec, nil
}

// TierFor returns "hot" when the departure date is today or later,
// "historical" otherwise.
func TierFor(departure string, now time.Time) string {
	today := now.Format(DateFormat)
	if departure >= today {
		return TierHot
	}
	return TierHistorical
}

// truncDate keeps the YYYY-MM-DD prefix of an upstream date/datetime string.
func truncDate(s string) string {
	if len(s) > len(DateFormat) {
		return s[:len(DateFormat)]
	}
	return s
}

// parseUpstreamTime parses an upstream timestamp, returning nil when the
// field is absent or malformed. Upstream sends "YYYY-MM-DD HH:MM:SS";
// bare dates appear on some historical records.
func parseUpstreamTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{TimeFormat, DateFormat} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
