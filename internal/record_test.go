package staycache

import (
	"testing"
	"time"
)

func TestRecordFromPayload(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	payload := []byte(`{
		"booking_id": 4711,
		"booking_arrival": "2026-07-01 14:00:00",
		"booking_departure": "2026-07-08",
		"booking_placed": "2026-05-20 09:30:00",
		"booking_status": "Confirmed",
		"group_id": "g-9",
		"site_name": "Cabin 12",
		"booking_adults": 2,
		"booking_children": 1
	}`)

	rec, err := RecordFromPayload(payload, now)
	if err != nil {
		t.Fatal(err)
	}
	if rec.BookingID != 4711 {
		t.Errorf("booking id = %d, want 4711", rec.BookingID)
	}
	if rec.Arrival != "2026-07-01" {
		t.Errorf("arrival = %q, want truncated date", rec.Arrival)
	}
	if rec.Departure != "2026-07-08" {
		t.Errorf("departure = %q", rec.Departure)
	}
	if rec.PlacedAt == nil || !rec.PlacedAt.Equal(time.Date(2026, 5, 20, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("placed at = %v", rec.PlacedAt)
	}
	if rec.CancelledAt != nil {
		t.Errorf("cancelled at = %v, want nil", rec.CancelledAt)
	}
	if rec.Status != StatusConfirmed {
		t.Errorf("status = %q, want confirmed", rec.Status)
	}
	if rec.RoomName != "Cabin 12" {
		t.Errorf("room = %q", rec.RoomName)
	}
	if rec.Guests != 3 {
		t.Errorf("guests = %d, want 3", rec.Guests)
	}
	if rec.Tier != TierHot {
		t.Errorf("tier = %q, want hot", rec.Tier)
	}
	if string(rec.Payload) != string(payload) {
		t.Error("payload should be kept verbatim")
	}
}

func TestRecordFromPayloadMissingID(t *testing.T) {
	t.Parallel()
	for _, payload := range []string{
		`{"booking_arrival": "2026-07-01"}`,
		`{"booking_id": 0}`,
		`{"booking_id": -5}`,
		`not json`,
	} {
		if _, err := RecordFromPayload([]byte(payload), time.Now()); err == nil {
			t.Errorf("payload %q: expected error", payload)
		}
	}
}

func TestRecordFromPayloadDefaultStatus(t *testing.T) {
	t.Parallel()
	rec, err := RecordFromPayload([]byte(`{"booking_id": 1}`), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusConfirmed {
		t.Errorf("status = %q, want confirmed default", rec.Status)
	}
}

func TestTierFor(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 15, 23, 59, 0, 0, time.UTC)

	tests := []struct {
		departure string
		want      string
	}{
		{"2026-06-16", TierHot},
		{"2026-06-15", TierHot}, // departs today, still hot
		{"2026-06-14", TierHistorical},
		{"2025-01-01", TierHistorical},
	}
	for _, tt := range tests {
		if got := TierFor(tt.departure, now); got != tt.want {
			t.Errorf("TierFor(%q) = %q, want %q", tt.departure, got, tt.want)
		}
	}
}
