package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	staycache "github.com/harborview/staycache/internal"
	"github.com/harborview/staycache/internal/cache"
	"github.com/harborview/staycache/internal/crypto"
	"github.com/harborview/staycache/internal/settings"
	"github.com/harborview/staycache/internal/storage/sqlite"
	"github.com/harborview/staycache/internal/testutil"
)

func newTestGateway(t *testing.T) (*Gateway, *sqlite.Store, *testutil.FakeUpstream) {
	t.Helper()
	codec, err := crypto.New("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	store, err := sqlite.New(t.TempDir()+"/test.db", codec)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	sites, err := cache.NewMemory(16, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	up := &testutil.FakeUpstream{}
	g := NewGateway(store, up, settings.New(store), sites, nil)
	return g, store, up
}

func bookingPayload(id int64, arrival, departure, status string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"booking_id": %d, "booking_arrival": %q, "booking_departure": %q, "booking_status": %q}`,
		id, arrival, departure, status))
}

func upstreamReturning(records ...json.RawMessage) func(context.Context, string, staycache.Params) *staycache.Result {
	return func(context.Context, string, staycache.Params) *staycache.Result {
		return staycache.OK(records)
	}
}

func TestBookingsListMissThenHit(t *testing.T) {
	t.Parallel()
	g, _, up := newTestGateway(t)
	ctx := context.Background()
	up.CallFn = upstreamReturning(
		bookingPayload(1, "2026-07-02", "2026-07-06", "confirmed"),
		bookingPayload(2, "2026-07-03", "2026-07-07", "confirmed"),
	)

	params := staycache.Params{
		"list_type":   "staying",
		"period_from": "2026-07-01",
		"period_to":   "2026-07-10",
	}

	res := g.Handle(ctx, staycache.ActionBookingsList, params)
	if !res.Success || res.CacheHit {
		t.Fatalf("first call: success=%v hit=%v msg=%q", res.Success, res.CacheHit, res.Message)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %d", len(res.Records))
	}
	if calls := up.Calls(); len(calls) != 1 || calls[0].Action != staycache.ActionBookingsList {
		t.Fatalf("upstream calls = %+v", calls)
	}

	// The relay response was persisted, so the second call is local.
	res = g.Handle(ctx, staycache.ActionBookingsList, params)
	if !res.Success || !res.CacheHit {
		t.Fatalf("second call: success=%v hit=%v", res.Success, res.CacheHit)
	}
	if len(res.Records) != 2 {
		t.Errorf("cached records = %d", len(res.Records))
	}
	if len(up.Calls()) != 1 {
		t.Errorf("cache hit should not call upstream")
	}
}

func TestBookingsListStayingExcludesCancelled(t *testing.T) {
	t.Parallel()
	g, store, up := newTestGateway(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// The cancelled pass of a full refresh writes cancelled rows into the
	// store; a cached staying read must not serve them.
	for _, payload := range []json.RawMessage{
		bookingPayload(1, "2026-07-02", "2026-07-06", "confirmed"),
		bookingPayload(2, "2026-07-03", "2026-07-07", "cancelled"),
	} {
		rec, err := staycache.RecordFromPayload(payload, now)
		if err != nil {
			t.Fatal(err)
		}
		if err := store.UpsertBooking(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	res := g.Handle(ctx, staycache.ActionBookingsList, staycache.Params{
		"list_type":   "staying",
		"period_from": "2026-07-01",
		"period_to":   "2026-07-10",
	})
	if !res.Success || !res.CacheHit {
		t.Fatalf("success=%v hit=%v msg=%q", res.Success, res.CacheHit, res.Message)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %d, want cancelled row filtered", len(res.Records))
	}
	var rec struct {
		BookingID int64 `json:"booking_id"`
	}
	if err := json.Unmarshal(res.Records[0], &rec); err != nil {
		t.Fatal(err)
	}
	if rec.BookingID != 1 {
		t.Errorf("booking id = %d, want the confirmed booking", rec.BookingID)
	}
	if len(up.Calls()) != 0 {
		t.Errorf("calls = %d", len(up.Calls()))
	}
}

func TestBookingsListTrustworthyEmpty(t *testing.T) {
	t.Parallel()
	g, store, up := newTestGateway(t)
	ctx := context.Background()
	now := time.Now().UTC()

	params := staycache.Params{
		"list_type":   "staying",
		"period_from": now.AddDate(0, 0, 7).Format(staycache.DateFormat),
		"period_to":   now.AddDate(0, 0, 14).Format(staycache.DateFormat),
	}

	// Without any sync history, an empty window goes upstream.
	res := g.Handle(ctx, staycache.ActionBookingsList, params)
	if !res.Success || res.CacheHit {
		t.Fatalf("unsynced empty: success=%v hit=%v", res.Success, res.CacheHit)
	}
	if len(up.Calls()) != 1 {
		t.Fatalf("upstream calls = %d", len(up.Calls()))
	}

	// After a completed full refresh the same empty window is authoritative.
	if err := store.SetCheckpoint(ctx, staycache.CheckpointFullRefresh, now); err != nil {
		t.Fatal(err)
	}
	res = g.Handle(ctx, staycache.ActionBookingsList, params)
	if !res.Success || !res.CacheHit || len(res.Records) != 0 {
		t.Fatalf("trusted empty: success=%v hit=%v records=%d", res.Success, res.CacheHit, len(res.Records))
	}
	if len(up.Calls()) != 1 {
		t.Errorf("trusted empty should not call upstream")
	}
}

func TestBookingsListForceRefresh(t *testing.T) {
	t.Parallel()
	g, _, up := newTestGateway(t)
	ctx := context.Background()
	up.CallFn = upstreamReturning(bookingPayload(1, "2026-07-02", "2026-07-06", "confirmed"))

	params := staycache.Params{
		"list_type":   "staying",
		"period_from": "2026-07-01",
		"period_to":   "2026-07-10",
	}
	g.Handle(ctx, staycache.ActionBookingsList, params)

	forced := staycache.Params{
		"list_type":   "staying",
		"period_from": "2026-07-01",
		"period_to":   "2026-07-10",
	}
	forced[ParamForceRefresh] = true
	res := g.Handle(ctx, staycache.ActionBookingsList, forced)
	if !res.Success || res.CacheHit {
		t.Fatalf("forced: success=%v hit=%v", res.Success, res.CacheHit)
	}
	if len(up.Calls()) != 2 {
		t.Errorf("force refresh should reach upstream, calls = %d", len(up.Calls()))
	}
	// The marker must not leak into the upstream request body.
	if _, ok := up.Calls()[1].Params[ParamForceRefresh]; ok {
		t.Error("force marker forwarded upstream")
	}
}

func TestBookingsListValidation(t *testing.T) {
	t.Parallel()
	g, _, up := newTestGateway(t)
	ctx := context.Background()

	for _, params := range []staycache.Params{
		{"list_type": "staying", "period_from": "July 1st", "period_to": "2026-07-10"},
		{"list_type": "staying", "period_from": "2026-07-01", "period_to": "bad"},
		{"list_type": "staying", "period_from": "2026-07-10", "period_to": "2026-07-01"},
		{"list_type": "staying"},
	} {
		res := g.Handle(ctx, staycache.ActionBookingsList, params)
		if res.Success {
			t.Errorf("params %v: expected failure", params)
		}
	}
	if len(up.Calls()) != 0 {
		t.Errorf("invalid params should never reach upstream, calls = %d", len(up.Calls()))
	}
}

func TestBookingsListAllRelays(t *testing.T) {
	t.Parallel()
	g, store, up := newTestGateway(t)
	ctx := context.Background()
	up.CallFn = upstreamReturning(bookingPayload(9, "2026-07-02", "2026-07-06", "cancelled"))

	params := staycache.Params{"list_type": "all", "period_from": "2026-07-01 00:00:00", "period_to": "2026-07-02 00:00:00"}
	for range 2 {
		res := g.Handle(ctx, staycache.ActionBookingsList, params)
		if !res.Success || res.CacheHit {
			t.Fatalf("all list: success=%v hit=%v", res.Success, res.CacheHit)
		}
	}
	// The change feed always relays but still feeds the cache.
	if len(up.Calls()) != 2 {
		t.Errorf("calls = %d, want 2", len(up.Calls()))
	}
	if ok, _ := store.BookingExists(ctx, 9); !ok {
		t.Error("relayed record should be persisted")
	}
}

func TestBookingsGet(t *testing.T) {
	t.Parallel()
	g, _, up := newTestGateway(t)
	ctx := context.Background()
	up.CallFn = upstreamReturning(bookingPayload(42, "2026-07-02", "2026-07-06", "confirmed"))

	res := g.Handle(ctx, staycache.ActionBookingsGet, staycache.Params{"booking_id": float64(42)})
	if !res.Success || res.CacheHit || len(res.Records) != 1 {
		t.Fatalf("miss: success=%v hit=%v records=%d", res.Success, res.CacheHit, len(res.Records))
	}

	// String IDs are accepted; the record is now cached.
	res = g.Handle(ctx, staycache.ActionBookingsGet, staycache.Params{"booking_id": "42"})
	if !res.Success || !res.CacheHit {
		t.Fatalf("hit: success=%v hit=%v", res.Success, res.CacheHit)
	}
	if len(up.Calls()) != 1 {
		t.Errorf("calls = %d", len(up.Calls()))
	}

	for _, id := range []any{nil, "abc", float64(0), float64(-3)} {
		res := g.Handle(ctx, staycache.ActionBookingsGet, staycache.Params{"booking_id": id})
		if res.Success {
			t.Errorf("booking_id %v: expected failure", id)
		}
	}
}

func TestSitesListCached(t *testing.T) {
	t.Parallel()
	g, _, up := newTestGateway(t)
	ctx := context.Background()
	up.CallFn = upstreamReturning(json.RawMessage(`{"site_id": 1, "site_name": "Cabin 1"}`))

	res := g.Handle(ctx, staycache.ActionSitesList, nil)
	if !res.Success || res.CacheHit || len(res.Records) != 1 {
		t.Fatalf("miss: %+v", res)
	}
	res = g.Handle(ctx, staycache.ActionSitesList, nil)
	if !res.Success || !res.CacheHit || len(res.Records) != 1 {
		t.Fatalf("hit: %+v", res)
	}
	if len(up.Calls()) != 1 {
		t.Errorf("calls = %d", len(up.Calls()))
	}

	res = g.Handle(ctx, staycache.ActionSitesList, staycache.Params{ParamForceRefresh: "true"})
	if res.CacheHit {
		t.Error("forced sites list should bypass the cache")
	}
	if len(up.Calls()) != 2 {
		t.Errorf("calls after force = %d", len(up.Calls()))
	}
}

func TestUnknownActionDeniedAndAudited(t *testing.T) {
	t.Parallel()
	g, store, up := newTestGateway(t)
	ctx := staycache.ContextWithCaller(context.Background(),
		&staycache.Caller{ClientType: "api_key", Route: "/v1/actions/payments_list"})

	res := g.Handle(ctx, "payments_list", staycache.Params{"limit": 10, "card_number": "4111"})
	if res.Success {
		t.Fatal("unknown action should be denied by default")
	}
	if !strings.Contains(res.Message, "payments_list") {
		t.Errorf("message = %q", res.Message)
	}
	if len(up.Calls()) != 0 {
		t.Error("denied action must not reach upstream")
	}

	rows, err := store.ListUncachedRequests(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("audit rows = %d", len(rows))
	}
	if rows[0].Action != "payments_list" {
		t.Errorf("audited action = %q", rows[0].Action)
	}
	if rows[0].Caller != "api_key -> /v1/actions/payments_list" {
		t.Errorf("audited caller = %q", rows[0].Caller)
	}
	// Only allow-listed keys survive into the audit record.
	if strings.Contains(rows[0].Params, "card_number") {
		t.Errorf("audited params leak: %q", rows[0].Params)
	}
}

func TestUnknownActionRelayedWhenEnabled(t *testing.T) {
	t.Parallel()
	g, store, up := newTestGateway(t)
	ctx := context.Background()

	if err := store.SetSetting(ctx, settings.KeyAllowUnknownRelay, "true"); err != nil {
		t.Fatal(err)
	}
	res := g.Handle(ctx, "payments_list", staycache.Params{"limit": 10})
	if !res.Success {
		t.Fatalf("relayed action failed: %s", res.Message)
	}
	if len(up.Calls()) != 1 {
		t.Errorf("calls = %d", len(up.Calls()))
	}
	// Relayed unknown actions are still audited.
	rows, _ := store.ListUncachedRequests(ctx, 10)
	if len(rows) != 1 {
		t.Errorf("audit rows = %d", len(rows))
	}
}

func TestCachingDisabledRelaysEverything(t *testing.T) {
	t.Parallel()
	g, store, up := newTestGateway(t)
	ctx := context.Background()
	up.CallFn = upstreamReturning(bookingPayload(1, "2026-07-02", "2026-07-06", "confirmed"))

	if err := store.SetSetting(ctx, settings.KeyCachingEnabled, "false"); err != nil {
		t.Fatal(err)
	}
	params := staycache.Params{
		"list_type":   "staying",
		"period_from": "2026-07-01",
		"period_to":   "2026-07-10",
	}
	for range 2 {
		res := g.Handle(ctx, staycache.ActionBookingsList, params)
		if !res.Success || res.CacheHit {
			t.Fatalf("disabled: success=%v hit=%v", res.Success, res.CacheHit)
		}
	}
	if len(up.Calls()) != 2 {
		t.Errorf("calls = %d, want pass-through on every request", len(up.Calls()))
	}
}

func TestUpstreamFailureNotPersisted(t *testing.T) {
	t.Parallel()
	g, store, up := newTestGateway(t)
	ctx := context.Background()
	up.CallFn = func(context.Context, string, staycache.Params) *staycache.Result {
		return staycache.Failure("upstream unreachable: connection refused")
	}

	res := g.Handle(ctx, staycache.ActionBookingsGet, staycache.Params{"booking_id": 5})
	if res.Success {
		t.Fatal("expected failure to propagate")
	}
	if ok, _ := store.BookingExists(ctx, 5); ok {
		t.Error("nothing should be persisted on failure")
	}
}

func TestClearAllResetsCheckpoints(t *testing.T) {
	t.Parallel()
	g, store, up := newTestGateway(t)
	ctx := context.Background()
	now := time.Now().UTC()

	params := staycache.Params{
		"list_type":   "staying",
		"period_from": now.AddDate(0, 0, 7).Format(staycache.DateFormat),
		"period_to":   now.AddDate(0, 0, 14).Format(staycache.DateFormat),
	}

	if err := store.SetCheckpoint(ctx, staycache.CheckpointFullRefresh, now); err != nil {
		t.Fatal(err)
	}
	if err := store.SetCheckpoint(ctx, staycache.CheckpointIncremental, now); err != nil {
		t.Fatal(err)
	}
	res := g.Handle(ctx, staycache.ActionBookingsList, params)
	if !res.Success || !res.CacheHit {
		t.Fatalf("synced empty: success=%v hit=%v", res.Success, res.CacheHit)
	}
	if len(up.Calls()) != 0 {
		t.Fatalf("upstream calls = %d", len(up.Calls()))
	}

	// A clear wipes the sync history too: an empty window is no longer
	// authoritative and must go upstream again.
	if err := g.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	cp, err := store.Checkpoints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cp.FullRefresh.IsZero() || !cp.Incremental.IsZero() {
		t.Fatalf("checkpoints after clear = %+v", cp)
	}
	res = g.Handle(ctx, staycache.ActionBookingsList, params)
	if !res.Success || res.CacheHit {
		t.Fatalf("after clear: success=%v hit=%v", res.Success, res.CacheHit)
	}
	if len(up.Calls()) != 1 {
		t.Errorf("upstream calls after clear = %d", len(up.Calls()))
	}
}

func TestStatisticsAndClear(t *testing.T) {
	t.Parallel()
	g, store, up := newTestGateway(t)
	ctx := context.Background()
	up.CallFn = upstreamReturning(
		bookingPayload(1, "2026-07-02", "2026-07-06", "confirmed"),
		bookingPayload(2, "2026-07-03", "2026-07-07", "cancelled"),
	)
	g.Handle(ctx, staycache.ActionBookingsList, staycache.Params{
		"list_type": "staying", "period_from": "2026-07-01", "period_to": "2026-07-10",
	})

	ov, err := g.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Cache.Total != 2 || ov.Cache.Cancelled != 1 {
		t.Errorf("stats = %+v", ov.Cache)
	}
	if ov.Retention.FutureDays != settings.DefaultFutureDays {
		t.Errorf("retention = %+v", ov.Retention)
	}

	if _, err := g.SummaryByDate(ctx, 2026, 13); err == nil {
		t.Error("month 13 should be rejected")
	}
	rows, err := g.SummaryByDate(ctx, 2026, 7)
	if err != nil || len(rows) != 2 {
		t.Errorf("summary rows = %d err = %v", len(rows), err)
	}

	if err := g.ClearBooking(ctx, 0); err == nil {
		t.Error("booking id 0 should be rejected")
	}
	if err := g.ClearBooking(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := g.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	stats, _ := store.BookingStats(ctx)
	if stats.Total != 0 {
		t.Errorf("total after clear = %d", stats.Total)
	}
}
