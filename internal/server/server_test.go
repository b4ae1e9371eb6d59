package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	staycache "github.com/harborview/staycache/internal"
	"github.com/harborview/staycache/internal/app"
	"github.com/harborview/staycache/internal/cache"
	"github.com/harborview/staycache/internal/crypto"
	"github.com/harborview/staycache/internal/settings"
	"github.com/harborview/staycache/internal/storage/sqlite"
	syncengine "github.com/harborview/staycache/internal/sync"
	"github.com/harborview/staycache/internal/testutil"
)

type testServer struct {
	http     http.Handler
	store    *sqlite.Store
	upstream *testutil.FakeUpstream
	keys     *app.KeyManager
}

func newTestServer(t *testing.T, auth Authenticator) *testServer {
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
	cfg := settings.New(store)
	gw := app.NewGateway(store, up, cfg, sites, nil)
	keys := app.NewKeyManager(store)
	engine := syncengine.NewEngine(store, up, cfg, nil)

	if auth == nil {
		auth = testutil.FakeAuth{}
	}
	h := New(Deps{
		Auth:     auth,
		Gateway:  gw,
		Keys:     keys,
		Engine:   engine,
		Settings: cfg,
		Store:    store,
	})
	return &testServer{http: h, store: store, upstream: up, keys: keys}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.http.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}
}

func TestReadyzFailure(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	failing := New(Deps{
		Auth:     testutil.FakeAuth{},
		Gateway:  nil,
		Settings: nil,
		Store:    ts.store,
		ReadyCheck: func(context.Context) error {
			return fmt.Errorf("db gone")
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	failing.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", w.Code)
	}
}

func TestUnauthorizedRequests(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testutil.RejectAuth{})

	for _, tt := range []struct{ method, path string }{
		{http.MethodPost, "/v1/bookings/list"},
		{http.MethodGet, "/v1/cache/stats"},
		{http.MethodPost, "/v1/keys"},
	} {
		w := ts.do(t, tt.method, tt.path, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401", tt.method, tt.path, w.Code)
		}
	}
}

func TestBookingsListRoute(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.upstream.CallFn = func(context.Context, string, staycache.Params) *staycache.Result {
		return staycache.OK([]json.RawMessage{
			json.RawMessage(`{"booking_id": 1, "booking_arrival": "2026-07-02", "booking_departure": "2026-07-05", "booking_status": "confirmed"}`),
		})
	}

	w := ts.do(t, http.MethodPost, "/v1/bookings/list",
		`{"list_type": "staying", "period_from": "2026-07-01", "period_to": "2026-07-10"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var res staycache.Result
	decodeBody(t, w, &res)
	if !res.Success || len(res.Records) != 1 {
		t.Errorf("res = %+v", res)
	}

	// Invalid parameters surface as a 400 failure envelope.
	w = ts.do(t, http.MethodPost, "/v1/bookings/list", `{"list_type": "staying"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid params status = %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/v1/bookings/list", `{broken`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("broken body status = %d", w.Code)
	}
}

func TestBookingsGetSingleObject(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.upstream.CallFn = func(context.Context, string, staycache.Params) *staycache.Result {
		return staycache.OK([]json.RawMessage{
			json.RawMessage(`{"booking_id": 7, "booking_arrival": "2026-07-02", "booking_departure": "2026-07-05", "booking_status": "confirmed"}`),
		})
	}

	w := ts.do(t, http.MethodPost, "/v1/bookings/get", `{"booking_id": 7}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var res struct {
		Data    map[string]any `json:"data"`
		Success bool           `json:"success"`
	}
	decodeBody(t, w, &res)
	if !res.Success {
		t.Fatal("expected success")
	}
	// Single fetches render data as an object, not a one-element array.
	if res.Data["booking_id"] != float64(7) {
		t.Errorf("data = %v", res.Data)
	}
}

func TestGenericActionRoute(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/actions/payments_list", `{"limit": 5}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("denied action status = %d", w.Code)
	}
	var res staycache.Result
	decodeBody(t, w, &res)
	if res.Success || !strings.Contains(res.Message, "payments_list") {
		t.Errorf("res = %+v", res)
	}

	// The denial leaves an audit row behind.
	w = ts.do(t, http.MethodGet, "/v1/uncached", "")
	if w.Code != http.StatusOK {
		t.Fatalf("uncached status = %d", w.Code)
	}
	var audit struct {
		Data []staycache.UncachedRequest `json:"data"`
	}
	decodeBody(t, w, &audit)
	if len(audit.Data) != 1 || audit.Data[0].Action != "payments_list" {
		t.Errorf("audit = %+v", audit.Data)
	}
}

func TestCacheAdminRoutes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.upstream.CallFn = func(context.Context, string, staycache.Params) *staycache.Result {
		return staycache.OK([]json.RawMessage{
			json.RawMessage(`{"booking_id": 3, "booking_arrival": "2026-07-02", "booking_departure": "2026-07-05", "booking_status": "confirmed"}`),
		})
	}
	ts.do(t, http.MethodPost, "/v1/bookings/get", `{"booking_id": 3}`)

	w := ts.do(t, http.MethodGet, "/v1/cache/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var overview app.Overview
	decodeBody(t, w, &overview)
	if overview.Cache.Total != 1 {
		t.Errorf("total = %d", overview.Cache.Total)
	}

	w = ts.do(t, http.MethodGet, "/v1/cache/summary?year=2026&month=7", "")
	if w.Code != http.StatusOK {
		t.Errorf("summary status = %d", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/v1/cache/summary?month=13", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("month 13 status = %d", w.Code)
	}

	w = ts.do(t, http.MethodDelete, "/v1/cache/bookings/3", "")
	if w.Code != http.StatusOK {
		t.Errorf("delete status = %d body = %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodDelete, "/v1/cache/bookings/3", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("repeat delete status = %d", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/v1/cache/bookings/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/v1/cache/clear", "")
	if w.Code != http.StatusOK {
		t.Errorf("clear status = %d", w.Code)
	}
}

func TestSyncTriggerRoutes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/sync/incremental_sync", "")
	if w.Code != http.StatusOK {
		t.Fatalf("incremental status = %d body = %s", w.Code, w.Body.String())
	}
	var res map[string]string
	decodeBody(t, w, &res)
	if res["status"] != "completed" {
		t.Errorf("res = %v", res)
	}

	w = ts.do(t, http.MethodPost, "/v1/sync/cleanup", "")
	if w.Code != http.StatusOK {
		t.Errorf("cleanup status = %d", w.Code)
	}

	// Full refresh is acknowledged, not awaited.
	w = ts.do(t, http.MethodPost, "/v1/sync/full_refresh", "")
	if w.Code != http.StatusAccepted {
		t.Errorf("full refresh status = %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/v1/sync/defrag", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown job status = %d", w.Code)
	}
}

func TestKeyRoutes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/keys", `{"label": "reporting"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", w.Code, w.Body.String())
	}
	var created struct {
		Key  string            `json:"key"`
		Data *staycache.APIKey `json:"data"`
	}
	decodeBody(t, w, &created)
	if !strings.HasPrefix(created.Key, staycache.APIKeyPrefix) {
		t.Errorf("key = %q", created.Key)
	}
	if created.Data.Label != "reporting" {
		t.Errorf("data = %+v", created.Data)
	}

	w = ts.do(t, http.MethodPost, "/v1/keys", `{"label": ""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty label status = %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/v1/keys?active=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var listed struct {
		Data []*staycache.APIKey `json:"data"`
	}
	decodeBody(t, w, &listed)
	if len(listed.Data) != 1 {
		t.Errorf("keys = %d", len(listed.Data))
	}

	w = ts.do(t, http.MethodGet, "/v1/keys/stats", "")
	if w.Code != http.StatusOK {
		t.Errorf("stats status = %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/v1/keys/"+created.Data.ID+"/revoke", "")
	if w.Code != http.StatusOK {
		t.Errorf("revoke status = %d", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/v1/keys/"+created.Data.ID, "")
	if w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/v1/keys/"+created.Data.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("repeat delete status = %d", w.Code)
	}
}

func TestSettingsRoutes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPut, "/v1/settings/sync_interval_seconds", `{"value": "60"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set status = %d body = %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/v1/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var res struct {
		Data map[string]string `json:"data"`
	}
	decodeBody(t, w, &res)
	if res.Data["sync_interval_seconds"] != "60" {
		t.Errorf("interval = %q", res.Data["sync_interval_seconds"])
	}

	w = ts.do(t, http.MethodPut, "/v1/settings/sync_interval_seconds", `{"value": "soon"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad value status = %d", w.Code)
	}
	w = ts.do(t, http.MethodPut, "/v1/settings/no_such_setting", `{"value": "1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown key status = %d", w.Code)
	}
}

func TestLogRoutes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ctx := context.Background()

	if err := ts.store.InsertLogEntries(ctx, []staycache.LogEntry{
		{ID: "a", Time: time.Now().UTC(), Level: staycache.LogError, Message: "boom"},
		{ID: "b", Time: time.Now().UTC(), Level: staycache.LogDebug, Message: "noise"},
	}); err != nil {
		t.Fatal(err)
	}

	w := ts.do(t, http.MethodGet, "/v1/logs?level=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var res struct {
		Data []*staycache.LogEntry `json:"data"`
	}
	decodeBody(t, w, &res)
	if len(res.Data) != 1 || res.Data[0].Message != "boom" {
		t.Errorf("logs = %+v", res.Data)
	}

	w = ts.do(t, http.MethodGet, "/v1/logs?level=9", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad level status = %d", w.Code)
	}

	w = ts.do(t, http.MethodDelete, "/v1/logs", "")
	if w.Code != http.StatusOK {
		t.Errorf("clear status = %d", w.Code)
	}
	entries, _ := ts.store.ListLogEntries(ctx, staycache.LogDebug, 10, 0)
	if len(entries) != 0 {
		t.Errorf("entries after clear = %d", len(entries))
	}
}

func TestTestConnectionRoute(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/test-connection", "")
	if w.Code != http.StatusOK {
		t.Errorf("ok status = %d", w.Code)
	}

	ts.upstream.TestFn = func(context.Context) *staycache.Result {
		return staycache.Failure("upstream credentials not configured")
	}
	w = ts.do(t, http.MethodPost, "/v1/test-connection", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("failure status = %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/healthz", "")
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("response should carry a request id")
	}
}
