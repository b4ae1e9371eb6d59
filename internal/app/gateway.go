// Package app implements application-level services for the staycache
// booking gateway: the caching request router, cache statistics, and API
// key lifecycle.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	staycache "github.com/harborview/staycache/internal"
	"github.com/harborview/staycache/internal/cache"
	"github.com/harborview/staycache/internal/freshness"
	"github.com/harborview/staycache/internal/settings"
	"github.com/harborview/staycache/internal/storage"
	"github.com/harborview/staycache/internal/telemetry"
	"github.com/harborview/staycache/internal/upstream"
)

// ParamForceRefresh, when truthy in the parameter bag, bypasses the cache
// for this request and repopulates it from upstream.
const ParamForceRefresh = "_force_refresh"

// sitesCacheKey and TTL for the upstream site list, which changes rarely.
const (
	sitesCacheKey = "sites_list"
	sitesCacheTTL = 24 * time.Hour
)

// Upstream is the slice of the upstream client the gateway needs.
type Upstream interface {
	Call(ctx context.Context, action string, params staycache.Params) *staycache.Result
	TestConnection(ctx context.Context) *staycache.Result
}

// Gateway routes booking API actions through the cache. Known actions are
// answered from the record store when possible; unknown actions are audited
// and denied unless relay is enabled.
type Gateway struct {
	store    storage.Store
	upstream Upstream
	settings *settings.Service
	sites    cache.Cache
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewGateway wires a Gateway. metrics may be nil in tests.
func NewGateway(store storage.Store, up Upstream, cfg *settings.Service, sites cache.Cache, metrics *telemetry.Metrics) *Gateway {
	if metrics == nil {
		metrics = telemetry.NewMetrics(prometheus.NewRegistry())
	}
	return &Gateway{
		store:    store,
		upstream: up,
		settings: cfg,
		sites:    sites,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Handle processes one gateway action. The result is always non-nil;
// failures are values carried in Result, never panics.
func (g *Gateway) Handle(ctx context.Context, action string, params staycache.Params) *staycache.Result {
	if params == nil {
		params = staycache.Params{}
	}

	if !g.settings.CachingEnabled(ctx) {
		return g.relay(ctx, action, params)
	}

	force := truthyParam(params[ParamForceRefresh])
	delete(params, ParamForceRefresh)

	switch action {
	case staycache.ActionBookingsList:
		return g.bookingsList(ctx, params, force)
	case staycache.ActionBookingsGet:
		return g.bookingsGet(ctx, params, force)
	case staycache.ActionSitesList:
		return g.sitesList(ctx, params, force)
	default:
		return g.unknownAction(ctx, action, params)
	}
}

// bookingsList answers a windowed booking query from the store, falling
// back to upstream when the window cannot be trusted.
func (g *Gateway) bookingsList(ctx context.Context, params staycache.Params, force bool) *staycache.Result {
	listType := stringParam(params, "list_type", staycache.ListStaying)
	from := stringParam(params, "period_from", "")
	to := stringParam(params, "period_to", "")

	// The all list type is a change feed, not a point-in-time view; it is
	// only meaningful straight from upstream.
	if listType == staycache.ListAll {
		res := g.relay(ctx, staycache.ActionBookingsList, params)
		if res.Success {
			g.persistRecords(ctx, res.Records)
		}
		return res
	}

	if _, err := time.Parse(staycache.DateFormat, from); err != nil {
		return staycache.Failure("period_from must be a YYYY-MM-DD date")
	}
	if _, err := time.Parse(staycache.DateFormat, to); err != nil {
		return staycache.Failure("period_to must be a YYYY-MM-DD date")
	}
	if to < from {
		return staycache.Failure("period_to must not precede period_from")
	}

	if !force {
		records, err := g.lookupWindow(ctx, listType, from, to)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "cache window lookup failed",
				slog.String("list_type", listType),
				slog.String("error", err.Error()),
			)
		} else if len(records) > 0 {
			g.metrics.CacheHits.WithLabelValues(staycache.ActionBookingsList).Inc()
			return cacheHit(payloads(records))
		} else if g.emptyWindowTrustworthy(ctx, from, to) {
			g.metrics.CacheHits.WithLabelValues(staycache.ActionBookingsList).Inc()
			return cacheHit(nil)
		}
	}

	g.metrics.CacheMisses.WithLabelValues(staycache.ActionBookingsList).Inc()
	res := g.relay(ctx, staycache.ActionBookingsList, params)
	if res.Success {
		g.persistRecords(ctx, res.Records)
	}
	return res
}

// bookingsGet answers a single-booking fetch by ID.
func (g *Gateway) bookingsGet(ctx context.Context, params staycache.Params, force bool) *staycache.Result {
	id, ok := int64Param(params, "booking_id")
	if !ok || id <= 0 {
		return staycache.Failure("booking_id must be a positive integer")
	}

	if !force {
		rec, err := g.store.GetBooking(ctx, id)
		if err == nil {
			g.metrics.CacheHits.WithLabelValues(staycache.ActionBookingsGet).Inc()
			return cacheHit([]json.RawMessage{rec.Payload})
		}
	}

	g.metrics.CacheMisses.WithLabelValues(staycache.ActionBookingsGet).Inc()
	res := g.relay(ctx, staycache.ActionBookingsGet, params)
	if res.Success {
		g.persistRecords(ctx, res.Records)
	}
	return res
}

// sitesList serves the site list from the in-process reference cache.
func (g *Gateway) sitesList(ctx context.Context, params staycache.Params, force bool) *staycache.Result {
	if !force {
		if blob, ok := g.sites.Get(ctx, sitesCacheKey); ok {
			var records []json.RawMessage
			if err := json.Unmarshal(blob, &records); err == nil {
				g.metrics.CacheHits.WithLabelValues(staycache.ActionSitesList).Inc()
				return cacheHit(records)
			}
			g.sites.Delete(ctx, sitesCacheKey)
		}
	}

	g.metrics.CacheMisses.WithLabelValues(staycache.ActionSitesList).Inc()
	res := g.relay(ctx, staycache.ActionSitesList, params)
	if res.Success {
		if blob, err := json.Marshal(res.Records); err == nil {
			g.sites.Set(ctx, sitesCacheKey, blob, sitesCacheTTL)
		}
	}
	return res
}

// unknownAction records the request for review and either relays it or
// denies it, depending on configuration. Denial is the default.
func (g *Gateway) unknownAction(ctx context.Context, action string, params staycache.Params) *staycache.Result {
	g.metrics.UnknownActions.Inc()
	g.audit(ctx, action, params)

	if g.settings.AllowUnknownRelay(ctx) {
		return g.relay(ctx, action, params)
	}
	return staycache.Failuref(
		"action %q is not cached by this gateway; supported actions are %s, %s and %s",
		action, staycache.ActionBookingsList, staycache.ActionBookingsGet, staycache.ActionSitesList)
}

func (g *Gateway) audit(ctx context.Context, action string, params staycache.Params) {
	var caller string
	if c := staycache.CallerFromContext(ctx); c != nil {
		caller = c.Describe()
	}
	safe, _ := json.Marshal(upstream.SafeParams(params))
	req := &staycache.UncachedRequest{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Action:    action,
		Params:    string(safe),
		Caller:    caller,
		CreatedAt: g.now().UTC(),
	}
	if err := g.store.InsertUncachedRequest(ctx, req); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "audit insert failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

// relay forwards an action to the upstream client with timing metrics.
func (g *Gateway) relay(ctx context.Context, action string, params staycache.Params) *staycache.Result {
	start := g.now()
	res := g.upstream.Call(ctx, action, params)
	g.metrics.UpstreamDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	if !res.Success {
		g.metrics.UpstreamErrors.WithLabelValues(action).Inc()
	}
	return res
}

func (g *Gateway) lookupWindow(ctx context.Context, listType, from, to string) ([]*staycache.Record, error) {
	switch listType {
	case staycache.ListStaying:
		return g.store.BookingsByStay(ctx, from, to)
	case staycache.ListPlaced:
		fromT, toT := dayBounds(from, to)
		return g.store.BookingsByPlaced(ctx, fromT, toT)
	case staycache.ListCancelled:
		fromT, toT := dayBounds(from, to)
		return g.store.BookingsByCancelled(ctx, fromT, toT)
	}
	return nil, fmt.Errorf("%w: unknown list_type %q", staycache.ErrBadRequest, listType)
}

// emptyWindowTrustworthy checks whether an empty window result can be
// served without consulting upstream.
func (g *Gateway) emptyWindowTrustworthy(ctx context.Context, from, to string) bool {
	cp, err := g.store.Checkpoints(ctx)
	if err != nil {
		return false
	}
	return freshness.TrustworthyEmpty(g.now(), from, to, g.settings.Retention(ctx), cp)
}

// persistRecords writes upstream records into the store. Persistence
// failures degrade the cache, not the response, so they are logged and
// swallowed.
func (g *Gateway) persistRecords(ctx context.Context, records []json.RawMessage) {
	now := g.now()
	for _, raw := range records {
		rec, err := staycache.RecordFromPayload(raw, now)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelDebug, "skipping unparseable upstream record",
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := g.store.UpsertBooking(ctx, rec); err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "booking persist failed",
				slog.Int64("booking_id", rec.BookingID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func cacheHit(records []json.RawMessage) *staycache.Result {
	res := staycache.OK(records)
	res.CacheHit = true
	return res
}

func payloads(records []*staycache.Record) []json.RawMessage {
	out := make([]json.RawMessage, len(records))
	for i, rec := range records {
		out[i] = rec.Payload
	}
	return out
}

// dayBounds widens a date pair into an inclusive timestamp range covering
// both whole days.
func dayBounds(from, to string) (time.Time, time.Time) {
	fromT, _ := time.Parse(staycache.DateFormat, from)
	toT, _ := time.Parse(staycache.DateFormat, to)
	return fromT, toT.Add(24*time.Hour - time.Second)
}

func stringParam(params staycache.Params, key, fallback string) string {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return fallback
	}
	return s
}

func int64Param(params staycache.Params, key string) (int64, bool) {
	switch v := params[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func truthyParam(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	case float64:
		return t != 0
	}
	return false
}
