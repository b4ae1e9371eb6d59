// Package upstream implements the client for the remote booking API. Every
// action is a POST of a JSON body to {baseURL}/{action} with basic auth;
// the account API key and region ride inside the body per the upstream
// contract. Failures come back as Result values, never as panics.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"

	staycache "github.com/harborview/staycache/internal"
)

const (
	defaultTimeout    = 30 * time.Second
	maxResponseSize   = 32 << 20 // 32MB, full-refresh chunks can be large
	actionInstancesID = "instances_get"
)

// safeParamKeys are the only parameter keys that may appear in logs and
// audit rows. Everything else is dropped, not masked, so new sensitive
// fields stay safe by default.
var safeParamKeys = map[string]struct{}{
	"list_type":   {},
	"period_from": {},
	"period_to":   {},
	"booking_id":  {},
	"limit":       {},
	"offset":      {},
}

// SafeParams returns the subset of params that is safe to log or audit.
func SafeParams(params staycache.Params) staycache.Params {
	out := staycache.Params{}
	for k, v := range params {
		if _, ok := safeParamKeys[k]; ok {
			out[k] = v
		}
	}
	return out
}

// CredentialSource supplies upstream credentials per call. Reading per call
// means credential changes take effect without a restart.
type CredentialSource interface {
	Credentials(ctx context.Context) staycache.Credentials
}

// Client calls the upstream booking API.
type Client struct {
	baseURL string
	creds   CredentialSource
	http    *http.Client
}

// New creates a Client for the given base URL. If resolver is non-nil, it
// wraps the transport's DialContext with cached DNS lookups.
func New(baseURL string, creds CredentialSource, resolver *dnscache.Resolver) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http: &http.Client{
			Transport: NewTransport(resolver),
			Timeout:   defaultTimeout,
		},
	}
}

// Call performs one upstream action. The outcome is always a Result: a
// transport error or upstream rejection yields Success=false with a message
// and never an error return, so callers handle one shape.
func (c *Client) Call(ctx context.Context, action string, params staycache.Params) *staycache.Result {
	creds := c.creds.Credentials(ctx)
	if !creds.Configured() {
		return staycache.Failure("upstream credentials not configured")
	}

	body := make(map[string]any, len(params)+2)
	for k, v := range params {
		body[k] = v
	}
	body["api_key"] = creds.APIKey
	if creds.Region != "" {
		body["region"] = creds.Region
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return staycache.Failuref("encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+action, bytes.NewReader(payload))
	if err != nil {
		return staycache.Failuref("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(creds.Username, creds.Password)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "upstream call failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return staycache.Failuref("upstream unreachable: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return staycache.Failuref("read response: %v", err)
	}

	slog.LogAttrs(ctx, slog.LevelDebug, "upstream call",
		slog.String("action", action),
		slog.Any("params", SafeParams(params)),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res := staycache.Failuref("upstream returned HTTP %d: %s",
			resp.StatusCode, errorMessage(raw))
		res.HTTPStatus = resp.StatusCode
		return res
	}
	return parseResponse(raw)
}

// TestConnection performs a minimal authenticated call and reports whether
// the upstream accepted the credentials.
func (c *Client) TestConnection(ctx context.Context) *staycache.Result {
	return c.Call(ctx, actionInstancesID, staycache.Params{})
}

// parseResponse normalizes an upstream 2xx body. The data field can be a
// single object, an array, or a keyed map of objects; all become a flat
// record list.
func parseResponse(raw []byte) *staycache.Result {
	if !gjson.ValidBytes(raw) {
		return staycache.Failure("upstream returned invalid JSON")
	}
	doc := gjson.ParseBytes(raw)

	if success := doc.Get("success"); success.Exists() && !truthy(success) {
		res := staycache.Failure(errorMessage(raw))
		if code := doc.Get("http_code"); code.Exists() {
			res.HTTPStatus = int(code.Int())
		}
		return res
	}

	data := doc.Get("data")
	if !data.Exists() {
		return staycache.OK(nil)
	}

	var records []json.RawMessage
	switch {
	case data.IsArray():
		data.ForEach(func(_, v gjson.Result) bool {
			records = append(records, json.RawMessage(v.Raw))
			return true
		})
	case data.IsObject():
		// Keyed maps of records have numeric-string keys; a plain object
		// with a booking_id is a single record.
		if data.Get("booking_id").Exists() {
			records = append(records, json.RawMessage(data.Raw))
		} else {
			data.ForEach(func(_, v gjson.Result) bool {
				if v.IsObject() {
					records = append(records, json.RawMessage(v.Raw))
				}
				return true
			})
		}
	default:
		return staycache.Failuref("upstream data has unexpected type %s", data.Type)
	}
	return staycache.OK(records)
}

// errorMessage digs the human-readable failure text out of an upstream body.
func errorMessage(raw []byte) string {
	doc := gjson.ParseBytes(raw)
	for _, path := range []string{"message", "error", "error_message"} {
		if v := doc.Get(path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return "upstream request failed"
}

func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.String:
		return v.String() == "true" || v.String() == "1"
	case gjson.Number:
		return v.Int() != 0
	}
	return false
}
