// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"sync"

	staycache "github.com/harborview/staycache/internal"
)

// FakeUpstream is a configurable upstream client for testing. It records
// every call so tests can assert on what reached the wire.
type FakeUpstream struct {
	CallFn func(ctx context.Context, action string, params staycache.Params) *staycache.Result
	TestFn func(ctx context.Context) *staycache.Result

	mu    sync.Mutex
	calls []UpstreamCall
}

// UpstreamCall captures one Call invocation.
type UpstreamCall struct {
	Action string
	Params staycache.Params
}

// Call delegates to CallFn or returns an empty success.
func (f *FakeUpstream) Call(ctx context.Context, action string, params staycache.Params) *staycache.Result {
	f.mu.Lock()
	f.calls = append(f.calls, UpstreamCall{Action: action, Params: params})
	f.mu.Unlock()
	if f.CallFn != nil {
		return f.CallFn(ctx, action, params)
	}
	return staycache.OK(nil)
}

// TestConnection delegates to TestFn or returns an empty success.
func (f *FakeUpstream) TestConnection(ctx context.Context) *staycache.Result {
	if f.TestFn != nil {
		return f.TestFn(ctx)
	}
	return staycache.OK(nil)
}

// Calls returns a copy of the recorded calls.
func (f *FakeUpstream) Calls() []UpstreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]UpstreamCall, len(f.calls))
	copy(out, f.calls)
	return out
}
