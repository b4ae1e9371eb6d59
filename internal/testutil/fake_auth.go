package testutil

import (
	"context"
	"net/http"

	staycache "github.com/harborview/staycache/internal"
)

// FakeAuth always authenticates successfully.
type FakeAuth struct{}

// Authenticate returns a fixed test caller.
func (FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*staycache.Caller, error) {
	return &staycache.Caller{
		ClientType: "api_key",
		User:       "test",
		KeyID:      "test-key",
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*staycache.Caller, error) {
	return nil, staycache.ErrUnauthorized
}
