// Package auth implements API key authentication for the staycache gateway.
// Keys are validated against the store and cached in a W-TinyLFU cache.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	staycache "github.com/harborview/staycache/internal"
	"github.com/harborview/staycache/internal/storage"
)

const (
	cacheTTL    = 30 * time.Second // short enough to pick up key revocations promptly
	cacheMaxLen = 1_000            // max concurrent active keys expected per deployment
)

// APIKeyAuth authenticates requests using API keys with the "sc_" prefix.
// It caches resolved keys in an otter W-TinyLFU cache for fast lookups.
type APIKeyAuth struct {
	store       storage.APIKeyStore
	cache       *otter.Cache[string, *staycache.APIKey]
	keyIDToHash sync.Map // keyID -> hash for cache invalidation by key ID
}

// NewAPIKeyAuth returns a new APIKeyAuth backed by store.
func NewAPIKeyAuth(store storage.APIKeyStore) (*APIKeyAuth, error) {
	c, err := otter.New(&otter.Options[string, *staycache.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *staycache.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &APIKeyAuth{store: store, cache: c}, nil
}

// Authenticate extracts a Bearer token from the Authorization header,
// validates it against the store, and returns the key's identity. Only keys
// with the "sc_" prefix are handled; all others return ErrUnauthorized.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request) (*staycache.Caller, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		return nil, staycache.ErrUnauthorized
	}

	if !strings.HasPrefix(raw, staycache.APIKeyPrefix) {
		return nil, staycache.ErrUnauthorized
	}

	hash := staycache.HashKey(raw)

	if key, ok := a.cache.GetIfPresent(hash); ok {
		if !key.Active {
			return nil, staycache.ErrKeyRevoked
		}
		return buildCaller(key), nil
	}

	key, err := a.store.GetKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, staycache.ErrNotFound) {
			return nil, staycache.ErrUnauthorized
		}
		return nil, err
	}

	// The DB lookup already matched; the constant-time comparison guards
	// against collation or encoding surprises in the hash column.
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, staycache.ErrUnauthorized
	}

	if !key.Active {
		return nil, staycache.ErrKeyRevoked
	}

	a.cache.Set(hash, key)
	a.keyIDToHash.Store(key.ID, hash)

	// Touch usage asynchronously; never on the request path.
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.store.TouchKeyUsage(ctx, key.ID) //nolint:errcheck
	}()

	return buildCaller(key), nil
}

// InvalidateByKeyID removes a cached API key by its key ID. Used when admin
// operations (revoke, delete) modify a key.
func (a *APIKeyAuth) InvalidateByKeyID(keyID string) {
	if hash, ok := a.keyIDToHash.LoadAndDelete(keyID); ok {
		a.cache.Invalidate(hash.(string))
	}
}

func buildCaller(key *staycache.APIKey) *staycache.Caller {
	return &staycache.Caller{
		ClientType: "api_key",
		User:       key.Label,
		KeyID:      key.ID,
	}
}
