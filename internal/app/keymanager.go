package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	staycache "github.com/harborview/staycache/internal"
	"github.com/harborview/staycache/internal/storage"
)

// KeyManager handles API key lifecycle.
type KeyManager struct {
	store storage.APIKeyStore
}

// NewKeyManager returns a KeyManager backed by store.
func NewKeyManager(store storage.APIKeyStore) *KeyManager {
	return &KeyManager{store: store}
}

// CreateKey generates a new API key, stores its hash, and returns the
// plaintext (shown once) along with the persisted record.
func (km *KeyManager) CreateKey(ctx context.Context, label string) (string, *staycache.APIKey, error) {
	if label == "" {
		return "", nil, fmt.Errorf("%w: key label is required", staycache.ErrBadRequest)
	}

	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	plaintext := staycache.APIKeyPrefix + hex.EncodeToString(raw)

	key := &staycache.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		KeyHash:   staycache.HashKey(plaintext),
		Label:     label,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}
	if err := km.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// ListKeys returns all keys, or only active ones.
func (km *KeyManager) ListKeys(ctx context.Context, activeOnly bool) ([]*staycache.APIKey, error) {
	return km.store.ListKeys(ctx, activeOnly)
}

// RevokeKey deactivates a key, keeping its usage history.
func (km *KeyManager) RevokeKey(ctx context.Context, id string) error {
	return km.store.RevokeKey(ctx, id)
}

// DeleteKey removes a key entirely.
func (km *KeyManager) DeleteKey(ctx context.Context, id string) error {
	return km.store.DeleteKey(ctx, id)
}

// Stats summarizes key usage.
func (km *KeyManager) Stats(ctx context.Context) (*staycache.KeyStats, error) {
	return km.store.KeyStats(ctx)
}
