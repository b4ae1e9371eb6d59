package config

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	staycache "github.com/harborview/staycache/internal"
	"github.com/harborview/staycache/internal/settings"
	"github.com/harborview/staycache/internal/storage"
)

// Bootstrap seeds the database from the config file on first run. Existing
// settings and keys are never overwritten: the database is the source of
// truth once populated, the file only provides initial values.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	seed := map[string]string{
		settings.KeySyncInterval:     strconv.Itoa(cfg.Sync.IntervalSeconds),
		settings.KeyFutureDays:       strconv.Itoa(cfg.Sync.FutureDays),
		settings.KeyPastDays:         strconv.Itoa(cfg.Sync.PastDays),
		settings.KeyCancelledDays:    strconv.Itoa(cfg.Sync.CancelledDays),
		settings.KeyUpstreamUsername: cfg.Upstream.Username,
		settings.KeyUpstreamPassword: cfg.Upstream.Password,
		settings.KeyUpstreamAPIKey:   cfg.Upstream.APIKey,
		settings.KeyUpstreamRegion:   cfg.Upstream.Region,
	}
	for key, value := range seed {
		if value == "" || value == "0" {
			continue
		}
		if _, ok, err := store.Setting(ctx, key); err != nil {
			return err
		} else if ok {
			continue
		}
		if err := store.SetSetting(ctx, key, value); err != nil {
			return err
		}
	}

	for _, k := range cfg.Keys {
		if k.Key == "" {
			continue
		}
		hash := staycache.HashKey(k.Key)

		if existing, _ := store.GetKeyByHash(ctx, hash); existing != nil {
			continue
		}

		key := &staycache.APIKey{
			ID:        uuid.Must(uuid.NewV7()).String(),
			KeyHash:   hash,
			Label:     k.Label,
			CreatedAt: time.Now().UTC(),
			Active:    true,
		}
		if err := store.CreateKey(ctx, key); err != nil {
			return err
		}
		slog.Info("bootstrapped api key", "label", k.Label)
	}

	return nil
}
