// Package settings exposes typed accessors over the dynamic settings table.
// Every accessor reads the store on each call so concurrent writers (admin
// endpoints, another process sharing the database) take effect immediately;
// nothing here is cached.
package settings

import (
	"context"
	"fmt"
	"strconv"

	staycache "github.com/harborview/staycache/internal"
	"github.com/harborview/staycache/internal/storage"
)

// Setting keys. Values are stored as strings and parsed on read.
const (
	KeyCachingEnabled    = "caching_enabled"
	KeyAllowUnknownRelay = "allow_unknown_relay"
	KeySyncInterval      = "sync_interval_seconds"
	KeyFutureDays        = "retention_future_days"
	KeyPastDays          = "retention_past_days"
	KeyCancelledDays     = "retention_cancelled_days"
	KeyLogLevel          = "log_level"
	KeyMaxLogEntries     = "max_log_entries"
	KeyUpstreamUsername  = "upstream_username"
	KeyUpstreamPassword  = "upstream_password"
	KeyUpstreamAPIKey    = "upstream_api_key"
	KeyUpstreamRegion    = "upstream_region"
)

// Defaults applied when a key is absent.
const (
	DefaultSyncInterval  = 20
	DefaultFutureDays    = 365
	DefaultPastDays      = 30
	DefaultCancelledDays = 30
	DefaultLogLevel      = staycache.LogError
	DefaultMaxLogEntries = 1000

	// Sync interval bounds. Below 10s the upstream rate limits; above 300s
	// the delta window grows past what a single incremental pass covers.
	MinSyncInterval = 10
	MaxSyncInterval = 300
)

// Service reads and writes dynamic settings.
type Service struct {
	store storage.SettingStore
}

// New returns a Service backed by store.
func New(store storage.SettingStore) *Service {
	return &Service{store: store}
}

// CachingEnabled reports whether the gateway serves from cache. Defaults to
// true; when false every request relays upstream.
func (s *Service) CachingEnabled(ctx context.Context) bool {
	return s.boolSetting(ctx, KeyCachingEnabled, true)
}

// AllowUnknownRelay reports whether unknown actions are relayed upstream
// instead of denied. Defaults to false.
func (s *Service) AllowUnknownRelay(ctx context.Context) bool {
	return s.boolSetting(ctx, KeyAllowUnknownRelay, false)
}

// SyncInterval returns the incremental sync interval in seconds, clamped to
// [MinSyncInterval, MaxSyncInterval].
func (s *Service) SyncInterval(ctx context.Context) int {
	v := s.intSetting(ctx, KeySyncInterval, DefaultSyncInterval)
	if v < MinSyncInterval {
		return MinSyncInterval
	}
	if v > MaxSyncInterval {
		return MaxSyncInterval
	}
	return v
}

// Retention returns the configured retention window.
func (s *Service) Retention(ctx context.Context) staycache.RetentionPolicy {
	return staycache.RetentionPolicy{
		FutureDays:    s.intSetting(ctx, KeyFutureDays, DefaultFutureDays),
		PastDays:      s.intSetting(ctx, KeyPastDays, DefaultPastDays),
		CancelledDays: s.intSetting(ctx, KeyCancelledDays, DefaultCancelledDays),
	}
}

// LogLevel returns the persisted-log severity threshold.
func (s *Service) LogLevel(ctx context.Context) int {
	v := s.intSetting(ctx, KeyLogLevel, DefaultLogLevel)
	if v < staycache.LogOff || v > staycache.LogDebug {
		return DefaultLogLevel
	}
	return v
}

// MaxLogEntries returns the number of persisted log rows to keep.
func (s *Service) MaxLogEntries(ctx context.Context) int {
	v := s.intSetting(ctx, KeyMaxLogEntries, DefaultMaxLogEntries)
	if v < 0 {
		return DefaultMaxLogEntries
	}
	return v
}

// Credentials returns the upstream credentials as currently stored.
func (s *Service) Credentials(ctx context.Context) staycache.Credentials {
	return staycache.Credentials{
		Username: s.strSetting(ctx, KeyUpstreamUsername, ""),
		Password: s.strSetting(ctx, KeyUpstreamPassword, ""),
		APIKey:   s.strSetting(ctx, KeyUpstreamAPIKey, ""),
		Region:   s.strSetting(ctx, KeyUpstreamRegion, ""),
	}
}

// Set validates and stores a single setting.
func (s *Service) Set(ctx context.Context, key, value string) error {
	switch key {
	case KeyCachingEnabled, KeyAllowUnknownRelay:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%w: %s must be a boolean", staycache.ErrBadRequest, key)
		}
	case KeySyncInterval, KeyFutureDays, KeyPastDays, KeyCancelledDays,
		KeyLogLevel, KeyMaxLogEntries:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("%w: %s must be an integer", staycache.ErrBadRequest, key)
		}
	case KeyUpstreamUsername, KeyUpstreamPassword, KeyUpstreamAPIKey, KeyUpstreamRegion:
		// free-form
	default:
		return fmt.Errorf("%w: unknown setting %q", staycache.ErrBadRequest, key)
	}
	return s.store.SetSetting(ctx, key, value)
}

// Snapshot returns every known setting with defaults filled in. Credential
// values are redacted to presence markers.
func (s *Service) Snapshot(ctx context.Context) map[string]string {
	redact := func(v string) string {
		if v == "" {
			return ""
		}
		return "(set)"
	}
	creds := s.Credentials(ctx)
	ret := s.Retention(ctx)
	return map[string]string{
		KeyCachingEnabled:    strconv.FormatBool(s.CachingEnabled(ctx)),
		KeyAllowUnknownRelay: strconv.FormatBool(s.AllowUnknownRelay(ctx)),
		KeySyncInterval:      strconv.Itoa(s.SyncInterval(ctx)),
		KeyFutureDays:        strconv.Itoa(ret.FutureDays),
		KeyPastDays:          strconv.Itoa(ret.PastDays),
		KeyCancelledDays:     strconv.Itoa(ret.CancelledDays),
		KeyLogLevel:          strconv.Itoa(s.LogLevel(ctx)),
		KeyMaxLogEntries:     strconv.Itoa(s.MaxLogEntries(ctx)),
		KeyUpstreamUsername:  creds.Username,
		KeyUpstreamPassword:  redact(creds.Password),
		KeyUpstreamAPIKey:    redact(creds.APIKey),
		KeyUpstreamRegion:    creds.Region,
	}
}

func (s *Service) strSetting(ctx context.Context, key, fallback string) string {
	v, ok, err := s.store.Setting(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	return v
}

func (s *Service) boolSetting(ctx context.Context, key string, fallback bool) bool {
	v, ok, err := s.store.Setting(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func (s *Service) intSetting(ctx context.Context, key string, fallback int) int {
	v, ok, err := s.store.Setting(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
