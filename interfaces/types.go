package interfaces

import (
	"context"
	"strings"
	"time"
)

// Setting names understood by the bundled backends.
const (
	SettingBasePath      = "basePath"
	SettingPrefix        = "prefix"
	SettingEndpoint      = "endpoint"
	SettingRegion        = "region"
	SettingBucket        = "bucket"
	SettingAccessKey     = "accessKey"
	SettingSecretKey     = "secretKey"
	SettingUseSSL        = "useSSL"
	SettingPathStyle     = "pathStyle"
	SettingPublicBaseURL = "publicBaseUrl"
	SettingCreateBucket  = "createBucket"
	SettingACL           = "acl"
	SettingAddress       = "address"
	SettingToken         = "token"
	SettingMount         = "mount"
	SettingRoot          = "root"
	SettingPublicRead    = "publicRead"
	SettingDriver        = "driver"
	SettingTimeout       = "timeout"
)

// BackendConfig is the persisted configuration of one storage backend.
// By convention at most one config is enabled at a time; the enabled one is the
// active backend.
type BackendConfig struct {
	Key                  string            `json:"key"`
	DisplayName          string            `json:"display_name"`
	Settings             map[string]string `json:"settings"`
	Enabled              bool              `json:"enabled"`
	MaxFileSize          int64             `json:"max_file_size"`
	DefaultExpirySeconds int64             `json:"default_expiry_seconds"`
	PublicBaseURL        string            `json:"public_base_url"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// Setting returns the trimmed value of a setting, or def when absent or blank.
func (c *BackendConfig) Setting(name, def string) string {
	if c == nil {
		return def
	}
	v := strings.TrimSpace(c.Settings[name])
	if v == "" {
		return def
	}
	return v
}

// SettingBool interprets a setting as a boolean flag.
func (c *BackendConfig) SettingBool(name string, def bool) bool {
	switch strings.ToLower(c.Setting(name, "")) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return def
	}
}

// DefaultExpiry returns the configured default URL lifetime.
func (c *BackendConfig) DefaultExpiry() time.Duration {
	if c == nil || c.DefaultExpirySeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.DefaultExpirySeconds) * time.Second
}

// Clone returns a deep copy so cached values can be handed out safely.
func (c *BackendConfig) Clone() *BackendConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Settings = make(map[string]string, len(c.Settings))
	for k, v := range c.Settings {
		out.Settings[k] = v
	}
	return &out
}

// ConfigStore persists backend configurations. Deleted rows are never returned.
type ConfigStore interface {
	// FindByKey returns the config for key or ErrNotFound.
	FindByKey(ctx context.Context, key string) (*BackendConfig, error)

	// FindEnabled returns every enabled config, oldest first.
	FindEnabled(ctx context.Context) ([]BackendConfig, error)

	// List returns every config ordered by key.
	List(ctx context.Context) ([]BackendConfig, error)

	// Save creates or replaces the config identified by cfg.Key.
	Save(ctx context.Context, cfg *BackendConfig) error

	// UpdateSettings merges settings into the stored ones; blank values remove
	// a setting. Returns ErrNotFound when no config exists for key.
	UpdateSettings(ctx context.Context, key string, settings map[string]string) (*BackendConfig, error)

	// Enable marks key enabled and every other config disabled.
	Enable(ctx context.Context, key string) error

	// Delete soft-deletes the config and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
}

// ConfigProvider serves backend configuration to strategies.
type ConfigProvider interface {
	// Config returns a copy of the config for key or ErrNotFound.
	Config(ctx context.Context, key string) (*BackendConfig, error)

	// Property returns settings[prop] of key, or def when absent or blank.
	Property(ctx context.Context, key, prop, def string) string

	// PublicBaseURL returns the base URL public object URLs are built from.
	PublicBaseURL(ctx context.Context, key string) string

	// ActiveKey returns the currently selected backend key.
	ActiveKey() string
}

// Invalidation is published whenever backend configuration changes.
type Invalidation struct {
	// Key is the affected backend; empty means every backend.
	Key string
	// ActiveKey is the active backend after the change.
	ActiveKey string
	// ActiveChanged reports whether the active backend switched.
	ActiveChanged bool
}
