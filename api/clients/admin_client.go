package clients

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/ruteri/object-storage-backend/api"
)

// AdminClient calls the storage administration API under /api/admin.
// It authenticates with a bearer token when one is given.
type AdminClient struct {
	transport
}

// NewAdminClient creates a new admin client.
//
// Parameters:
//   - baseURL: The base URL of the API (e.g., "http://localhost:8080")
//   - token: The admin bearer token, empty when the server runs without one
//   - timeout: Request timeout duration (optional, default 30 seconds)
func NewAdminClient(baseURL, token string, timeout ...time.Duration) *AdminClient {
	return &AdminClient{transport: newTransport(baseURL, token, timeout)}
}

// Backends lists every registered backend with its status.
func (c *AdminClient) Backends(ctx context.Context) (*api.BackendsResponse, error) {
	var out api.BackendsResponse
	if err := c.do(ctx, http.MethodGet, "/api/admin/backends", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActiveBackend returns the key of the active backend.
func (c *AdminClient) ActiveBackend(ctx context.Context) (string, error) {
	var out api.ActiveBackendResponse
	if err := c.do(ctx, http.MethodGet, "/api/admin/active", nil, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

// SetActiveBackend switches the active backend and returns the key now active.
func (c *AdminClient) SetActiveBackend(ctx context.Context, key string) (string, error) {
	var out api.ActiveBackendResponse
	if err := c.do(ctx, http.MethodPut, "/api/admin/active", api.ActiveBackendRequest{Key: key}, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

// BackendConfig fetches a stored config. Secret settings come back redacted.
func (c *AdminClient) BackendConfig(ctx context.Context, key string) (*api.BackendConfig, error) {
	var out api.BackendConfig
	if err := c.do(ctx, http.MethodGet, backendPath(key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveBackendConfig creates or replaces the config of cfg.Key.
func (c *AdminClient) SaveBackendConfig(ctx context.Context, cfg api.BackendConfig) (*api.BackendConfig, error) {
	var out api.BackendConfig
	if err := c.do(ctx, http.MethodPut, backendPath(cfg.Key), cfg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSettings merges settings into a stored config; blank values remove a
// setting.
func (c *AdminClient) UpdateSettings(ctx context.Context, key string, settings map[string]string) (*api.BackendConfig, error) {
	var out api.BackendConfig
	in := api.UpdateSettingsRequest{Settings: settings}
	if err := c.do(ctx, http.MethodPatch, backendPath(key)+"/settings", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteBackendConfig reports whether a config existed.
func (c *AdminClient) DeleteBackendConfig(ctx context.Context, key string) (bool, error) {
	var out api.DeleteResponse
	if err := c.do(ctx, http.MethodDelete, backendPath(key), nil, &out); err != nil {
		return false, err
	}
	return out.Deleted, nil
}

func (c *AdminClient) ClearCache(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/admin/cache/clear", nil, nil)
}

func backendPath(key string) string {
	return "/api/admin/backends/" + url.PathEscape(key)
}
