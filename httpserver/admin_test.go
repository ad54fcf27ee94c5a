package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ruteri/object-storage-backend/api"
	"github.com/ruteri/object-storage-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminRequest(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+"/api/admin"+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAdminRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong token", "Bearer nope"},
		{"wrong scheme", "Basic " + testAdminToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/admin/active", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestAdminListBackends(t *testing.T) {
	ts := newTestServer(t)

	resp := adminRequest(t, ts, http.MethodGet, "/backends", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[api.BackendsResponse](t, resp)

	assert.Equal(t, interfaces.DefaultBackendKey, out.Active)
	keys := make([]string, 0, len(out.Backends))
	for _, b := range out.Backends {
		keys = append(keys, b.Key)
		if b.Key == interfaces.DefaultBackendKey {
			assert.True(t, b.Active)
			assert.True(t, b.Configured)
			assert.True(t, b.Enabled)
			assert.True(t, b.Available)
			assert.Equal(t, "Local disk", b.Name)
		}
	}
	assert.Equal(t, []string{"ipfs", "local", "minio", "s3", "vault"}, keys)
}

func TestAdminConfigLifecycle(t *testing.T) {
	ts := newTestServer(t)

	saved := adminRequest(t, ts, http.MethodPut, "/backends/archive", api.BackendConfig{
		DisplayName: "Archive bucket",
		Settings: map[string]string{
			interfaces.SettingDriver:    "s3",
			interfaces.SettingBucket:    "archive",
			interfaces.SettingRegion:    "eu-west-1",
			interfaces.SettingSecretKey: "hidden",
		},
	})
	require.Equal(t, http.StatusOK, saved.StatusCode)
	cfg := decodeBody[api.BackendConfig](t, saved)
	assert.Equal(t, "archive", cfg.Key)
	assert.Equal(t, redactedValue, cfg.Settings[interfaces.SettingSecretKey])
	assert.False(t, cfg.Enabled)

	patched := adminRequest(t, ts, http.MethodPatch, "/backends/archive/settings", api.UpdateSettingsRequest{
		Settings: map[string]string{interfaces.SettingRegion: "us-east-1", interfaces.SettingBucket: ""},
	})
	require.Equal(t, http.StatusOK, patched.StatusCode)
	cfg = decodeBody[api.BackendConfig](t, patched)
	assert.Equal(t, "us-east-1", cfg.Settings[interfaces.SettingRegion])
	assert.NotContains(t, cfg.Settings, interfaces.SettingBucket)

	got := adminRequest(t, ts, http.MethodGet, "/backends/archive", nil)
	require.Equal(t, http.StatusOK, got.StatusCode)
	cfg = decodeBody[api.BackendConfig](t, got)
	assert.Equal(t, "us-east-1", cfg.Settings[interfaces.SettingRegion])

	deleted := adminRequest(t, ts, http.MethodDelete, "/backends/archive", nil)
	require.Equal(t, http.StatusOK, deleted.StatusCode)
	assert.True(t, decodeBody[api.DeleteResponse](t, deleted).Deleted)

	missing := adminRequest(t, ts, http.MethodGet, "/backends/archive", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAdminSecretsSurviveRoundTrip(t *testing.T) {
	ts, repo := newTestServerWithRepo(t)
	ctx := context.Background()

	resp := adminRequest(t, ts, http.MethodPut, "/backends/minio", api.BackendConfig{
		DisplayName: "MinIO",
		Settings: map[string]string{
			interfaces.SettingEndpoint:  "localhost:9000",
			interfaces.SettingAccessKey: "access",
			interfaces.SettingSecretKey: "REAL-SECRET",
			interfaces.SettingBucket:    "files",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Read, edit an unrelated field and write the config back unchanged otherwise.
	got := adminRequest(t, ts, http.MethodGet, "/backends/minio", nil)
	require.Equal(t, http.StatusOK, got.StatusCode)
	cfg := decodeBody[api.BackendConfig](t, got)
	require.Equal(t, redactedValue, cfg.Settings[interfaces.SettingSecretKey])
	cfg.DisplayName = "MinIO (edited)"

	saved := adminRequest(t, ts, http.MethodPut, "/backends/minio", cfg)
	require.Equal(t, http.StatusOK, saved.StatusCode)
	assert.Equal(t, redactedValue, decodeBody[api.BackendConfig](t, saved).Settings[interfaces.SettingSecretKey])

	stored, err := repo.FindByKey(ctx, "minio")
	require.NoError(t, err)
	assert.Equal(t, "MinIO (edited)", stored.DisplayName)
	assert.Equal(t, "REAL-SECRET", stored.Settings[interfaces.SettingSecretKey])

	// A merge carrying the placeholder keeps the stored secret too.
	patched := adminRequest(t, ts, http.MethodPatch, "/backends/minio/settings", api.UpdateSettingsRequest{
		Settings: map[string]string{interfaces.SettingSecretKey: redactedValue, interfaces.SettingBucket: "media"},
	})
	require.Equal(t, http.StatusOK, patched.StatusCode)

	stored, err = repo.FindByKey(ctx, "minio")
	require.NoError(t, err)
	assert.Equal(t, "REAL-SECRET", stored.Settings[interfaces.SettingSecretKey])
	assert.Equal(t, "media", stored.Settings[interfaces.SettingBucket])

	// Without a stored value the placeholder is dropped, never persisted.
	resp = adminRequest(t, ts, http.MethodPut, "/backends/vault", api.BackendConfig{
		Settings: map[string]string{interfaces.SettingAddress: "http://127.0.0.1:8200", interfaces.SettingToken: redactedValue},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	vault, err := repo.FindByKey(ctx, "vault")
	require.NoError(t, err)
	assert.NotContains(t, vault.Settings, interfaces.SettingToken)
}

func TestAdminSaveUnknownDriver(t *testing.T) {
	ts := newTestServer(t)

	resp := adminRequest(t, ts, http.MethodPut, "/backends/tape", api.BackendConfig{
		Settings: map[string]string{interfaces.SettingDriver: "tape"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminSwitchActive(t *testing.T) {
	ts := newTestServer(t)

	// An unconfigured s3 backend becomes active; uploads then fail on the
	// missing settings instead of silently landing elsewhere.
	resp := adminRequest(t, ts, http.MethodPut, "/active", api.ActiveBackendRequest{Key: "s3"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s3", decodeBody[api.ActiveBackendResponse](t, resp).Key)

	upload, err := http.Post(ts.URL+"/api/files?name=a.txt", "text/plain", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	upload.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, upload.StatusCode)

	// Unregistered keys fall back to the default backend.
	resp = adminRequest(t, ts, http.MethodPut, "/active", api.ActiveBackendRequest{Key: "nowhere"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	uploaded := uploadRaw(t, ts, "b.txt", "b")
	assert.Equal(t, interfaces.DefaultBackendKey, uploaded.Backend)

	resp = adminRequest(t, ts, http.MethodPut, "/active", api.ActiveBackendRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminClearCache(t *testing.T) {
	ts := newTestServer(t)

	resp := adminRequest(t, ts, http.MethodPost, "/cache/clear", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
