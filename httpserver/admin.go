package httpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/object-storage-backend/api"
	"github.com/ruteri/object-storage-backend/fileservice"
	"github.com/ruteri/object-storage-backend/interfaces"
)

// redactedValue replaces secret settings in admin responses.
const redactedValue = "********"

// secretSettings are never echoed back by the admin API.
var secretSettings = map[string]bool{
	interfaces.SettingSecretKey: true,
	interfaces.SettingToken:     true,
}

// AdminService is the set of storage administration operations.
type AdminService interface {
	ActiveBackend() string
	SetActiveBackend(ctx context.Context, key string) error
	BackendConfig(ctx context.Context, key string) (*interfaces.BackendConfig, error)
	UpdateBackendConfig(ctx context.Context, key string, settings map[string]string) (*interfaces.BackendConfig, error)
	SaveBackendConfig(ctx context.Context, cfg *interfaces.BackendConfig) error
	DeleteBackendConfig(ctx context.Context, key string) (bool, error)
	ClearCache()
	BackendStatuses(ctx context.Context) []fileservice.BackendStatus
}

// AdminHandler serves the storage administration API.
//
// When token is set, every request must carry "Authorization: Bearer <token>".
type AdminHandler struct {
	admin AdminService
	token string
	log   *slog.Logger
}

func NewAdminHandler(admin AdminService, token string, log *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin: admin,
		token: token,
		log:   log,
	}
}

// AdminRouter returns a configured HTTP router for the admin API, to be
// mounted under /api/admin.
func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(h.authorize)

	r.Get("/backends", h.handleListBackends)
	r.Get("/active", h.handleGetActive)
	r.Put("/active", h.handleSetActive)
	r.Get("/backends/{key}", h.handleGetConfig)
	r.Put("/backends/{key}", h.handleSaveConfig)
	r.Delete("/backends/{key}", h.handleDeleteConfig)
	r.Patch("/backends/{key}/settings", h.handleUpdateSettings)
	r.Post("/cache/clear", h.handleClearCache)
	return r
}

func (h *AdminHandler) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
			h.log.Warn("Unauthorized admin request", slog.String("path", r.URL.Path), slog.String("remote", r.RemoteAddr))
			writeError(h.log, w, r, &RequestError{StatusCode: http.StatusUnauthorized, Err: errors.New("unauthorized")})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleListBackends returns every registered backend with its status.
//
// Endpoint: GET /api/admin/backends
func (h *AdminHandler) handleListBackends(w http.ResponseWriter, r *http.Request) {
	statuses := h.admin.BackendStatuses(r.Context())
	resp := api.BackendsResponse{
		Active:   h.admin.ActiveBackend(),
		Backends: make([]api.BackendStatus, 0, len(statuses)),
	}
	for _, s := range statuses {
		resp.Backends = append(resp.Backends, api.BackendStatus(s))
	}
	writeJSON(h.log, w, http.StatusOK, resp)
}

// Endpoint: GET /api/admin/active
func (h *AdminHandler) handleGetActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.log, w, http.StatusOK, api.ActiveBackendResponse{Key: h.admin.ActiveBackend()})
}

// handleSetActive switches the active backend.
//
// Endpoint: PUT /api/admin/active
// Body: {"key": "<backend key>"}
func (h *AdminHandler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req api.ActiveBackendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if err := h.admin.SetActiveBackend(r.Context(), req.Key); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	h.log.Info("Active backend set via admin API", slog.String("backend", req.Key))
	writeJSON(h.log, w, http.StatusOK, api.ActiveBackendResponse{Key: h.admin.ActiveBackend()})
}

// Endpoint: GET /api/admin/backends/{key}
func (h *AdminHandler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.admin.BackendConfig(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, redact(api.FromBackendConfig(cfg)))
}

// handleSaveConfig creates or replaces a backend config. The key in the path
// wins over the key in the body.
//
// Endpoint: PUT /api/admin/backends/{key}
func (h *AdminHandler) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req api.BackendConfig
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	cfg := req.ToBackendConfig(key)
	if err := h.restoreSecrets(r.Context(), key, cfg.Settings, false); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if err := h.admin.SaveBackendConfig(r.Context(), cfg); err != nil {
		writeError(h.log, w, r, err)
		return
	}

	saved, err := h.admin.BackendConfig(r.Context(), key)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, redact(api.FromBackendConfig(saved)))
}

// Endpoint: DELETE /api/admin/backends/{key}
func (h *AdminHandler) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.admin.DeleteBackendConfig(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, api.DeleteResponse{Deleted: deleted})
}

// handleUpdateSettings merges settings into a stored config.
//
// Endpoint: PATCH /api/admin/backends/{key}/settings
// Body: {"settings": {"bucket": "media", "region": ""}}
func (h *AdminHandler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	key := chi.URLParam(r, "key")
	if err := h.restoreSecrets(r.Context(), key, req.Settings, true); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	cfg, err := h.admin.UpdateBackendConfig(r.Context(), key, req.Settings)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, redact(api.FromBackendConfig(cfg)))
}

// Endpoint: POST /api/admin/cache/clear
func (h *AdminHandler) handleClearCache(w http.ResponseWriter, r *http.Request) {
	h.admin.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

// restoreSecrets replaces secret settings that still hold redactedValue with
// the stored value, so a config read from this API can be written back as is.
// A merge drops the setting instead, leaving the stored value untouched; a
// placeholder without a stored value is removed.
func (h *AdminHandler) restoreSecrets(ctx context.Context, key string, settings map[string]string, merge bool) error {
	var stored *interfaces.BackendConfig
	for name, v := range settings {
		if !secretSettings[name] || v != redactedValue {
			continue
		}
		if merge {
			delete(settings, name)
			continue
		}
		if stored == nil {
			cfg, err := h.admin.BackendConfig(ctx, key)
			switch {
			case errors.Is(err, interfaces.ErrNotFound):
				cfg = &interfaces.BackendConfig{}
			case err != nil:
				return err
			}
			stored = cfg
		}
		if prev, ok := stored.Settings[name]; ok && prev != "" {
			settings[name] = prev
		} else {
			delete(settings, name)
		}
	}
	return nil
}

func redact(cfg api.BackendConfig) api.BackendConfig {
	settings := make(map[string]string, len(cfg.Settings))
	for k, v := range cfg.Settings {
		if secretSettings[k] && v != "" {
			v = redactedValue
		}
		settings[k] = v
	}
	cfg.Settings = settings
	return cfg
}
