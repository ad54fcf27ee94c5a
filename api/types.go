package api

import (
	"time"

	"github.com/ruteri/object-storage-backend/interfaces"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// UploadResponse is returned by POST /api/files.
type UploadResponse struct {
	ObjectPath  string `json:"object_path"`
	Backend     string `json:"backend"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// DeleteResponse is returned by DELETE /api/files/{backend}/*.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// BatchDeleteRequest is the body of POST /api/files/batch-delete.
type BatchDeleteRequest struct {
	Backend string   `json:"backend"`
	Paths   []string `json:"paths"`
}

// BatchDeleteResponse maps each requested path to whether it was deleted.
type BatchDeleteResponse struct {
	Results map[string]bool `json:"results"`
}

// URLResponse is returned by GET /api/urls/{backend}/*.
type URLResponse struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// ChecksumResponse is returned by GET /api/checksum/{backend}/*.
type ChecksumResponse struct {
	MD5 string `json:"md5"`
}

// InitiateUploadRequest is the body of POST /api/uploads.
type InitiateUploadRequest struct {
	FileName    string `json:"file_name"`
	Size        int64  `json:"size"`
	Backend     string `json:"backend,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// InitiateUploadResponse identifies the new upload session.
type InitiateUploadResponse = interfaces.MultipartUpload

// UploadPartResponse carries the tag of a stored part.
type UploadPartResponse struct {
	PartNumber int    `json:"part_number"`
	Tag        string `json:"tag"`
}

// CompleteUploadRequest is the body of POST /api/uploads/{session}/complete.
type CompleteUploadRequest struct {
	PartTags []string `json:"part_tags"`
}

// CompleteUploadResponse carries the final object path.
type CompleteUploadResponse struct {
	ObjectPath string `json:"object_path"`
}

// AbortUploadResponse reports whether the session existed.
type AbortUploadResponse struct {
	Aborted bool `json:"aborted"`
}

// BackendStatus describes one backend in admin listings.
type BackendStatus struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	Driver     string `json:"driver"`
	Active     bool   `json:"active"`
	Registered bool   `json:"registered"`
	Configured bool   `json:"configured"`
	Enabled    bool   `json:"enabled"`
	Available  bool   `json:"available"`
}

// BackendsResponse is returned by GET /api/admin/backends.
type BackendsResponse struct {
	Active   string          `json:"active"`
	Backends []BackendStatus `json:"backends"`
}

// ActiveBackendRequest is the body of PUT /api/admin/active.
type ActiveBackendRequest struct {
	Key string `json:"key"`
}

// ActiveBackendResponse is returned by GET and PUT /api/admin/active.
type ActiveBackendResponse struct {
	Key string `json:"key"`
}

// BackendConfig is the wire form of a backend configuration.
type BackendConfig struct {
	Key                  string            `json:"key"`
	DisplayName          string            `json:"display_name"`
	Settings             map[string]string `json:"settings"`
	Enabled              bool              `json:"enabled"`
	MaxFileSize          int64             `json:"max_file_size"`
	DefaultExpirySeconds int64             `json:"default_expiry_seconds"`
	PublicBaseURL        string            `json:"public_base_url"`
	CreatedAt            time.Time         `json:"created_at,omitempty"`
	UpdatedAt            time.Time         `json:"updated_at,omitempty"`
}

// UpdateSettingsRequest is the body of PATCH /api/admin/backends/{key}/settings.
// Blank values remove the setting.
type UpdateSettingsRequest struct {
	Settings map[string]string `json:"settings"`
}

// FromBackendConfig converts a stored config to its wire form.
func FromBackendConfig(cfg *interfaces.BackendConfig) BackendConfig {
	return BackendConfig{
		Key:                  cfg.Key,
		DisplayName:          cfg.DisplayName,
		Settings:             cfg.Settings,
		Enabled:              cfg.Enabled,
		MaxFileSize:          cfg.MaxFileSize,
		DefaultExpirySeconds: cfg.DefaultExpirySeconds,
		PublicBaseURL:        cfg.PublicBaseURL,
		CreatedAt:            cfg.CreatedAt,
		UpdatedAt:            cfg.UpdatedAt,
	}
}

// ToBackendConfig converts the wire form to a config; key overrides Key.
func (c BackendConfig) ToBackendConfig(key string) *interfaces.BackendConfig {
	settings := make(map[string]string, len(c.Settings))
	for k, v := range c.Settings {
		settings[k] = v
	}
	return &interfaces.BackendConfig{
		Key:                  key,
		DisplayName:          c.DisplayName,
		Settings:             settings,
		Enabled:              c.Enabled,
		MaxFileSize:          c.MaxFileSize,
		DefaultExpirySeconds: c.DefaultExpirySeconds,
		PublicBaseURL:        c.PublicBaseURL,
	}
}

// ActiveBackendAlias in a backend path segment selects the active backend.
const ActiveBackendAlias = "_"
