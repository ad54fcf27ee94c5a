// Package fileservice is the entry point for file operations and storage
// administration. Content records keep the returned {backend key, object path}
// pair as an opaque reference; an empty backend key means the active backend.
package fileservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/object-storage-backend/configmanager"
	"github.com/ruteri/object-storage-backend/interfaces"
	"github.com/ruteri/object-storage-backend/storage"
)

// UploadOptions tune a single-shot upload.
type UploadOptions struct {
	// BackendKey selects the backend; empty means the active one.
	BackendKey string
	// Size is the declared size in bytes, -1 or 0 when unknown.
	Size int64
	// ContentType overrides content detection when set.
	ContentType string
}

// UploadResult identifies an uploaded object.
type UploadResult struct {
	ObjectPath  string `json:"object_path"`
	BackendKey  string `json:"backend"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// InitiateOptions tune a multipart upload.
type InitiateOptions struct {
	BackendKey  string
	ContentType string
}

// BackendStatus summarizes one backend for administrators.
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

// Service implements the file and administration operations.
type Service struct {
	registry *storage.Registry
	configs  *configmanager.Manager
	sessions *storage.SessionManager
	log      *slog.Logger
}

func New(registry *storage.Registry, configs *configmanager.Manager, sessions *storage.SessionManager, log *slog.Logger) *Service {
	return &Service{
		registry: registry,
		configs:  configs,
		sessions: sessions,
		log:      log,
	}
}

// Upload stores r under a freshly built object path.
func (s *Service) Upload(ctx context.Context, r io.Reader, fileName string, opts UploadOptions) (*UploadResult, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("%w: file name is required", interfaces.ErrInvalidArgument)
	}
	backend, err := s.registry.Resolve(opts.BackendKey)
	if err != nil {
		return nil, err
	}

	sizeHint := opts.Size
	if sizeHint <= 0 {
		sizeHint = -1
	}
	body := &countingReader{r: r}
	key, err := backend.Upload(ctx, body, fileName, sizeHint, opts.ContentType)
	if err != nil {
		return nil, err
	}

	result := &UploadResult{
		ObjectPath:  key,
		BackendKey:  backend.Key(),
		Size:        body.n,
		ContentType: opts.ContentType,
	}
	if meta, err := backend.Metadata(ctx, key); err == nil {
		result.Size = meta.Size
		result.ContentType = meta.ContentType
	} else {
		s.log.Warn("Failed to read metadata of uploaded object",
			slog.String("backend", backend.Key()),
			slog.String("key", key),
			"err", err)
	}
	return result, nil
}

// InitiateUpload opens a multipart upload session. The object path is fixed now.
func (s *Service) InitiateUpload(ctx context.Context, fileName string, size int64, opts InitiateOptions) (*interfaces.MultipartUpload, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("%w: file name is required", interfaces.ErrInvalidArgument)
	}
	backend, err := s.registry.Resolve(opts.BackendKey)
	if err != nil {
		return nil, err
	}
	return backend.InitiateMultipart(ctx, fileName, size, interfaces.MultipartOptions{ContentType: opts.ContentType})
}

// UploadPart stores one part and returns its tag.
func (s *Service) UploadPart(ctx context.Context, sessionID string, partNumber int, data []byte) (string, error) {
	backend, err := s.sessionBackend(sessionID)
	if err != nil {
		return "", err
	}
	return backend.UploadPart(ctx, sessionID, partNumber, data)
}

// CompleteUpload assembles the parts and returns the object path.
func (s *Service) CompleteUpload(ctx context.Context, sessionID string, partTags []string) (string, error) {
	backend, err := s.sessionBackend(sessionID)
	if err != nil {
		return "", err
	}
	return backend.CompleteMultipart(ctx, sessionID, partTags)
}

// AbortUpload discards the session and reports whether it existed.
func (s *Service) AbortUpload(ctx context.Context, sessionID string) (bool, error) {
	backend, err := s.sessionBackend(sessionID)
	if errors.Is(err, interfaces.ErrInvalidSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return backend.AbortMultipart(ctx, sessionID)
}

func (s *Service) Download(ctx context.Context, backendKey, objectPath string) (io.ReadCloser, error) {
	backend, err := s.registry.Resolve(backendKey)
	if err != nil {
		return nil, err
	}
	return backend.Download(ctx, objectPath)
}

func (s *Service) Metadata(ctx context.Context, backendKey, objectPath string) (*interfaces.ObjectMetadata, error) {
	backend, err := s.registry.Resolve(backendKey)
	if err != nil {
		return nil, err
	}
	return backend.Metadata(ctx, objectPath)
}

// PreviewURL returns an inline access URL. expire <= 0 uses the backend default.
func (s *Service) PreviewURL(ctx context.Context, backendKey, objectPath string, expire time.Duration) (string, error) {
	backend, err := s.registry.Resolve(backendKey)
	if err != nil {
		return "", err
	}
	return backend.PreviewURL(ctx, objectPath, expire)
}

// DownloadURL returns an attachment access URL. expire <= 0 uses the backend default.
func (s *Service) DownloadURL(ctx context.Context, backendKey, objectPath string, expire time.Duration) (string, error) {
	backend, err := s.registry.Resolve(backendKey)
	if err != nil {
		return "", err
	}
	return backend.DownloadURL(ctx, objectPath, expire)
}

func (s *Service) PublicURL(ctx context.Context, backendKey, objectPath string) (string, error) {
	backend, err := s.registry.Resolve(backendKey)
	if err != nil {
		return "", err
	}
	return backend.PublicURL(ctx, objectPath), nil
}

func (s *Service) Delete(ctx context.Context, backendKey, objectPath string) (bool, error) {
	backend, err := s.registry.Resolve(backendKey)
	if err != nil {
		return false, err
	}
	return backend.Delete(ctx, objectPath)
}

// BatchDelete deletes every path and reports each outcome.
func (s *Service) BatchDelete(ctx context.Context, backendKey string, objectPaths []string) (map[string]bool, error) {
	backend, err := s.registry.Resolve(backendKey)
	if err != nil {
		return nil, err
	}
	return backend.BatchDelete(ctx, objectPaths), nil
}

func (s *Service) Exists(ctx context.Context, backendKey, objectPath string) (bool, error) {
	backend, err := s.registry.Resolve(backendKey)
	if err != nil {
		return false, err
	}
	return backend.Exists(ctx, objectPath)
}

func (s *Service) Checksum(ctx context.Context, backendKey, objectPath string) (string, error) {
	backend, err := s.registry.Resolve(backendKey)
	if err != nil {
		return "", err
	}
	return backend.Checksum(ctx, objectPath)
}

func (s *Service) Thumbnail(ctx context.Context, backendKey, objectPath string, width, height int) (io.ReadCloser, error) {
	backend, err := s.registry.Resolve(backendKey)
	if err != nil {
		return nil, err
	}
	return backend.Thumbnail(ctx, objectPath, width, height)
}

// ListBackends returns the registered backend keys.
func (s *Service) ListBackends() []string {
	return s.registry.Keys()
}

// ActiveBackend returns the active backend key.
func (s *Service) ActiveBackend() string {
	return s.configs.ActiveKey()
}

// SetActiveBackend switches the active backend. When a config exists for key it
// is persisted as the only enabled one. Unregistered keys are accepted; requests
// then fall back to the default backend.
func (s *Service) SetActiveBackend(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: backend key is required", interfaces.ErrInvalidArgument)
	}
	err := s.configs.Enable(ctx, key)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		s.log.Debug("No stored config for backend, switching in memory only", slog.String("backend", key))
	case err != nil:
		return err
	}
	s.configs.SetActive(key)
	return nil
}

func (s *Service) BackendConfig(ctx context.Context, key string) (*interfaces.BackendConfig, error) {
	return s.configs.Config(ctx, key)
}

// UpdateBackendConfig merges settings into the config of key; blank values
// remove a setting. A registered backend running without a stored config gets
// one created from settings.
func (s *Service) UpdateBackendConfig(ctx context.Context, key string, settings map[string]string) (*interfaces.BackendConfig, error) {
	cfg, err := s.configs.UpdateSettings(ctx, key, settings)
	if !errors.Is(err, interfaces.ErrNotFound) {
		return cfg, err
	}
	if _, ok := s.registry.Lookup(key); !ok {
		return nil, err
	}

	created := &interfaces.BackendConfig{Key: key, Settings: make(map[string]string, len(settings))}
	for k, v := range settings {
		if strings.TrimSpace(v) != "" {
			created.Settings[k] = v
		}
	}
	if err := s.configs.Save(ctx, created); err != nil {
		return nil, err
	}
	s.log.Info("Created backend config from settings update", slog.String("backend", key))
	return s.configs.Config(ctx, key)
}

// SaveBackendConfig creates or replaces the full config record.
func (s *Service) SaveBackendConfig(ctx context.Context, cfg *interfaces.BackendConfig) error {
	driver := storage.DriverOf(cfg)
	if _, err := storage.FactoryFor(driver); err != nil {
		return err
	}
	if err := s.configs.Save(ctx, cfg); err != nil {
		return err
	}
	return s.RegisterBackend(cfg.Key, driver)
}

// DeleteBackendConfig removes the config of key. Backends that exist only
// through their config are unregistered; bundled drivers stay registered.
func (s *Service) DeleteBackendConfig(ctx context.Context, key string) (bool, error) {
	deleted, err := s.configs.Delete(ctx, key)
	if err != nil || !deleted {
		return deleted, err
	}
	if _, err := storage.FactoryFor(key); err != nil {
		s.registry.Unregister(key)
		s.log.Info("Storage backend unregistered", slog.String("backend", key))
	}
	return true, nil
}

func (s *Service) ClearCache() {
	s.configs.ClearCache()
}

// BackendStatus checks one backend.
func (s *Service) BackendStatus(ctx context.Context, key string) BackendStatus {
	status := BackendStatus{
		Key:    key,
		Name:   key,
		Driver: key,
		Active: key == s.configs.ActiveKey(),
	}

	if cfg, err := s.configs.Config(ctx, key); err == nil {
		status.Configured = true
		status.Enabled = cfg.Enabled
		status.Driver = storage.DriverOf(cfg)
		if cfg.DisplayName != "" {
			status.Name = cfg.DisplayName
		}
	}
	if backend, ok := s.registry.Lookup(key); ok {
		status.Registered = true
		status.Available = backend.Available(ctx)
	}
	return status
}

// BackendStatuses checks every registered backend.
func (s *Service) BackendStatuses(ctx context.Context) []BackendStatus {
	keys := s.registry.Keys()
	out := make([]BackendStatus, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.BackendStatus(ctx, key))
	}
	return out
}

func (s *Service) sessionBackend(sessionID string) (interfaces.StorageBackend, error) {
	key, err := s.sessions.BackendOf(sessionID)
	if err != nil {
		return nil, err
	}
	backend, ok := s.registry.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: backend %q of session %s", interfaces.ErrNoStrategyAvailable, key, sessionID)
	}
	return backend, nil
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
