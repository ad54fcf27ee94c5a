package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ruteri/object-storage-backend/interfaces"
	"github.com/ruteri/object-storage-backend/metrics"
	"golang.org/x/sync/errgroup"
)

// StoreFactory builds the physical store of a backend from its current config.
type StoreFactory func(ctx context.Context, cfg *interfaces.BackendConfig, log *slog.Logger) (interfaces.ObjectStore, error)

const defaultBatchConcurrency = 8

// Strategy implements interfaces.StorageBackend on top of an ObjectStore.
// It owns everything backends share: object key construction, size limits,
// URL derivation, checksums, batch deletes and multipart sessions.
//
// The store is built lazily from the backend config and cached until Reset.
type Strategy struct {
	key      string
	factory  StoreFactory
	configs  interfaces.ConfigProvider
	sessions *SessionManager
	paths    *PathBuilder
	log      *slog.Logger

	batchConcurrency int

	mu    sync.Mutex
	store interfaces.ObjectStore
}

// NewStrategy creates the strategy registered under key.
func NewStrategy(key string, factory StoreFactory, configs interfaces.ConfigProvider, sessions *SessionManager, log *slog.Logger) *Strategy {
	return &Strategy{
		key:              key,
		factory:          factory,
		configs:          configs,
		sessions:         sessions,
		paths:            NewPathBuilder(),
		log:              log.With(slog.String("backend", key)),
		batchConcurrency: defaultBatchConcurrency,
	}
}

// WithPathBuilder replaces the object key builder.
func (s *Strategy) WithPathBuilder(paths *PathBuilder) *Strategy {
	s.paths = paths
	return s
}

func (s *Strategy) Key() string {
	return s.key
}

// Name returns the name of the underlying store once built, else the backend key.
func (s *Strategy) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return s.store.Name()
	}
	return s.key
}

// Reset drops the cached store so the next operation rebuilds it from config.
func (s *Strategy) Reset() {
	s.mu.Lock()
	s.store = nil
	s.mu.Unlock()
	s.log.Debug("Storage backend reset")
}

func (s *Strategy) Available(ctx context.Context) bool {
	store, err := s.objectStore(ctx)
	if err != nil {
		s.log.Warn("Storage backend cannot be built", "err", err)
		return false
	}
	return store.Available(ctx)
}

func (s *Strategy) Upload(ctx context.Context, r io.Reader, fileName string, sizeHint int64, contentType string) (key string, err error) {
	defer func(start time.Time) { metrics.RecordOperation(s.key, "upload", err, start) }(time.Now())

	cfg, err := s.config(ctx)
	if err != nil {
		return "", err
	}
	if cfg.MaxFileSize > 0 && sizeHint > cfg.MaxFileSize {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", interfaces.ErrFileTooLarge, sizeHint, cfg.MaxFileSize)
	}
	store, err := s.objectStore(ctx)
	if err != nil {
		return "", err
	}

	if contentType == "" {
		r, contentType, err = detectContentType(r, fileName)
		if err != nil {
			return "", fmt.Errorf("failed to read upload: %w", err)
		}
	}

	key = s.paths.Build(cfg.Setting(interfaces.SettingPrefix, ""), fileName)
	body := &limitedReader{r: r, limit: cfg.MaxFileSize}
	if err := store.Put(ctx, key, body, sizeHint, contentType); err != nil {
		if body.exceeded {
			return "", fmt.Errorf("%w: upload exceeds limit of %d bytes", interfaces.ErrFileTooLarge, cfg.MaxFileSize)
		}
		return "", err
	}
	metrics.RecordUpload(s.key, body.read)

	s.log.Info("Object uploaded",
		slog.String("key", key),
		slog.String("file_name", fileName),
		slog.Int64("size", body.read))
	return key, nil
}

func (s *Strategy) Download(ctx context.Context, key string) (rc io.ReadCloser, err error) {
	defer func(start time.Time) { metrics.RecordOperation(s.key, "download", err, start) }(time.Now())

	key, store, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, key)
}

func (s *Strategy) Delete(ctx context.Context, key string) (deleted bool, err error) {
	defer func(start time.Time) { metrics.RecordOperation(s.key, "delete", err, start) }(time.Now())

	key, store, err := s.resolve(ctx, key)
	if err != nil {
		return false, err
	}
	deleted, err = store.Remove(ctx, key)
	if err != nil {
		return false, err
	}
	if deleted {
		s.log.Info("Object deleted", slog.String("key", key))
	}
	return deleted, nil
}

// BatchDelete deletes every distinct key once. A failure only affects the
// result of its own key.
func (s *Strategy) BatchDelete(ctx context.Context, keys []string) map[string]bool {
	results := make(map[string]bool, len(keys))
	distinct := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, seen := results[key]; !seen {
			results[key] = false
			distinct = append(distinct, key)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConcurrency)
	for _, key := range distinct {
		key := key
		g.Go(func() error {
			deleted, err := s.Delete(gctx, key)
			if err != nil {
				s.log.Warn("Batch delete failed for object", slog.String("key", key), "err", err)
			}
			mu.Lock()
			results[key] = deleted && err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Strategy) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Metadata(ctx, key)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Strategy) Metadata(ctx context.Context, key string) (*interfaces.ObjectMetadata, error) {
	key, store, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return store.Stat(ctx, key)
}

// PreviewURL returns an inline URL, presigned when the store supports it.
func (s *Strategy) PreviewURL(ctx context.Context, key string, expire time.Duration) (string, error) {
	return s.accessURL(ctx, key, expire, false)
}

// DownloadURL returns a URL that asks clients to save the object.
func (s *Strategy) DownloadURL(ctx context.Context, key string, expire time.Duration) (string, error) {
	return s.accessURL(ctx, key, expire, true)
}

// PublicURL joins the public base URL and key. Without a base URL it points at
// the API download route.
func (s *Strategy) PublicURL(ctx context.Context, key string) string {
	key = NormalizeKey(key)
	if base := s.configs.PublicBaseURL(ctx, s.key); base != "" {
		return JoinURL(base, key)
	}
	return "/api/files/" + s.key + "/" + key
}

// Checksum streams the object through MD5.
func (s *Strategy) Checksum(ctx context.Context, key string) (string, error) {
	rc, err := s.Download(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := md5.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("failed to read object: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Strategy) Thumbnail(ctx context.Context, key string, width, height int) (io.ReadCloser, error) {
	key, store, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	thumbnailer, ok := store.(interfaces.Thumbnailer)
	if !ok {
		return nil, fmt.Errorf("%w: thumbnails on %s", interfaces.ErrUnsupportedOperation, s.key)
	}
	return thumbnailer.Thumbnail(ctx, key, width, height)
}

// InitiateMultipart fixes the object key and opens a session for it.
func (s *Strategy) InitiateMultipart(ctx context.Context, fileName string, declaredSize int64, opts interfaces.MultipartOptions) (*interfaces.MultipartUpload, error) {
	cfg, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.MaxFileSize > 0 && declaredSize > cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", interfaces.ErrFileTooLarge, declaredSize, cfg.MaxFileSize)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = typeByExtension(fileName)
	}
	key := s.paths.Build(cfg.Setting(interfaces.SettingPrefix, ""), fileName)
	session := s.sessions.Create(s.key, key, fileName, declaredSize, contentType)

	return &interfaces.MultipartUpload{
		SessionID:  session.ID,
		ObjectKey:  key,
		BackendKey: s.key,
	}, nil
}

func (s *Strategy) UploadPart(ctx context.Context, sessionID string, partNumber int, data []byte) (string, error) {
	return s.sessions.PutPart(sessionID, s.key, partNumber, data)
}

// CompleteMultipart assembles the parts and writes them with a single Put.
func (s *Strategy) CompleteMultipart(ctx context.Context, sessionID string, partTags []string) (key string, err error) {
	defer func(start time.Time) { metrics.RecordOperation(s.key, "complete_multipart", err, start) }(time.Now())

	return s.sessions.Complete(ctx, sessionID, s.key, partTags, func(ctx context.Context, session *UploadSession, body io.Reader, size int64) error {
		cfg, err := s.config(ctx)
		if err != nil {
			return err
		}
		if cfg.MaxFileSize > 0 && size > cfg.MaxFileSize {
			return fmt.Errorf("%w: %d bytes exceeds limit of %d", interfaces.ErrFileTooLarge, size, cfg.MaxFileSize)
		}
		store, err := s.objectStore(ctx)
		if err != nil {
			return err
		}
		if err := store.Put(ctx, session.ObjectKey, body, size, session.ContentType); err != nil {
			return err
		}
		metrics.RecordUpload(s.key, size)
		return nil
	})
}

func (s *Strategy) AbortMultipart(ctx context.Context, sessionID string) (bool, error) {
	return s.sessions.Abort(sessionID, s.key)
}

// config returns the backend config, or an empty one when none is persisted so
// backends with usable defaults keep working.
func (s *Strategy) config(ctx context.Context) (*interfaces.BackendConfig, error) {
	cfg, err := s.configs.Config(ctx, s.key)
	if errors.Is(err, interfaces.ErrNotFound) {
		return &interfaces.BackendConfig{Key: s.key, Settings: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config for %s: %w", s.key, err)
	}
	return cfg, nil
}

func (s *Strategy) objectStore(ctx context.Context) (interfaces.ObjectStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return s.store, nil
	}

	cfg, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	store, err := s.factory(ctx, cfg, s.log)
	if err != nil {
		return nil, err
	}
	s.store = store
	s.log.Info("Storage backend initialized",
		slog.String("store", store.Name()),
		slog.String("location", store.LocationURI()))
	return store, nil
}

// resolve normalizes key and returns it with the store.
func (s *Strategy) resolve(ctx context.Context, key string) (string, interfaces.ObjectStore, error) {
	norm := NormalizeKey(key)
	if norm == "" {
		return "", nil, fmt.Errorf("%w: empty object key", interfaces.ErrInvalidArgument)
	}
	store, err := s.objectStore(ctx)
	if err != nil {
		return "", nil, err
	}
	return norm, store, nil
}

func (s *Strategy) accessURL(ctx context.Context, key string, expire time.Duration, attachment bool) (string, error) {
	key, store, err := s.resolve(ctx, key)
	if err != nil {
		return "", err
	}
	signer, ok := store.(interfaces.URLSigner)
	if !ok {
		return s.PublicURL(ctx, key), nil
	}
	if expire <= 0 {
		cfg, err := s.config(ctx)
		if err != nil {
			return "", err
		}
		expire = cfg.DefaultExpiry()
	}
	return signer.SignedURL(ctx, key, expire, attachment, path.Base(key))
}

// limitedReader fails once more than limit bytes are read. A limit of 0
// disables the check.
type limitedReader struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.limit > 0 && l.read > l.limit {
		l.exceeded = true
		return n, interfaces.ErrFileTooLarge
	}
	return n, err
}

const sniffLen = 3072

// detectContentType sniffs the head of r and returns a reader that replays it.
func detectContentType(r io.Reader, fileName string) (io.Reader, string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	head = head[:n]
	replay := io.MultiReader(bytes.NewReader(head), r)

	if n == 0 {
		return replay, typeByExtension(fileName), nil
	}
	detected := mimetype.Detect(head)
	if detected.Is("application/octet-stream") || detected.Is("text/plain") {
		if byExt := typeByExtension(fileName); byExt != "application/octet-stream" {
			return replay, byExt, nil
		}
	}
	return replay, detected.String(), nil
}

func typeByExtension(fileName string) string {
	if ext := Extension(fileName); ext != "" {
		if t := mime.TypeByExtension("." + ext); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}

func contentDisposition(fileName string) string {
	if fileName == "" {
		return "attachment"
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": fileName})
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}
