package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ruteri/object-storage-backend/interfaces"
)

// LocalStore implements an object store on the local file system.
// Objects live under baseDir at their slash separated key.
type LocalStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewLocalStore creates a local store rooted at baseDir, creating it if needed.
func NewLocalStore(baseDir string, log *slog.Logger) (*LocalStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStore{
		baseDir:     abs,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", abs),
	}, nil
}

// Put writes the object to a temporary file next to its destination and renames
// it into place, so readers never observe a partial object.
func (b *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	filePath, err := b.filePath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	written, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	committed = true

	b.log.Debug("Stored object in file",
		slog.String("path", filePath),
		slog.Int64("size", written))
	return nil
}

// Get opens the object. Directories are reported as missing.
func (b *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := b.existingFile(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

func (b *LocalStore) Remove(ctx context.Context, key string) (bool, error) {
	filePath, err := b.existingFile(key)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove file: %w", err)
	}

	b.log.Debug("Removed object file", slog.String("path", filePath))
	return true, nil
}

func (b *LocalStore) Stat(ctx context.Context, key string) (*interfaces.ObjectMetadata, error) {
	filePath, err := b.existingFile(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(filePath); err == nil {
		contentType = mt.String()
	} else {
		b.log.Debug("Content type detection failed", slog.String("path", filePath), "err", err)
	}

	return &interfaces.ObjectMetadata{
		Key:          NormalizeKey(key),
		Size:         info.Size(),
		ContentType:  contentType,
		LastModified: info.ModTime().UTC(),
		ETag:         strconv.FormatInt(info.ModTime().UnixNano(), 16) + "-" + strconv.FormatInt(info.Size(), 16),
	}, nil
}

// Available checks that the base directory exists.
func (b *LocalStore) Available(ctx context.Context) bool {
	info, err := os.Stat(b.baseDir)
	if err != nil || !info.IsDir() {
		b.log.Debug("Local store unavailable", slog.String("dir", b.baseDir), "err", err)
		return false
	}
	return true
}

func (b *LocalStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

func (b *LocalStore) LocationURI() string {
	return b.locationURI
}

// Thumbnail decodes a GIF, JPEG or PNG object and returns a JPEG scaled to fit
// within width x height, preserving the aspect ratio. Images are never upscaled.
func (b *LocalStore) Thumbnail(ctx context.Context, key string, width, height int) (io.ReadCloser, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: thumbnail size %dx%d", interfaces.ErrInvalidArgument, width, height)
	}
	rc, err := b.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	src, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a decodable image: %v", interfaces.ErrUnsupportedOperation, key, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaleToFit(src, width, height), &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return io.NopCloser(&buf), nil
}

// filePath maps a key to a path inside baseDir. Normalization strips "..", so
// the result cannot escape the root.
func (b *LocalStore) filePath(key string) (string, error) {
	norm := NormalizeKey(key)
	if norm == "" {
		return "", fmt.Errorf("%w: empty object key", interfaces.ErrInvalidArgument)
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(norm)), nil
}

// existingFile resolves key to a regular file or returns ErrNotFound.
func (b *LocalStore) existingFile(key string) (string, error) {
	filePath, err := b.filePath(key)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a file", interfaces.ErrNotFound, key)
	}
	return filePath, nil
}

// scaleToFit resamples src with nearest-neighbour sampling.
func scaleToFit(src image.Image, maxW, maxH int) image.Image {
	bounds := src.Bounds()
	sw, sh := bounds.Dx(), bounds.Dy()
	if sw <= maxW && sh <= maxH {
		return src
	}

	w, h := maxW, sh*maxW/sw
	if h > maxH {
		w, h = sw*maxH/sh, maxH
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := bounds.Min.Y + y*sh/h
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + x*sw/w
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

// contextReader stops a copy once ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
