package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/object-storage-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStore(t *testing.T) (*LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewLocalStore(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return store, dir
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestLocalStore(t)

	require.NoError(t, store.Put(ctx, "documents/2026/01/02/a.txt", strings.NewReader("hello world"), 11, "text/plain"))
	assert.FileExists(t, filepath.Join(dir, "documents", "2026", "01", "02", "a.txt"))

	rc, err := store.Get(ctx, "documents/2026/01/02/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(readAll(t, rc)))

	meta, err := store.Stat(ctx, "documents/2026/01/02/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(11), meta.Size)
	assert.Equal(t, "documents/2026/01/02/a.txt", meta.Key)
	assert.True(t, strings.HasPrefix(meta.ContentType, "text/plain"))
	assert.NotEmpty(t, meta.ETag)

	// Overwrite replaces the content.
	require.NoError(t, store.Put(ctx, "documents/2026/01/02/a.txt", strings.NewReader("bye"), 3, "text/plain"))
	rc, err = store.Get(ctx, "documents/2026/01/02/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "bye", string(readAll(t, rc)))

	deleted, err := store.Remove(ctx, "documents/2026/01/02/a.txt")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Remove(ctx, "documents/2026/01/02/a.txt")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = store.Get(ctx, "documents/2026/01/02/a.txt")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = store.Stat(ctx, "documents/2026/01/02/a.txt")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestLocalStoreKeysStayInsideRoot(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestLocalStore(t)

	require.NoError(t, store.Put(ctx, "../../escape.txt", strings.NewReader("x"), 1, ""))
	assert.FileExists(t, filepath.Join(dir, "escape.txt"))
	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt"))
	assert.True(t, os.IsNotExist(err))

	err = store.Put(ctx, "../", strings.NewReader("x"), 1, "")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

func TestLocalStoreDirectoryIsNotAnObject(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestLocalStore(t)
	require.NoError(t, store.Put(ctx, "images/a.png", strings.NewReader("x"), 1, ""))

	_, err := store.Get(ctx, "images")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	deleted, err := store.Remove(ctx, "images")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestLocalStoreFailedPutLeavesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store, dir := newTestLocalStore(t)
	cancel()

	err := store.Put(ctx, "other/a.bin", strings.NewReader("data"), 4, "")
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "other"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStoreAvailable(t *testing.T) {
	store, dir := newTestLocalStore(t)
	assert.True(t, store.Available(context.Background()))
	assert.Equal(t, "file://"+dir, store.LocationURI())

	require.NoError(t, os.RemoveAll(dir))
	assert.False(t, store.Available(context.Background()))
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLocalStoreThumbnail(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestLocalStore(t)
	require.NoError(t, store.Put(ctx, "images/wide.png", bytes.NewReader(encodePNG(t, 400, 100)), -1, "image/png"))
	require.NoError(t, store.Put(ctx, "images/small.png", bytes.NewReader(encodePNG(t, 20, 10)), -1, "image/png"))
	require.NoError(t, store.Put(ctx, "documents/a.txt", strings.NewReader("not an image"), -1, "text/plain"))

	tests := []struct {
		name          string
		key           string
		width, height int
		wantW, wantH  int
		wantErr       error
	}{
		{name: "scaled by width", key: "images/wide.png", width: 200, height: 200, wantW: 200, wantH: 50},
		{name: "scaled by height", key: "images/wide.png", width: 200, height: 25, wantW: 100, wantH: 25},
		{name: "never upscaled", key: "images/small.png", width: 200, height: 200, wantW: 20, wantH: 10},
		{name: "not an image", key: "documents/a.txt", width: 200, height: 200, wantErr: interfaces.ErrUnsupportedOperation},
		{name: "invalid size", key: "images/wide.png", width: 0, height: 200, wantErr: interfaces.ErrInvalidArgument},
		{name: "missing", key: "images/none.png", width: 200, height: 200, wantErr: interfaces.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := store.Thumbnail(ctx, tt.key, tt.width, tt.height)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			img, err := jpeg.Decode(bytes.NewReader(readAll(t, rc)))
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, img.Bounds().Dx())
			assert.Equal(t, tt.wantH, img.Bounds().Dy())
		})
	}
}
