package interfaces

import (
	"context"
	"io"
	"time"
)

// DefaultBackendKey is the backend used when neither the caller nor the
// persisted configuration selects one.
const DefaultBackendKey = "local"

// ObjectMetadata describes a stored object.
type ObjectMetadata struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag,omitempty"`
}

// MultipartUpload is returned when a multipart upload session is initiated.
type MultipartUpload struct {
	SessionID  string `json:"session_id"`
	ObjectKey  string `json:"object_path"`
	BackendKey string `json:"backend"`
}

// MultipartOptions carries optional settings for a multipart upload.
type MultipartOptions struct {
	ContentType string
}

// ObjectStore is the minimal contract of a physical store. Keys are
// backend-relative, slash separated and already normalized.
type ObjectStore interface {
	// Put stores the bytes read from r under key. size is -1 when unknown.
	// The object must either become visible complete or not at all.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get opens the object for reading. Returns ErrNotFound for missing keys.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Remove deletes the object and reports whether it existed.
	Remove(ctx context.Context, key string) (bool, error)

	// Stat returns object metadata. Returns ErrNotFound for missing keys.
	Stat(ctx context.Context, key string) (*ObjectMetadata, error)

	// Available checks if the store is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this store.
	LocationURI() string
}

// URLSigner is implemented by stores that can issue expiring, authenticated URLs.
type URLSigner interface {
	// SignedURL returns a presigned GET URL. When attachment is true the URL asks
	// the client to download the object as fileName.
	SignedURL(ctx context.Context, key string, expire time.Duration, attachment bool, fileName string) (string, error)
}

// Thumbnailer is implemented by stores that can render image thumbnails.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, key string, width, height int) (io.ReadCloser, error)
}

// StorageBackend is the capability set every registered backend exposes.
type StorageBackend interface {
	// Key returns the stable backend key, e.g. "local" or "minio".
	Key() string

	// Name returns identifier for logging.
	Name() string

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Upload stores the stream under a freshly built object key and returns it.
	// sizeHint is -1 when unknown; an empty contentType is detected from the content.
	Upload(ctx context.Context, r io.Reader, fileName string, sizeHint int64, contentType string) (string, error)

	// Download opens an object. Returns ErrNotFound if absent.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object; a missing key yields false and no error.
	Delete(ctx context.Context, key string) (bool, error)

	// BatchDelete deletes every key independently and reports each outcome.
	BatchDelete(ctx context.Context, keys []string) map[string]bool

	Exists(ctx context.Context, key string) (bool, error)
	Metadata(ctx context.Context, key string) (*ObjectMetadata, error)

	PreviewURL(ctx context.Context, key string, expire time.Duration) (string, error)
	DownloadURL(ctx context.Context, key string, expire time.Duration) (string, error)
	PublicURL(ctx context.Context, key string) string

	// Checksum returns the hex MD5 digest of the stored bytes.
	Checksum(ctx context.Context, key string) (string, error)

	// Thumbnail returns a JPEG thumbnail or ErrUnsupportedOperation.
	Thumbnail(ctx context.Context, key string, width, height int) (io.ReadCloser, error)

	InitiateMultipart(ctx context.Context, fileName string, declaredSize int64, opts MultipartOptions) (*MultipartUpload, error)
	UploadPart(ctx context.Context, sessionID string, partNumber int, data []byte) (string, error)
	CompleteMultipart(ctx context.Context, sessionID string, partTags []string) (string, error)
	AbortMultipart(ctx context.Context, sessionID string) (bool, error)
}
