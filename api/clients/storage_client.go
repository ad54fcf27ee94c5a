package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/object-storage-backend/api"
	"github.com/ruteri/object-storage-backend/interfaces"
)

// StorageClient calls the file and multipart upload endpoints.
type StorageClient struct {
	transport
}

// NewStorageClient creates a client for the API at baseURL
// (e.g., "http://localhost:8080"). timeout defaults to 30 seconds.
func NewStorageClient(baseURL string, timeout ...time.Duration) *StorageClient {
	return &StorageClient{transport: newTransport(baseURL, "", timeout)}
}

// Upload stores r as fileName. An empty backend selects the active backend.
func (c *StorageClient) Upload(ctx context.Context, backend, fileName string, r io.Reader, size int64) (*api.UploadResponse, error) {
	query := url.Values{"name": {fileName}}
	if backend != "" {
		query.Set("backend", backend)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/files?"+query.Encode(), r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if size > 0 {
		req.ContentLength = size
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.UploadResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download opens an object for reading. The caller closes the reader.
func (c *StorageClient) Download(ctx context.Context, backend, objectPath string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, objectRoute("/api/files", backend, objectPath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Exists reports whether the object exists.
func (c *StorageClient) Exists(ctx context.Context, backend, objectPath string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodHead, objectRoute("/api/files", backend, objectPath), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.send(req)
	if IsStatus(err, http.StatusNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	return true, nil
}

func (c *StorageClient) Metadata(ctx context.Context, backend, objectPath string) (*interfaces.ObjectMetadata, error) {
	var out interfaces.ObjectMetadata
	if err := c.do(ctx, http.MethodGet, objectRoute("/api/meta", backend, objectPath), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// URL returns an access URL of the given kind ("preview", "download" or
// "public"). expire <= 0 uses the backend default.
func (c *StorageClient) URL(ctx context.Context, backend, objectPath, kind string, expire time.Duration) (string, error) {
	query := url.Values{"kind": {kind}}
	if expire > 0 {
		query.Set("expire", strconv.FormatInt(int64(expire/time.Second), 10))
	}
	var out api.URLResponse
	if err := c.do(ctx, http.MethodGet, objectRoute("/api/urls", backend, objectPath)+"?"+query.Encode(), nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Delete reports whether the object existed.
func (c *StorageClient) Delete(ctx context.Context, backend, objectPath string) (bool, error) {
	var out api.DeleteResponse
	if err := c.do(ctx, http.MethodDelete, objectRoute("/api/files", backend, objectPath), nil, &out); err != nil {
		return false, err
	}
	return out.Deleted, nil
}

func (c *StorageClient) BatchDelete(ctx context.Context, backend string, objectPaths []string) (map[string]bool, error) {
	var out api.BatchDeleteResponse
	in := api.BatchDeleteRequest{Backend: backend, Paths: objectPaths}
	if err := c.do(ctx, http.MethodPost, "/api/files/batch-delete", in, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Checksum returns the hex MD5 of the object.
func (c *StorageClient) Checksum(ctx context.Context, backend, objectPath string) (string, error) {
	var out api.ChecksumResponse
	if err := c.do(ctx, http.MethodGet, objectRoute("/api/checksum", backend, objectPath), nil, &out); err != nil {
		return "", err
	}
	return out.MD5, nil
}

// InitiateUpload opens a multipart upload session.
func (c *StorageClient) InitiateUpload(ctx context.Context, in api.InitiateUploadRequest) (*api.InitiateUploadResponse, error) {
	var out api.InitiateUploadResponse
	if err := c.do(ctx, http.MethodPost, "/api/uploads", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadPart sends one part and returns its tag.
func (c *StorageClient) UploadPart(ctx context.Context, sessionID string, partNumber int, data io.Reader) (string, error) {
	path := fmt.Sprintf("/api/uploads/%s/parts/%d", url.PathEscape(sessionID), partNumber)
	var out api.UploadPartResponse
	if err := c.do(ctx, http.MethodPut, path, data, &out); err != nil {
		return "", err
	}
	return out.Tag, nil
}

// CompleteUpload assembles the parts and returns the object path.
func (c *StorageClient) CompleteUpload(ctx context.Context, sessionID string, partTags []string) (string, error) {
	path := fmt.Sprintf("/api/uploads/%s/complete", url.PathEscape(sessionID))
	var out api.CompleteUploadResponse
	if err := c.do(ctx, http.MethodPost, path, api.CompleteUploadRequest{PartTags: partTags}, &out); err != nil {
		return "", err
	}
	return out.ObjectPath, nil
}

// AbortUpload reports whether the session existed.
func (c *StorageClient) AbortUpload(ctx context.Context, sessionID string) (bool, error) {
	var out api.AbortUploadResponse
	if err := c.do(ctx, http.MethodDelete, "/api/uploads/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return false, err
	}
	return out.Aborted, nil
}

// UploadInParts uploads r through a multipart session in partSize chunks and
// returns the final object path. The session is aborted on failure.
func (c *StorageClient) UploadInParts(ctx context.Context, in api.InitiateUploadRequest, r io.Reader, partSize int) (objectPath string, err error) {
	if partSize <= 0 {
		return "", fmt.Errorf("%w: part size must be positive", interfaces.ErrInvalidArgument)
	}
	session, err := c.InitiateUpload(ctx, in)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_, _ = c.AbortUpload(context.WithoutCancel(ctx), session.SessionID)
		}
	}()

	var tags []string
	buf := make([]byte, partSize)
	for part := 1; ; part++ {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			tag, err := c.UploadPart(ctx, session.SessionID, part, bytes.NewReader(buf[:n]))
			if err != nil {
				return "", err
			}
			tags = append(tags, tag)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("failed to read part %d: %w", part, readErr)
		}
	}
	return c.CompleteUpload(ctx, session.SessionID, tags)
}

// objectRoute builds route/{backend}/{path}, escaping every path segment.
// An empty backend selects the active backend.
func objectRoute(route, backend, objectPath string) string {
	if backend == "" {
		backend = api.ActiveBackendAlias
	}
	segments := strings.Split(strings.TrimLeft(objectPath, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return route + "/" + url.PathEscape(backend) + "/" + strings.Join(segments, "/")
}
