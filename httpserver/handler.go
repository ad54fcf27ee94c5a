package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/object-storage-backend/api"
	"github.com/ruteri/object-storage-backend/fileservice"
	"github.com/ruteri/object-storage-backend/interfaces"
)

const (
	// maxJSONBodySize bounds JSON request bodies (1MB).
	maxJSONBodySize = 1024 * 1024

	// maxPartSize bounds a single multipart upload part (64MB).
	maxPartSize = 64 * 1024 * 1024

	defaultThumbnailSize = 200
)

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func badRequest(format string, args ...any) error {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf(format, args...)}
}

// FileService is the set of file operations served over HTTP.
type FileService interface {
	Upload(ctx context.Context, r io.Reader, fileName string, opts fileservice.UploadOptions) (*fileservice.UploadResult, error)
	InitiateUpload(ctx context.Context, fileName string, size int64, opts fileservice.InitiateOptions) (*interfaces.MultipartUpload, error)
	UploadPart(ctx context.Context, sessionID string, partNumber int, data []byte) (string, error)
	CompleteUpload(ctx context.Context, sessionID string, partTags []string) (string, error)
	AbortUpload(ctx context.Context, sessionID string) (bool, error)
	Download(ctx context.Context, backendKey, objectPath string) (io.ReadCloser, error)
	Metadata(ctx context.Context, backendKey, objectPath string) (*interfaces.ObjectMetadata, error)
	PreviewURL(ctx context.Context, backendKey, objectPath string, expire time.Duration) (string, error)
	DownloadURL(ctx context.Context, backendKey, objectPath string, expire time.Duration) (string, error)
	PublicURL(ctx context.Context, backendKey, objectPath string) (string, error)
	Delete(ctx context.Context, backendKey, objectPath string) (bool, error)
	BatchDelete(ctx context.Context, backendKey string, objectPaths []string) (map[string]bool, error)
	Checksum(ctx context.Context, backendKey, objectPath string) (string, error)
	Thumbnail(ctx context.Context, backendKey, objectPath string, width, height int) (io.ReadCloser, error)
}

// Handler serves the file and multipart upload endpoints.
type Handler struct {
	files FileService
	log   *slog.Logger
}

func NewHandler(files FileService, log *slog.Logger) *Handler {
	return &Handler{
		files: files,
		log:   log,
	}
}

// Routes mounts the file and upload endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/files", h.HandleUpload)
	r.Post("/api/files/batch-delete", h.HandleBatchDelete)
	r.Get("/api/files/{backend}/*", h.HandleDownload)
	r.Head("/api/files/{backend}/*", h.HandleHead)
	r.Delete("/api/files/{backend}/*", h.HandleDelete)
	r.Get("/api/meta/{backend}/*", h.HandleMetadata)
	r.Get("/api/urls/{backend}/*", h.HandleURL)
	r.Get("/api/checksum/{backend}/*", h.HandleChecksum)
	r.Get("/api/thumbnails/{backend}/*", h.HandleThumbnail)

	r.Post("/api/uploads", h.HandleInitiateUpload)
	r.Put("/api/uploads/{session}/parts/{part}", h.HandleUploadPart)
	r.Post("/api/uploads/{session}/complete", h.HandleCompleteUpload)
	r.Delete("/api/uploads/{session}", h.HandleAbortUpload)
}

// HandleUpload stores a file on the requested or active backend.
//
// URL format: POST /api/files?backend=<key>&name=<file name>
//
// The body is either the raw file content, in which case name is required, or
// a multipart form with the file in field "file".
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	backend := query.Get("backend")
	fileName := query.Get("name")

	var (
		body        io.Reader = r.Body
		contentType           = r.Header.Get("Content-Type")
		size                  = r.ContentLength
	)

	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "multipart/form-data" {
		part, err := filePart(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		defer part.Close()

		if fileName == "" {
			fileName = part.FileName()
		}
		body = part
		contentType = part.Header.Get("Content-Type")
		size = -1
	}
	if contentType == "application/octet-stream" {
		contentType = ""
	}
	if fileName == "" {
		h.writeError(w, r, badRequest("missing file name"))
		return
	}

	result, err := h.files.Upload(r.Context(), body, path.Base(fileName), fileservice.UploadOptions{
		BackendKey:  backend,
		Size:        size,
		ContentType: contentType,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, api.UploadResponse{
		ObjectPath:  result.ObjectPath,
		Backend:     result.BackendKey,
		Size:        result.Size,
		ContentType: result.ContentType,
	})
}

// HandleDownload streams an object.
//
// URL format: GET /api/files/{backend}/{path}[?download=1]
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	backend, objectPath := objectParams(r)

	meta, err := h.files.Metadata(r.Context(), backend, objectPath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rc, err := h.files.Download(r.Context(), backend, objectPath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	setMetadataHeaders(w, meta)
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(objectPath)}))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn("Failed to stream object", slog.String("path", objectPath), "err", err)
	}
}

// HandleHead reports existence and metadata of an object in headers only.
//
// URL format: HEAD /api/files/{backend}/{path}
func (h *Handler) HandleHead(w http.ResponseWriter, r *http.Request) {
	backend, objectPath := objectParams(r)

	meta, err := h.files.Metadata(r.Context(), backend, objectPath)
	if err != nil {
		w.WriteHeader(statusFor(err))
		return
	}
	setMetadataHeaders(w, meta)
	w.WriteHeader(http.StatusOK)
}

// HandleDelete deletes an object. Missing objects yield {"deleted": false}.
//
// URL format: DELETE /api/files/{backend}/{path}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	backend, objectPath := objectParams(r)

	deleted, err := h.files.Delete(r.Context(), backend, objectPath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.DeleteResponse{Deleted: deleted})
}

// HandleMetadata returns object metadata.
//
// URL format: GET /api/meta/{backend}/{path}
func (h *Handler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	backend, objectPath := objectParams(r)

	meta, err := h.files.Metadata(r.Context(), backend, objectPath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, meta)
}

// HandleURL returns an access URL for an object.
//
// URL format: GET /api/urls/{backend}/{path}?kind=preview|download|public&expire=<seconds>
func (h *Handler) HandleURL(w http.ResponseWriter, r *http.Request) {
	backend, objectPath := objectParams(r)
	query := r.URL.Query()

	var expire time.Duration
	if raw := query.Get("expire"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, r, badRequest("invalid expire %q", raw))
			return
		}
		expire = time.Duration(seconds) * time.Second
	}

	kind := query.Get("kind")
	if kind == "" {
		kind = "preview"
	}

	var (
		url string
		err error
	)
	switch kind {
	case "preview":
		url, err = h.files.PreviewURL(r.Context(), backend, objectPath, expire)
	case "download":
		url, err = h.files.DownloadURL(r.Context(), backend, objectPath, expire)
	case "public":
		url, err = h.files.PublicURL(r.Context(), backend, objectPath)
	default:
		err = badRequest("unknown url kind %q", kind)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.URLResponse{URL: url, Kind: kind})
}

// HandleChecksum returns the MD5 checksum of an object.
//
// URL format: GET /api/checksum/{backend}/{path}
func (h *Handler) HandleChecksum(w http.ResponseWriter, r *http.Request) {
	backend, objectPath := objectParams(r)

	sum, err := h.files.Checksum(r.Context(), backend, objectPath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ChecksumResponse{MD5: sum})
}

// HandleThumbnail returns a JPEG thumbnail of an image object.
//
// URL format: GET /api/thumbnails/{backend}/{path}?w=<width>&h=<height>
func (h *Handler) HandleThumbnail(w http.ResponseWriter, r *http.Request) {
	backend, objectPath := objectParams(r)

	width, err := intParam(r, "w", defaultThumbnailSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	height, err := intParam(r, "h", defaultThumbnailSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rc, err := h.files.Thumbnail(r.Context(), backend, objectPath, width, height)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn("Failed to stream thumbnail", slog.String("path", objectPath), "err", err)
	}
}

// HandleBatchDelete deletes several objects of one backend.
//
// URL format: POST /api/files/batch-delete
// Request body: {"backend": "<key>", "paths": ["..."]}
func (h *Handler) HandleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req api.BatchDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	results, err := h.files.BatchDelete(r.Context(), req.Backend, req.Paths)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.BatchDeleteResponse{Results: results})
}

// HandleInitiateUpload opens a multipart upload session.
//
// URL format: POST /api/uploads
// Request body: {"file_name": "...", "size": <bytes>, "backend": "<key>"}
func (h *Handler) HandleInitiateUpload(w http.ResponseWriter, r *http.Request) {
	var req api.InitiateUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	upload, err := h.files.InitiateUpload(r.Context(), req.FileName, req.Size, fileservice.InitiateOptions{
		BackendKey:  req.Backend,
		ContentType: req.ContentType,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, upload)
}

// HandleUploadPart stores the request body as one part.
//
// URL format: PUT /api/uploads/{session}/parts/{part}
func (h *Handler) HandleUploadPart(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	partNumber, err := strconv.Atoi(chi.URLParam(r, "part"))
	if err != nil {
		h.writeError(w, r, badRequest("invalid part number %q", chi.URLParam(r, "part")))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPartSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, r, fmt.Errorf("%w: parts are limited to %d bytes", interfaces.ErrFileTooLarge, maxPartSize))
			return
		}
		h.writeError(w, r, badRequest("failed to read part: %v", err))
		return
	}

	tag, err := h.files.UploadPart(r.Context(), sessionID, partNumber, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.UploadPartResponse{PartNumber: partNumber, Tag: tag})
}

// HandleCompleteUpload assembles the session's parts into the final object.
//
// URL format: POST /api/uploads/{session}/complete
// Request body: {"part_tags": ["..."]}
func (h *Handler) HandleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteUploadRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	objectPath, err := h.files.CompleteUpload(r.Context(), chi.URLParam(r, "session"), req.PartTags)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.CompleteUploadResponse{ObjectPath: objectPath})
}

// HandleAbortUpload discards a session.
//
// URL format: DELETE /api/uploads/{session}
func (h *Handler) HandleAbortUpload(w http.ResponseWriter, r *http.Request) {
	aborted, err := h.files.AbortUpload(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.AbortUploadResponse{Aborted: aborted})
}

// objectParams returns the backend key and object path of a file route.
func objectParams(r *http.Request) (string, string) {
	backend := chi.URLParam(r, "backend")
	if backend == api.ActiveBackendAlias {
		backend = ""
	}
	return backend, chi.URLParam(r, "*")
}

// filePart returns the part of the multipart body holding field "file".
func filePart(r *http.Request) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, badRequest("invalid multipart body: %v", err)
	}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, badRequest("multipart body has no \"file\" field")
		}
		if err != nil {
			return nil, badRequest("invalid multipart body: %v", err)
		}
		if part.FormName() == "file" {
			return part, nil
		}
		_ = part.Close()
	}
}

func setMetadataHeaders(w http.ResponseWriter, meta *interfaces.ObjectMetadata) {
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if meta.ETag != "" {
		w.Header().Set("ETag", strconv.Quote(meta.ETag))
	}
	if !meta.LastModified.IsZero() {
		w.Header().Set("Last-Modified", meta.LastModified.UTC().Format(http.TimeFormat))
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return v, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodySize))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.Is(err, interfaces.ErrNotFound), errors.Is(err, interfaces.ErrInvalidSession):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, interfaces.ErrUnsupportedOperation):
		return http.StatusNotImplemented
	case errors.Is(err, interfaces.ErrConfigurationIncomplete),
		errors.Is(err, interfaces.ErrNoStrategyAvailable),
		errors.Is(err, interfaces.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(h.log, w, r, err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	writeJSON(h.log, w, status, v)
}

func writeError(log *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			"err", err)
	} else {
		log.Debug("Request rejected",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			"err", err)
	}
	writeJSON(log, w, status, api.ErrorResponse{Error: err.Error()})
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response", "err", err)
	}
}
