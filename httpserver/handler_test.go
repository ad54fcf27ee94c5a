package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/object-storage-backend/api"
	"github.com/ruteri/object-storage-backend/configstore"
	"github.com/ruteri/object-storage-backend/fileservice"
	"github.com/ruteri/object-storage-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "s3cret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts, _ := newTestServerWithRepo(t)
	return ts
}

func newTestServerWithRepo(t *testing.T) (*httptest.Server, *configstore.Repository) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	db, err := configstore.Connect("file:"+uuid.NewString()+"?mode=memory&cache=shared", logger)
	require.NoError(t, err)
	require.NoError(t, configstore.AutoMigrate(ctx, db, logger))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := configstore.NewRepository(db)
	require.NoError(t, repo.Save(ctx, &interfaces.BackendConfig{
		Key:         interfaces.DefaultBackendKey,
		DisplayName: "Local disk",
		Settings:    map[string]string{interfaces.SettingBasePath: t.TempDir()},
		Enabled:     true,
		MaxFileSize: 1024,
	}))

	svc, err := fileservice.Setup(ctx, repo, logger, fileservice.Options{})
	require.NoError(t, err)

	srv := New(&HTTPServerConfig{
		ListenAddr: "127.0.0.1:0",
		Log:        logger,
		AdminToken: testAdminToken,
	}, svc)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, repo
}

func uploadRaw(t *testing.T, ts *httptest.Server, name, body string) api.UploadResponse {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/files?name="+name, "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out api.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestUploadAndDownload(t *testing.T) {
	ts := newTestServer(t)

	uploaded := uploadRaw(t, ts, "notes.txt", "hello world")
	assert.Equal(t, interfaces.DefaultBackendKey, uploaded.Backend)
	assert.True(t, strings.HasPrefix(uploaded.ObjectPath, "documents/"), uploaded.ObjectPath)
	assert.True(t, strings.HasSuffix(uploaded.ObjectPath, ".txt"), uploaded.ObjectPath)
	assert.Equal(t, int64(11), uploaded.Size)

	resp, err := http.Get(ts.URL + "/api/files/local/" + uploaded.ObjectPath + "?download=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello world", string(body))
	assert.Equal(t, "11", resp.Header.Get("Content-Length"))
	assert.NotEmpty(t, resp.Header.Get("ETag"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
}

func TestUploadMultipartForm(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("comment", "ignored"))
	part, err := form.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("not really a png"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	resp, err := http.Post(ts.URL+"/api/files", form.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out api.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, strings.HasPrefix(out.ObjectPath, "images/"), out.ObjectPath)
	assert.True(t, strings.HasSuffix(out.ObjectPath, ".png"), out.ObjectPath)
}

func TestFilePart(t *testing.T) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("comment", "skipped"))
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="table.csv"`)
	header.Set("Content-Type", "text/csv")
	part, err := form.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())

	got, err := filePart(req)
	require.NoError(t, err)
	defer got.Close()
	assert.Equal(t, "table.csv", got.FileName())
	assert.Equal(t, "text/csv", got.Header.Get("Content-Type"))
	data, err := io.ReadAll(got)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	empty := httptest.NewRequest(http.MethodPost, "/api/files", strings.NewReader(""))
	empty.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	_, err = filePart(empty)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
}

func TestUploadErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		url        string
		body       string
		wantStatus int
	}{
		{
			name:       "missing name",
			url:        "/api/files",
			body:       "data",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "too large",
			url:        "/api/files?name=big.bin",
			body:       strings.Repeat("x", 2048),
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+tt.url, "application/octet-stream", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var errResp api.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestFileRoutes(t *testing.T) {
	ts := newTestServer(t)
	uploaded := uploadRaw(t, ts, "a.txt", "abc")

	t.Run("head existing", func(t *testing.T) {
		resp, err := http.Head(ts.URL + "/api/files/_/" + uploaded.ObjectPath)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "3", resp.Header.Get("Content-Length"))
	})

	t.Run("head missing", func(t *testing.T) {
		resp, err := http.Head(ts.URL + "/api/files/_/documents/missing.txt")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("metadata", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/meta/local/" + uploaded.ObjectPath)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var meta interfaces.ObjectMetadata
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
		assert.Equal(t, int64(3), meta.Size)
	})

	t.Run("checksum", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/checksum/local/" + uploaded.ObjectPath)
		require.NoError(t, err)
		defer resp.Body.Close()

		var out api.ChecksumResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", out.MD5)
	})

	t.Run("public url", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/urls/local/" + uploaded.ObjectPath + "?kind=public")
		require.NoError(t, err)
		defer resp.Body.Close()

		var out api.URLResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, "/api/files/local/"+uploaded.ObjectPath, out.URL)
	})

	t.Run("unknown url kind", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/urls/local/" + uploaded.ObjectPath + "?kind=bogus")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("thumbnail of text", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/thumbnails/local/" + uploaded.ObjectPath)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	})

	t.Run("delete twice", func(t *testing.T) {
		for _, want := range []bool{true, false} {
			req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/files/local/"+uploaded.ObjectPath, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)

			var out api.DeleteResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			resp.Body.Close()
			assert.Equal(t, want, out.Deleted)
		}
	})
}

func TestBatchDelete(t *testing.T) {
	ts := newTestServer(t)
	first := uploadRaw(t, ts, "1.txt", "one")
	second := uploadRaw(t, ts, "2.txt", "two")

	body, err := json.Marshal(api.BatchDeleteRequest{
		Paths: []string{first.ObjectPath, second.ObjectPath, "documents/missing.txt"},
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/files/batch-delete", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.BatchDeleteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, map[string]bool{
		first.ObjectPath:        true,
		second.ObjectPath:       true,
		"documents/missing.txt": false,
	}, out.Results)
}

func TestMultipartUploadFlow(t *testing.T) {
	ts := newTestServer(t)

	initBody, err := json.Marshal(api.InitiateUploadRequest{FileName: "video.txt", Size: 6})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/uploads", "application/json", bytes.NewReader(initBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var upload api.InitiateUploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&upload))
	resp.Body.Close()
	require.NotEmpty(t, upload.SessionID)
	assert.Equal(t, interfaces.DefaultBackendKey, upload.BackendKey)

	// Parts arrive out of order and are assembled by part number.
	tags := make([]string, 2)
	for _, p := range []struct {
		number int
		data   string
	}{{2, "def"}, {1, "abc"}} {
		req, err := http.NewRequest(http.MethodPut,
			ts.URL+"/api/uploads/"+upload.SessionID+"/parts/"+strconv.Itoa(p.number),
			strings.NewReader(p.data))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var part api.UploadPartResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&part))
		resp.Body.Close()
		tags[p.number-1] = part.Tag
	}

	completeBody, err := json.Marshal(api.CompleteUploadRequest{PartTags: tags})
	require.NoError(t, err)
	resp, err = http.Post(ts.URL+"/api/uploads/"+upload.SessionID+"/complete", "application/json", bytes.NewReader(completeBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var completed api.CompleteUploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&completed))
	resp.Body.Close()
	assert.Equal(t, upload.ObjectKey, completed.ObjectPath)

	resp, err = http.Get(ts.URL + "/api/files/local/" + completed.ObjectPath)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))

	// The session is gone once completed.
	resp, err = http.Post(ts.URL+"/api/uploads/"+upload.SessionID+"/complete", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/uploads/"+upload.SessionID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var aborted api.AbortUploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&aborted))
	resp.Body.Close()
	assert.False(t, aborted.Aborted)
}

func TestUploadPartInvalidNumber(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/uploads/unknown/parts/x", strings.NewReader("a"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPut, ts.URL+"/api/uploads/unknown/parts/1", strings.NewReader("a"))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{interfaces.ErrNotFound, http.StatusNotFound},
		{interfaces.ErrInvalidSession, http.StatusNotFound},
		{fmt.Errorf("%w: s1", interfaces.ErrSessionBusy), http.StatusConflict},
		{interfaces.ErrInvalidArgument, http.StatusBadRequest},
		{interfaces.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{interfaces.ErrUnsupportedOperation, http.StatusNotImplemented},
		{&interfaces.ConfigurationIncompleteError{Backend: "s3", Missing: []string{"bucket"}}, http.StatusServiceUnavailable},
		{interfaces.ErrNoStrategyAvailable, http.StatusServiceUnavailable},
		{&RequestError{StatusCode: http.StatusTeapot, Err: io.EOF}, http.StatusTeapot},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestHealthAndDrain(t *testing.T) {
	ts := newTestServer(t)

	get := func(path string) int {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/livez"))
	assert.Equal(t, http.StatusOK, get("/readyz"))
	assert.Equal(t, http.StatusOK, get("/drain"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
	assert.Equal(t, http.StatusOK, get("/undrain"))
	assert.Equal(t, http.StatusOK, get("/readyz"))
}

func TestShutdownWithoutStart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      logger,
		GracefulShutdownDuration: time.Second,
	}, nil)
	srv.Shutdown()
	assert.False(t, srv.isReady.Load())
}
