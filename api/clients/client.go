package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/object-storage-backend/api"
	"github.com/ruteri/object-storage-backend/interfaces"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response. It unwraps to the sentinel error matching its
// status code, so callers can use errors.Is(err, interfaces.ErrNotFound).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with code %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return interfaces.ErrNotFound
	case http.StatusBadRequest:
		return interfaces.ErrInvalidArgument
	case http.StatusConflict:
		return interfaces.ErrSessionBusy
	case http.StatusRequestEntityTooLarge:
		return interfaces.ErrFileTooLarge
	case http.StatusNotImplemented:
		return interfaces.ErrUnsupportedOperation
	case http.StatusServiceUnavailable:
		return interfaces.ErrBackendUnavailable
	default:
		return nil
	}
}

// transport holds what every client shares: the base URL, optional bearer
// token and the HTTP client.
type transport struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newTransport(baseURL, token string, timeout []time.Duration) transport {
	clientTimeout := defaultTimeout
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}
	return transport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

// newRequest builds a request; a non-nil in is JSON encoded unless it is
// already an io.Reader.
func (t *transport) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch v := in.(type) {
	case nil:
	case io.Reader:
		body = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return req, nil
}

// send performs req and returns the response when its status is 2xx.
func (t *transport) send(req *http.Request) (*http.Response, error) {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(body))
	var errResp api.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		msg = errResp.Error
	}
	return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// do sends a request and decodes a JSON response into out, if non-nil.
func (t *transport) do(ctx context.Context, method, path string, in, out any) error {
	req, err := t.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	resp, err := t.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s %s response: %w", resp.Request.Method, resp.Request.URL.Path, err)
	}
	return nil
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
