// Package files is the HTTP facade over the file service (tree, content,
// rename, share and bulk operations) plus the Service that wires it together
// with document sessions and the notification channel.
package files

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brianly1003/docsync/internal/auth"
	"github.com/brianly1003/docsync/internal/backoff"
	"github.com/brianly1003/docsync/internal/domain"
	"github.com/brianly1003/docsync/internal/pathutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	apiPrefix = "/api/files"

	DefaultTimeout    = 15 * time.Second
	DefaultRetries    = 3
	DefaultRetryBase  = 100 * time.Millisecond
	DefaultRetryMax   = 2 * time.Second
	maxResponseBytes  = 32 * 1024 * 1024
	defaultTextFormat = "text/plain"
)

// HTTPError is a non-2xx response from the file service.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is maps the service's status codes and error codes onto domain sentinels.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case domain.ErrNotFound:
		return e.StatusCode == http.StatusNotFound || e.Code == domain.ErrCodeNotFound
	case domain.ErrConflict:
		return e.StatusCode == http.StatusConflict || e.Code == domain.ErrCodeConflict
	case domain.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden ||
			e.Code == domain.ErrCodeUnauthorized
	case domain.ErrInvalidInput:
		return e.StatusCode == http.StatusBadRequest || e.Code == domain.ErrCodeInvalidInput
	}
	return false
}

// Entry is one node of a directory listing.
type Entry struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Type == "directory"
}

// Tree is a directory listing.
type Tree struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
}

// File is the content of one file.
type File struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

// WriteResult acknowledges a write.
type WriteResult struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// BulkResult is the per-path outcome of a bulk operation.
type BulkResult struct {
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the path succeeded.
func (r BulkResult) OK() bool {
	return r.Error == ""
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL    string
	Tokens     auth.Provider
	HTTPClient *http.Client
	Retry      backoff.Policy
}

// Client talks to the file service HTTP API. Every path is normalized before
// it is sent.
type Client struct {
	baseURL    string
	tokens     auth.Provider
	httpClient *http.Client
	retry      backoff.Policy
}

// NewClient creates a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, domain.NewValidationError("base_url", fmt.Sprintf("must be an http(s) url, got %q", opts.BaseURL))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	retry := opts.Retry
	if retry.Base <= 0 {
		retry.Base = DefaultRetryBase
	}
	if retry.Max <= 0 {
		retry.Max = DefaultRetryMax
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultRetries
	}

	return &Client{
		baseURL:    baseURL,
		tokens:     opts.Tokens,
		httpClient: httpClient,
		retry:      retry,
	}, nil
}

// Tree lists path. A depth of zero lets the service pick.
func (c *Client) Tree(ctx context.Context, path string, depth int) (Tree, error) {
	q := url.Values{}
	q.Set("path", pathutil.Normalize(path))
	if depth > 0 {
		q.Set("depth", strconv.Itoa(depth))
	}
	var out Tree
	err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/tree?"+q.Encode(), nil, &out)
	return out, err
}

// Read returns the content of path.
func (c *Client) Read(ctx context.Context, path string) (File, error) {
	var out File
	err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/content?"+pathQuery(path), nil, &out)
	return out, err
}

// Write replaces the content of path.
func (c *Client) Write(ctx context.Context, path, content, contentType string) (WriteResult, error) {
	if contentType == "" {
		contentType = defaultTextFormat
	}
	body := map[string]string{
		"content":     content,
		"contentType": contentType,
	}
	var out WriteResult
	err := c.doJSON(ctx, http.MethodPut, apiPrefix+"/content?"+pathQuery(path), body, &out)
	return out, err
}

// Delete removes path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodDelete, apiPrefix+"/content?"+pathQuery(path), nil, nil)
}

// Mkdir creates a directory.
func (c *Client) Mkdir(ctx context.Context, path string) (Entry, error) {
	body := map[string]string{"path": pathutil.Normalize(path)}
	var out Entry
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/directory", body, &out)
	return out, err
}

// Rename moves from to to.
func (c *Client) Rename(ctx context.Context, from, to string) (Entry, error) {
	body := map[string]string{
		"from": pathutil.Normalize(from),
		"to":   pathutil.Normalize(to),
	}
	var out Entry
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/rename", body, &out)
	return out, err
}

// BulkDelete removes every path, reporting per-path results.
func (c *Client) BulkDelete(ctx context.Context, paths []string) ([]BulkResult, error) {
	body := map[string]any{"paths": normalizeAll(paths)}
	var out struct {
		Results []BulkResult `json:"results"`
	}
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/bulk/delete", body, &out)
	return out.Results, err
}

// BulkMove moves every path into destination, reporting per-path results.
func (c *Client) BulkMove(ctx context.Context, paths []string, destination string) ([]BulkResult, error) {
	body := map[string]any{
		"paths":       normalizeAll(paths),
		"destination": pathutil.Normalize(destination),
	}
	var out struct {
		Results []BulkResult `json:"results"`
	}
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/bulk/move", body, &out)
	return out.Results, err
}

func pathQuery(path string) string {
	q := url.Values{}
	q.Set("path", pathutil.Normalize(path))
	return q.Encode()
}

func normalizeAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = pathutil.Normalize(p)
	}
	return out
}

// doJSON performs one API call, retrying transport errors, 429 and 5xx with
// the client's backoff policy.
func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.tokens != nil {
			if token, ok := c.tokens.Token(ctx); ok {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !c.retry.Exhausted(attempt) {
				if waitErr := c.wait(ctx, method, requestPath, attempt, "", err); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if retryable(resp.StatusCode) && !c.retry.Exhausted(attempt) {
			statusErr := fmt.Errorf("status %d", resp.StatusCode)
			if waitErr := c.wait(ctx, method, requestPath, attempt, resp.Header.Get("Retry-After"), statusErr); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		if errPayload.Message == "" {
			errPayload.Message = http.StatusText(resp.StatusCode)
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *Client) wait(ctx context.Context, method, requestPath string, attempt int, retryAfter string, cause error) error {
	delay := c.retry.Delay(attempt)
	if d := parseRetryAfter(retryAfter); d > 0 && d < c.retry.Max {
		delay = d
	}
	log.Debug().
		Err(cause).
		Str("method", method).
		Str("request", requestPath).
		Int("attempt", attempt+1).
		Dur("delay", delay).
		Msg("retrying file service request")
	return backoff.Wait(ctx, delay)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the file service.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
