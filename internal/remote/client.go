// Package remote talks to the file server: metadata reads, folder
// listings, content transfer and the change event stream.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	syncerrors "github.com/alexjbarnes/replica-sync/internal/errors"
	"github.com/alexjbarnes/replica-sync/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client. It
	// bounds metadata calls only; content transfers use the request
	// context.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps JSON response reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 4 * 1024 * 1024

	apiPrefix = "/api/v1/accounts/"
)

// Client talks to the file server REST API.
type Client struct {
	httpClient     *http.Client
	transferClient *http.Client
	baseURL        string
	token          string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the bearer token never leaks to
// a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client for the server at baseURL. If
// httpClient is nil, a client with a 30-second timeout and same-host
// redirect policy is created.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	transferClient := httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
		transferClient = &http.Client{CheckRedirect: sameHostRedirectPolicy}
	}

	return &Client{
		httpClient:     httpClient,
		transferClient: transferClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
	}
}

// BaseURL returns the server URL the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// cleanPath puts a remote path in the canonical form the server and the
// local store both use.
func cleanPath(p string) string {
	p = norm.NFC.String(strings.ReplaceAll(p, "\\", "/"))
	return path.Clean("/" + p)
}

func (c *Client) endpoint(account, op, remotePath, spaceID string) string {
	q := url.Values{}
	q.Set("path", cleanPath(remotePath))

	if spaceID != "" {
		q.Set("space", spaceID)
	}

	return c.baseURL + apiPrefix + url.PathEscape(account) + "/" + op + "?" + q.Encode()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", syncerrors.ErrAPIRequest, err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// do sends req and returns the response for a 2xx status. Any other
// status is turned into an error and the body is closed.
func (c *Client) do(hc *http.Client, req *http.Request, what string) (*http.Response, error) {
	resp, err := hc.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%s: %w", what, err)
		if req.Context().Err() != nil {
			return nil, wrapped
		}

		return nil, &TransientError{Err: wrapped}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", what, syncerrors.ErrRemoteNotFound)
	case http.StatusPreconditionFailed:
		return nil, fmt.Errorf("%s: %w", what, syncerrors.ErrUploadPrecondition)
	}

	msg := gjson.GetBytes(body, "error").Str
	if msg == "" {
		msg = sanitizeResponseBody(body)
	}

	err = fmt.Errorf("%s: %w: status %d: %s", what, syncerrors.ErrAPIResponse, resp.StatusCode, msg)
	if isTransientStatus(resp.StatusCode) {
		return nil, &TransientError{Err: err}
	}

	return nil, err
}

func (c *Client) getJSON(ctx context.Context, target, what string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(c.httpClient, req, what)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("%s: reading response: %w", what, err)}
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: %w: invalid JSON", what, syncerrors.ErrAPIResponse)
	}

	return body, nil
}

// parseFile converts one server file object into metadata.
func parseFile(r gjson.Result) models.FileMetadata {
	return models.FileMetadata{
		RemotePath: cleanPath(r.Get("path").Str),
		Etag:       r.Get("etag").Str,
		IsFolder:   r.Get("folder").Bool(),
		Size:       r.Get("size").Int(),
		ModTime:    r.Get("mtime").Int(),
	}
}

// ReadFile fetches the metadata of one remote file or folder. A path the
// server does not know returns an error wrapping errors.ErrRemoteNotFound.
func (c *Client) ReadFile(ctx context.Context, remotePath, account, spaceID string) (*models.FileMetadata, error) {
	what := "reading metadata of " + remotePath

	body, err := c.getJSON(ctx, c.endpoint(account, "meta", remotePath, spaceID), what)
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.Get("path").Exists() {
		return nil, fmt.Errorf("%s: %w: missing file object", what, syncerrors.ErrAPIResponse)
	}

	meta := parseFile(parsed)

	return &meta, nil
}

// ListFolder fetches a folder and its immediate children.
func (c *Client) ListFolder(ctx context.Context, remotePath, account, spaceID string) (models.FileMetadata, []models.FileMetadata, error) {
	what := "listing " + remotePath

	body, err := c.getJSON(ctx, c.endpoint(account, "list", remotePath, spaceID), what)
	if err != nil {
		return models.FileMetadata{}, nil, err
	}

	parsed := gjson.ParseBytes(body)

	folder := models.FileMetadata{RemotePath: cleanPath(remotePath), IsFolder: true}
	if f := parsed.Get("folder"); f.Exists() {
		folder = parseFile(f)
		folder.IsFolder = true
	}

	var children []models.FileMetadata

	parsed.Get("children").ForEach(func(_, value gjson.Result) bool {
		children = append(children, parseFile(value))
		return true
	})

	return folder, children, nil
}

// Download streams the content of a remote file into w and returns the
// etag of the version that was sent.
func (c *Client) Download(ctx context.Context, remotePath, account, spaceID string, w io.Writer) (string, error) {
	what := "downloading " + remotePath

	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(account, "content", remotePath, spaceID), nil)
	if err != nil {
		return "", err
	}

	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.do(c.transferClient, req, what)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	etag := unquoteEtag(resp.Header.Get("ETag"))
	if etag == "" {
		return "", fmt.Errorf("%s: %w: no etag in response", what, syncerrors.ErrAPIResponse)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", &TransientError{Err: fmt.Errorf("%s: %w", what, err)}
	}

	return etag, nil
}

// Precondition restricts an upload to a given server state.
type Precondition struct {
	// IfMatch is the etag the server must still hold.
	IfMatch string

	// IfNoneExists rejects the upload when the path is already taken.
	IfNoneExists bool
}

// Upload sends r as the content of remotePath and returns the new etag.
// When the precondition does not hold the server answers 412 and the
// returned error wraps errors.ErrUploadPrecondition.
func (c *Client) Upload(ctx context.Context, remotePath, account, spaceID string, r io.Reader, pre Precondition) (string, error) {
	what := "uploading " + remotePath

	req, err := c.newRequest(ctx, http.MethodPut, c.endpoint(account, "content", remotePath, spaceID), r)
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/octet-stream")

	if pre.IfMatch != "" {
		req.Header.Set("If-Match", `"`+pre.IfMatch+`"`)
	}

	if pre.IfNoneExists {
		req.Header.Set("If-None-Match", "*")
	}

	resp, err := c.do(c.transferClient, req, what)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("%s: reading response: %w", what, err)}
	}

	etag := gjson.GetBytes(body, "etag").Str
	if etag == "" {
		etag = unquoteEtag(resp.Header.Get("ETag"))
	}

	if etag == "" {
		return "", fmt.Errorf("%s: %w: no etag in response", what, syncerrors.ErrAPIResponse)
	}

	return etag, nil
}

func unquoteEtag(v string) string {
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
