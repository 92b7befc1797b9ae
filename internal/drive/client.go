// Package drive is a small client for the Google Drive v3 API,
// restricted to the hidden per-application appDataFolder. It knows about
// exactly one kind of file: a JSON document identified by name.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/pairchat/internal/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TransientError wraps an error that is likely temporary. Callers may
// surface it differently but nothing retries automatically.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// DefaultFileName is the well-known name of the chat history document.
const DefaultFileName = "chat_history.json"

// Scope grants access to the appDataFolder only.
const Scope = "https://www.googleapis.com/auth/drive.appdata"

const (
	// maxRedirects matches the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is used when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxDocumentBytes caps document downloads. A larger document is an
	// error, never a truncated body.
	maxDocumentBytes = 64 * 1024 * 1024

	// documentMimeType is the content type of the stored document.
	documentMimeType = "application/json"
)

// Client talks to the Drive v3 API.
type Client struct {
	httpClient *http.Client
	fileName   string

	// endpoint overrides the API base path. Empty means the library
	// default.
	endpoint string

	maxDocument int64
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the bearer token never reaches
// a third party.
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

// NewClient creates a Drive client. If httpClient is nil, a client with a
// 30-second timeout and same-host redirect policy is created. An empty
// fileName means DefaultFileName.
func NewClient(httpClient *http.Client, fileName string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	if fileName == "" {
		fileName = DefaultFileName
	}

	return &Client{
		httpClient:  httpClient,
		fileName:    fileName,
		maxDocument: maxDocumentBytes,
	}
}

// FileName returns the name of the document this client manages.
func (c *Client) FileName() string {
	return c.fileName
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

// service builds a Drive service that authenticates every request with
// token. The client's timeout and redirect policy carry over.
func (c *Client) service(ctx context.Context, token string) (*drivev3.Service, error) {
	hc := *c.httpClient
	hc.Transport = &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		Base:   c.httpClient.Transport,
	}

	opts := []option.ClientOption{option.WithHTTPClient(&hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}

	return svc, nil
}

// wrap classifies an error returned by the Drive library. API errors are
// mapped by status and reason; anything else failed in transport.
func wrap(endpoint string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classify(endpoint, gerr.Code, []byte(gerr.Body))
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// Network errors (timeouts, connection refused, DNS failures) are
	// transient by nature.
	return &TransientError{Err: fmt.Errorf("%w: %s: %w", apperrors.ErrAPIRequest, endpoint, err)}
}

// classify maps a non-2xx Drive response to an error.
func classify(endpoint string, code int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").Str
	if msg == "" {
		msg = sanitizeResponseBody(body)
	}

	reasons := errorReasons(body)

	switch {
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s (%d): %s", apperrors.ErrUnauthorized, endpoint, code, msg)

	case code == http.StatusForbidden && hasAny(reasons, "insufficientPermissions", "ACCESS_TOKEN_SCOPE_INSUFFICIENT"):
		return fmt.Errorf("%w: %s (%d): %s", apperrors.ErrScopeMissing, endpoint, code, msg)

	case code == http.StatusForbidden && hasAny(reasons, "rateLimitExceeded", "userRateLimitExceeded"):
		return &TransientError{Err: fmt.Errorf("%w: %s (%d): %s", apperrors.ErrAPIResponse, endpoint, code, msg)}

	case isTransientStatus(code):
		return &TransientError{Err: fmt.Errorf("%w: %s (%d): %s", apperrors.ErrAPIResponse, endpoint, code, msg)}
	}

	return fmt.Errorf("%w: %s (%d): %s", apperrors.ErrAPIResponse, endpoint, code, msg)
}

// errorReasons collects the machine-readable reasons from a Google API
// error body. Both the legacy errors[] form and the newer details[] form
// are read.
func errorReasons(body []byte) []string {
	var out []string

	for _, path := range []string{"error.errors.#.reason", "error.details.#.reason", "error.status"} {
		for _, r := range gjson.GetBytes(body, path).Array() {
			out = append(out, r.Str)
		}
	}

	return out
}

func hasAny(have []string, want ...string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}

	return false
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem.
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

// FindDocument searches the appDataFolder for the document by name. The
// bool is false when no such file exists.
func (c *Client) FindDocument(ctx context.Context, token string) (string, bool, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return "", false, err
	}

	q := fmt.Sprintf("name='%s' and 'appDataFolder' in parents and trashed=false", strings.ReplaceAll(c.fileName, "'", `\'`))

	list, err := svc.Files.List().
		Spaces("appDataFolder").
		Q(q).
		Fields("files(id,name)").
		Context(ctx).
		Do()
	if err != nil {
		return "", false, fmt.Errorf("searching for %s: %w", c.fileName, wrap("files.list", err))
	}

	if len(list.Files) == 0 || list.Files[0].Id == "" {
		return "", false, nil
	}

	return list.Files[0].Id, true, nil
}

// CreateDocument creates the document in the appDataFolder with the
// given JSON body and returns its file id.
func (c *Client) CreateDocument(ctx context.Context, token string, content []byte) (string, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return "", err
	}

	meta := &drivev3.File{
		Name:     c.fileName,
		Parents:  []string{"appDataFolder"},
		MimeType: documentMimeType,
	}

	f, err := svc.Files.Create(meta).
		Media(bytes.NewReader(content), googleapi.ContentType(documentMimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", c.fileName, wrap("files.create", err))
	}

	if f.Id == "" {
		return "", fmt.Errorf("creating %s: %w: response has no id", c.fileName, apperrors.ErrAPIResponse)
	}

	return f.Id, nil
}

// ReadDocument downloads the raw content of the document. A document
// larger than the download cap is an ErrAPIResponse, so a caller never
// mistakes a cut-off body for the whole document.
func (c *Client) ReadDocument(ctx context.Context, token, fileID string) ([]byte, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fileID, wrap("files.get", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDocument+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fileID, wrap("files.get", err))
	}

	if int64(len(body)) > c.maxDocument {
		return nil, fmt.Errorf("reading %s: %w: document too large (over %d bytes)", fileID, apperrors.ErrAPIResponse, c.maxDocument)
	}

	return body, nil
}

// WriteDocument overwrites the content of the document.
func (c *Client) WriteDocument(ctx context.Context, token, fileID string, content []byte) error {
	svc, err := c.service(ctx, token)
	if err != nil {
		return err
	}

	_, err = svc.Files.Update(fileID, &drivev3.File{MimeType: documentMimeType}).
		Media(bytes.NewReader(content), googleapi.ContentType(documentMimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("writing %s: %w", fileID, wrap("files.update", err))
	}

	return nil
}
