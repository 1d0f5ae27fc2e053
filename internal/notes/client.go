package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Backend is the note capability the sync coordinator delivers to.
// *Client implements it; tests substitute fakes.
type Backend interface {
	CreateNote(ctx context.Context, idempotencyKey string, draft Draft) (Note, error)
	UpdateNote(ctx context.Context, idempotencyKey, id string, patch Patch) (Note, error)
	DeleteNote(ctx context.Context, idempotencyKey, id string) error
}

// Ensure Client implements Backend at compile time.
var _ Backend = (*Client)(nil)

// IdempotencyHeader carries a mutation's idempotency key on write requests.
const IdempotencyHeader = "Idempotency-Key"

const (
	defaultBaseURL   = "http://127.0.0.1:8000"
	defaultUserAgent = "tether/0.1"
	requestTimeout   = 10 * time.Second
	maxErrorBody     = 64 << 10
)

// APIError is a server rejection: the backend answered, with a 4xx or 5xx.
type APIError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api %s %s returned status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("api %s %s returned status %d: %s", e.Method, e.Path, e.Status, e.Detail)
}

// NetworkError means the request never produced a response.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "execute request: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is a transport failure rather than a
// server answer.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsRejection reports whether err is a server rejection and returns it.
func IsRejection(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Client talks to the note HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	token     string
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient builds a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: requestTimeout,
		},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized backend URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// CreateNote posts a new note. The server answers 201 with the stored note.
func (c *Client) CreateNote(ctx context.Context, idempotencyKey string, draft Draft) (Note, error) {
	if c == nil {
		return Note{}, fmt.Errorf("client is nil")
	}
	var note Note
	if err := c.do(ctx, http.MethodPost, "/notes/", idempotencyKey, draft, &note); err != nil {
		return Note{}, err
	}
	return note, nil
}

// UpdateNote applies patch to note id.
func (c *Client) UpdateNote(ctx context.Context, idempotencyKey, id string, patch Patch) (Note, error) {
	if c == nil {
		return Note{}, fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(id) == "" {
		return Note{}, fmt.Errorf("note id required")
	}
	var note Note
	if err := c.do(ctx, http.MethodPut, notePath(id), idempotencyKey, patch, &note); err != nil {
		return Note{}, err
	}
	return note, nil
}

// DeleteNote removes note id. The server answers 204.
func (c *Client) DeleteNote(ctx context.Context, idempotencyKey, id string) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("note id required")
	}
	return c.do(ctx, http.MethodDelete, notePath(id), idempotencyKey, nil, nil)
}

// GetNote fetches one note.
func (c *Client) GetNote(ctx context.Context, id string) (Note, error) {
	if c == nil {
		return Note{}, fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(id) == "" {
		return Note{}, fmt.Errorf("note id required")
	}
	var note Note
	if err := c.do(ctx, http.MethodGet, notePath(id), "", nil, &note); err != nil {
		return Note{}, err
	}
	return note, nil
}

// ListNotes fetches the signed-in user's notes.
func (c *Client) ListNotes(ctx context.Context) ([]Note, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	var list []Note
	if err := c.do(ctx, http.MethodGet, "/notes/", "", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Health probes GET /health. Any 2xx answer counts as reachable.
func (c *Client) Health(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	var payload healthResponse
	if err := c.do(ctx, http.MethodGet, "/health", "", nil, &payload); err != nil {
		return err
	}
	if payload.Status != "" && payload.Status != "healthy" {
		return fmt.Errorf("backend reports status %q", payload.Status)
	}
	return nil
}

func notePath(id string) string {
	return "/notes/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, dest any) error {
	rel := &url.URL{Path: strings.TrimSuffix(c.baseURL.Path, "/") + path}
	reqURL := c.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			apiErr.Detail = eb.Detail
		}
		return apiErr
	}
	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse backend_url %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse backend_url %q: missing host", raw)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
