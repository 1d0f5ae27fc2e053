package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/five82/tether/internal/cache"
	"github.com/five82/tether/internal/notes"
	"github.com/five82/tether/internal/queue"
)

// ErrNoContent means the network failed and no cached response could stand
// in for it.
var ErrNoContent = errors.New("no network and no cached response")

// QueuedHeader carries the pending mutation id on a queued write's 202.
const QueuedHeader = "X-Tether-Queued"

// maxWriteBody bounds how much of a note write is buffered for queueing.
// Larger writes are still sent, but cannot be queued.
const maxWriteBody = 4 << 20

// Generations reports the names of the live cache generations. Empty names
// mean no generation is live yet.
type Generations interface {
	ActiveGenerations() (precache, runtime string)
}

// StaticGenerations is a fixed Generations, for tests and single-version use.
type StaticGenerations struct {
	Precache string
	Runtime  string
}

func (s StaticGenerations) ActiveGenerations() (string, string) { return s.Precache, s.Runtime }

// Enqueuer is the part of the pending-write store the interceptor writes to.
// Count and ResolveAlias keep direct writes from overtaking queued ones.
type Enqueuer interface {
	Enqueue(ctx context.Context, op queue.Op) (queue.Mutation, error)
	Count(ctx context.Context) (int, error)
	ResolveAlias(ctx context.Context, id string) (string, error)
}

// Options configures an Interceptor.
type Options struct {
	// Transport performs real network requests. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Cache     *cache.Manager
	// Queue receives note writes that fail on the network. Nil disables
	// queueing and such writes fail with ErrNoContent.
	Queue       Enqueuer
	Generations Generations
	// Origin is the app origin, e.g. "http://localhost:3000".
	Origin string
	// APIPrefixes are path prefixes of the API surface, e.g. "/api/".
	APIPrefixes []string
	// APIHosts are backend hosts (host:port) treated as API surface.
	APIHosts []string
	// OnQueued, if set, is called after a write has been queued.
	OnQueued func(queue.Mutation)
	Logger   *slog.Logger
}

// Interceptor is the http.RoundTripper standing between the app and the
// network.
type Interceptor struct {
	next        http.RoundTripper
	cache       *cache.Manager
	queue       Enqueuer
	gens        Generations
	origin      *url.URL
	apiPrefixes []string
	apiHosts    map[string]bool
	onQueued    func(queue.Mutation)
	logger      *slog.Logger
	now         func() time.Time
}

var _ http.RoundTripper = (*Interceptor)(nil)

// New builds an Interceptor.
func New(opts Options) (*Interceptor, error) {
	if opts.Cache == nil {
		return nil, errors.New("fetch: cache manager is required")
	}
	if opts.Generations == nil {
		return nil, errors.New("fetch: generations source is required")
	}
	origin, err := url.Parse(strings.TrimSpace(opts.Origin))
	if err != nil {
		return nil, fmt.Errorf("fetch: parse origin %q: %w", opts.Origin, err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("fetch: origin %q must be absolute", opts.Origin)
	}
	next := opts.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hosts := make(map[string]bool, len(opts.APIHosts))
	for _, h := range opts.APIHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = true
		}
	}
	var prefixes []string
	for _, p := range opts.APIPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			if !strings.HasPrefix(p, "/") {
				p = "/" + p
			}
			prefixes = append(prefixes, p)
		}
	}
	return &Interceptor{
		next:        next,
		cache:       opts.Cache,
		queue:       opts.Queue,
		gens:        opts.Generations,
		origin:      &url.URL{Scheme: origin.Scheme, Host: origin.Host},
		apiPrefixes: prefixes,
		apiHosts:    hosts,
		onQueued:    opts.OnQueued,
		logger:      logger.With("component", "fetch"),
		now:         time.Now,
	}, nil
}

// Origin returns the app origin the interceptor treats as same-origin.
func (i *Interceptor) Origin() *url.URL {
	u := *i.origin
	return &u
}

// Transport returns the raw network transport, bypassing the caches.
func (i *Interceptor) Transport() http.RoundTripper { return i.next }

// RoundTrip serves req according to its Strategy. Errors come in two
// classes: ones wrapping ErrNoContent mean the network failed and nothing
// could stand in for it, while any other error is a local failure, such as
// the pending-write store refusing a queued write.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	switch i.Classify(req) {
	case NetworkFirst:
		if t, ok := i.noteWrite(req); ok {
			return i.write(req, t)
		}
		return i.networkFirst(req)
	case CacheFirst:
		return i.cacheFirst(req)
	default:
		resp, err := i.next.RoundTrip(req)
		if err != nil {
			return nil, noContent(req, err)
		}
		return resp, nil
	}
}

func (i *Interceptor) networkFirst(req *http.Request) (*http.Response, error) {
	key := cache.KeyFor(req)
	resp, netErr := i.fetchAndStore(req, key)
	if netErr == nil {
		return resp, nil
	}
	if req.Context().Err() != nil {
		return nil, noContent(req, netErr)
	}

	precache, runtime := i.gens.ActiveGenerations()
	if entry, ok := i.match(key, runtime, precache); ok {
		i.logger.Debug("network failed, served from cache", "url", key.URL, "error", netErr)
		return entry.Response(req), nil
	}
	return nil, noContent(req, netErr)
}

func (i *Interceptor) cacheFirst(req *http.Request) (*http.Response, error) {
	key := cache.KeyFor(req)
	precache, runtime := i.gens.ActiveGenerations()
	if cacheable(req) {
		if entry, ok := i.match(key, precache, runtime); ok {
			return entry.Response(req), nil
		}
	}

	resp, netErr := i.fetchAndStore(req, key)
	if netErr == nil {
		return resp, nil
	}
	if req.Context().Err() == nil && isNavigation(req) {
		for _, p := range []string{"/index.html", "/"} {
			shell := cache.Key{Method: http.MethodGet, URL: i.origin.String() + p}
			if entry, ok := i.match(shell, precache, runtime); ok {
				i.logger.Debug("offline navigation, served app shell", "url", key.URL, "shell", shell.URL)
				return entry.Response(req), nil
			}
		}
	}
	return nil, noContent(req, netErr)
}

// fetchAndStore performs the network request. A 200 GET is snapshotted into
// the runtime generation; failures to store are logged and do not affect
// the response. A body that fails mid-read counts as a network failure.
func (i *Interceptor) fetchAndStore(req *http.Request, key cache.Key) (*http.Response, error) {
	resp, err := i.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || !cacheable(req) {
		return resp, nil
	}
	_, runtime := i.gens.ActiveGenerations()
	if runtime == "" {
		return resp, nil
	}
	entry, err := cache.Snapshot(key, resp, i.now())
	if err != nil {
		return nil, err
	}
	gen, err := i.cache.Open(runtime)
	if err == nil {
		err = gen.Put(key, entry)
	}
	if err != nil {
		i.logger.Warn("cache write failed", "url", key.URL, "generation", runtime, "error", err)
	}
	return resp, nil
}

func (i *Interceptor) match(key cache.Key, order ...string) (cache.Entry, bool) {
	names := order[:0:0]
	for _, n := range order {
		if n != "" {
			names = append(names, n)
		}
	}
	entry, ok, err := i.cache.Match(key, names...)
	if err != nil {
		i.logger.Warn("cache read failed", "url", key.URL, "error", err)
		return cache.Entry{}, false
	}
	return entry, ok
}

// noteWrite reports whether req creates, edits or deletes a note, and the
// note id it targets. The id is empty for a create.
func (i *Interceptor) noteWrite(req *http.Request) (string, bool) {
	id, collection, ok := i.noteTarget(req.URL.Path)
	if !ok {
		return "", false
	}
	switch req.Method {
	case http.MethodPost:
		return id, collection
	case http.MethodPut, http.MethodPatch, http.MethodDelete:
		return id, !collection
	}
	return "", false
}

// write sends a note write to the network. If the network fails the write
// is queued and answered with 202; server answers, including rejections,
// are returned as they are.
//
// While earlier writes are pending, or while the target is a local id whose
// create has not been delivered, the write is queued without trying the
// network so it replays after them. Otherwise a local id is rewritten to its
// server id before sending.
func (i *Interceptor) write(req *http.Request, id string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if i.queue == nil {
		resp, err := i.next.RoundTrip(out)
		if err != nil {
			return nil, noContent(req, err)
		}
		return resp, nil
	}

	ctx := context.WithoutCancel(req.Context())
	pending, err := i.queue.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending writes: %w", err)
	}
	held := pending > 0
	if strings.HasPrefix(id, queue.LocalIDPrefix) {
		resolved, err := i.queue.ResolveAlias(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", id, err)
		}
		if strings.HasPrefix(resolved, queue.LocalIDPrefix) {
			held = true
		} else if !held {
			out.URL.Path = replaceNoteID(out.URL.Path, resolved)
			out.URL.RawPath = ""
		}
	}

	body, fits, err := bufferBody(out)
	if err != nil {
		return nil, noContent(req, err)
	}
	if held {
		if !fits {
			return nil, fmt.Errorf("%s %s: body over %d bytes cannot wait behind pending writes", req.Method, req.URL.Path, maxWriteBody)
		}
		op, err := i.opFor(req, body)
		if err == nil {
			return i.enqueue(req, op, "earlier writes pending")
		}
		// Malformed writes cannot be replayed later; let the server answer.
		i.logger.Debug("write not queueable, sending", "method", req.Method, "url", req.URL.String(), "error", err)
	}

	resp, netErr := i.next.RoundTrip(out)
	if netErr == nil {
		return resp, nil
	}
	if req.Context().Err() != nil {
		return nil, noContent(req, netErr)
	}
	if !fits {
		i.logger.Warn("write too large to queue", "method", req.Method, "url", req.URL.String(), "limit", maxWriteBody)
		return nil, noContent(req, netErr)
	}
	op, err := i.opFor(req, body)
	if err != nil {
		i.logger.Debug("write not queueable", "method", req.Method, "url", req.URL.String(), "error", err)
		return nil, noContent(req, netErr)
	}
	return i.enqueue(req, op, netErr.Error())
}

func (i *Interceptor) enqueue(req *http.Request, op queue.Op, reason string) (*http.Response, error) {
	// The client's context may end as soon as we answer; the enqueue must not.
	m, err := i.queue.Enqueue(context.WithoutCancel(req.Context()), op)
	if err != nil {
		return nil, fmt.Errorf("queue %s %s: %w", req.Method, req.URL.Path, err)
	}
	i.logger.Info("write queued", "pending_id", m.ID, "action", m.Action(), "note", m.NoteRef(), "reason", reason)
	if i.onQueued != nil {
		i.onQueued(m)
	}
	return queuedResponse(req, m), nil
}

// QueuedBody is the JSON body of a queued write's 202 response.
type QueuedBody struct {
	Queued    bool         `json:"queued"`
	PendingID int64        `json:"pending_id"`
	Action    queue.Action `json:"action"`
	NoteID    string       `json:"note_id,omitempty"`
}

func queuedResponse(req *http.Request, m queue.Mutation) *http.Response {
	data, _ := json.Marshal(QueuedBody{
		Queued:    true,
		PendingID: m.ID,
		Action:    m.Action(),
		NoteID:    m.NoteRef(),
	})
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(data)))
	header.Set(QueuedHeader, strconv.FormatInt(m.ID, 10))
	return &http.Response{
		Status:        "202 Accepted",
		StatusCode:    http.StatusAccepted,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Request:       req,
	}
}

// bufferBody reads up to maxWriteBody bytes of the request body so it can be
// both sent and, if the network fails, queued. A larger body is left
// streaming to the network and fits is false.
func bufferBody(req *http.Request) (data []byte, fits bool, err error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, true, nil
	}
	data, err = io.ReadAll(io.LimitReader(req.Body, maxWriteBody+1))
	if err != nil {
		_ = req.Body.Close()
		return nil, false, fmt.Errorf("read request body: %w", err)
	}
	if len(data) > maxWriteBody {
		req.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(data), req.Body), Closer: req.Body}
		req.GetBody = nil
		return nil, false, nil
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil }
	req.ContentLength = int64(len(data))
	return data, true, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// replaceNoteID swaps the last segment of a note path for id, keeping any
// trailing slash.
func replaceNoteID(p, id string) string {
	trimmed := strings.TrimSuffix(p, "/")
	out := trimmed[:strings.LastIndex(trimmed, "/")+1] + id
	if len(trimmed) != len(p) {
		out += "/"
	}
	return out
}

func cacheable(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == ""
}

func noContent(req *http.Request, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrNoContent, req.Method, req.URL.Redacted(), err)
}
