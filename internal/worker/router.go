package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/five82/tether/internal/lifecycle"
	"github.com/five82/tether/internal/queue"
	"github.com/five82/tether/internal/syncer"
)

// ErrUnknownEvent is returned by Dispatch for a kind with no handler.
var ErrUnknownEvent = errors.New("unknown event kind")

// EventKind names an inbound event.
type EventKind string

const (
	EventFetch       EventKind = "fetch"
	EventSync        EventKind = "sync"
	EventInstall     EventKind = "install"
	EventSkipWaiting EventKind = "skip-waiting"
	EventCacheURLs   EventKind = "cache-urls"
	EventOnline      EventKind = "online"
	EventOffline     EventKind = "offline"
)

// Event is one inbound event. Only the field matching Kind is read.
type Event struct {
	Kind     EventKind
	Request  *http.Request       // fetch
	Manifest *lifecycle.Manifest // install
	URLs     []string            // cache-urls
}

// Result is what a handler produced. Only the field matching the event kind
// is set.
type Result struct {
	Response *http.Response    // fetch
	Report   *syncer.Report    // sync, online
	Worker   *lifecycle.Worker // install, skip-waiting
	Stored   int               // cache-urls
}

// HandlerFunc handles one event kind.
type HandlerFunc func(ctx context.Context, ev Event) (Result, error)

// Drainer runs a sync drain.
type Drainer interface {
	Drain(ctx context.Context) (syncer.Report, error)
}

// Lifecycle is the lifecycle manager surface the router drives.
type Lifecycle interface {
	Install(ctx context.Context, m lifecycle.Manifest) (lifecycle.Worker, error)
	SkipWaiting(ctx context.Context) (lifecycle.Worker, error)
	CacheURLs(ctx context.Context, urls []string) (int, error)
	Status() lifecycle.Status
}

// Deps are the components the router dispatches to.
type Deps struct {
	Fetch     http.RoundTripper
	Sync      Drainer
	Lifecycle Lifecycle
	Queue     queue.Queue
	Hub       *Hub
	Logger    *slog.Logger
}

// Router maps inbound events to their handlers through an explicit table.
type Router struct {
	deps     Deps
	hub      *Hub
	logger   *slog.Logger
	handlers map[EventKind]HandlerFunc

	mu     sync.Mutex
	online bool
}

// NewRouter builds the dispatch table over deps.
func NewRouter(deps Deps) (*Router, error) {
	switch {
	case deps.Fetch == nil:
		return nil, errors.New("worker: fetch transport is required")
	case deps.Sync == nil:
		return nil, errors.New("worker: sync coordinator is required")
	case deps.Lifecycle == nil:
		return nil, errors.New("worker: lifecycle manager is required")
	case deps.Queue == nil:
		return nil, errors.New("worker: queue is required")
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Router{
		deps:   deps,
		hub:    hub,
		logger: logger.With("component", "router"),
		online: true,
	}
	r.handlers = map[EventKind]HandlerFunc{
		EventFetch:       r.handleFetch,
		EventSync:        r.handleSync,
		EventInstall:     r.handleInstall,
		EventSkipWaiting: r.handleSkipWaiting,
		EventCacheURLs:   r.handleCacheURLs,
		EventOnline:      r.handleOnline,
		EventOffline:     r.handleOffline,
	}
	return r, nil
}

// Hub returns the notice hub.
func (r *Router) Hub() *Hub { return r.hub }

// Online reports the last connectivity state the router was told about.
func (r *Router) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// Dispatch runs the handler registered for ev.Kind.
func (r *Router) Dispatch(ctx context.Context, ev Event) (Result, error) {
	h, ok := r.handlers[ev.Kind]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
	return h(ctx, ev)
}

func (r *Router) handleFetch(_ context.Context, ev Event) (Result, error) {
	if ev.Request == nil {
		return Result{}, errors.New("fetch event without request")
	}
	resp, err := r.deps.Fetch.RoundTrip(ev.Request)
	if err != nil {
		return Result{}, err
	}
	return Result{Response: resp}, nil
}

func (r *Router) handleSync(ctx context.Context, _ Event) (Result, error) {
	rep, err := r.deps.Sync.Drain(ctx)
	if err != nil {
		return Result{Report: &rep}, fmt.Errorf("sync: %w", err)
	}
	return Result{Report: &rep}, nil
}

func (r *Router) handleInstall(ctx context.Context, ev Event) (Result, error) {
	m := lifecycle.DefaultManifest()
	if ev.Manifest != nil {
		m = *ev.Manifest
	}
	w, err := r.deps.Lifecycle.Install(ctx, m)
	if err != nil {
		return Result{}, err
	}
	return Result{Worker: &w}, nil
}

func (r *Router) handleSkipWaiting(ctx context.Context, _ Event) (Result, error) {
	w, err := r.deps.Lifecycle.SkipWaiting(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Worker: &w}, nil
}

func (r *Router) handleCacheURLs(ctx context.Context, ev Event) (Result, error) {
	n, err := r.deps.Lifecycle.CacheURLs(ctx, ev.URLs)
	return Result{Stored: n}, err
}

// handleOnline records restored connectivity and drains the queue.
func (r *Router) handleOnline(ctx context.Context, _ Event) (Result, error) {
	if r.setOnline(true) {
		r.logger.Info("connectivity restored")
		r.hub.Publish(Notice{Kind: NoticeOnline, Message: "Back online"})
	}
	return r.handleSync(ctx, Event{Kind: EventSync})
}

func (r *Router) handleOffline(_ context.Context, _ Event) (Result, error) {
	if r.setOnline(false) {
		r.logger.Info("connectivity lost")
		r.hub.Publish(Notice{Kind: NoticeOffline, Message: "Offline: changes will sync when the connection returns"})
	}
	return Result{}, nil
}

// setOnline stores v and reports whether it changed.
func (r *Router) setOnline(v bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := r.online != v
	r.online = v
	return changed
}
