package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/five82/tether/internal/cache"
)

var (
	// ErrNotWaiting is returned by SkipWaiting when no installed version is
	// waiting to take over.
	ErrNotWaiting = errors.New("no worker is waiting to activate")
	// ErrNoActive is returned by CacheURLs before any version is active.
	ErrNoActive = errors.New("no active worker")
)

// State is a worker's position in the install/activate lifecycle.
type State string

const (
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

// Worker is one installed version of the app.
type Worker struct {
	Version     string    `json:"version"`
	Precache    string    `json:"precache"`
	Runtime     string    `json:"runtime"`
	State       State     `json:"state"`
	InstalledAt time.Time `json:"installed_at"`
}

// NoticeKind names a lifecycle notice.
type NoticeKind string

const (
	NoticeUpdateAvailable NoticeKind = "update-available"
	NoticeActivated       NoticeKind = "activated"
)

// Notice tells the UI about a lifecycle change.
type Notice struct {
	Kind     NoticeKind
	Version  string
	Previous string
}

// Status is a point-in-time copy of the manager's workers.
type Status struct {
	Active     *Worker `json:"active,omitempty"`
	Waiting    *Worker `json:"waiting,omitempty"`
	Installing *Worker `json:"installing,omitempty"`
}

// UpdateAvailable reports whether a newer version is waiting.
func (s Status) UpdateAvailable() bool { return s.Waiting != nil }

// Options configures a Manager.
type Options struct {
	Cache *cache.Manager
	// Transport fetches precache assets. It must reach the network directly,
	// not through the caches. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Origin is the app origin the manifest paths are relative to.
	Origin    string
	Namespace string
	// StatePath, if set, records the active version so a restarted daemon
	// keeps serving it.
	StatePath string
	Notify    func(Notice)
	Logger    *slog.Logger
}

// Manager installs app versions into cache generations and hands control
// from one version to the next only when told to.
type Manager struct {
	cache     *cache.Manager
	client    *http.Client
	origin    *url.URL
	namespace string
	statePath string
	notify    func(Notice)
	logger    *slog.Logger
	now       func() time.Time

	installMu sync.Mutex // one install at a time

	mu         sync.Mutex
	active     *Worker
	waiting    *Worker
	installing *Worker
}

// New builds a Manager with no active version.
func New(opts Options) (*Manager, error) {
	if opts.Cache == nil {
		return nil, errors.New("lifecycle: cache manager is required")
	}
	origin, err := url.Parse(strings.TrimSpace(opts.Origin))
	if err != nil {
		return nil, fmt.Errorf("lifecycle: parse origin %q: %w", opts.Origin, err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("lifecycle: origin %q must be absolute", opts.Origin)
	}
	ns := strings.TrimSpace(opts.Namespace)
	if ns == "" {
		return nil, errors.New("lifecycle: namespace is required")
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		cache:     opts.Cache,
		client:    &http.Client{Transport: transport},
		origin:    &url.URL{Scheme: origin.Scheme, Host: origin.Host},
		namespace: ns,
		statePath: opts.StatePath,
		notify:    opts.Notify,
		logger:    logger.With("component", "lifecycle"),
		now:       time.Now,
	}, nil
}

// ActiveGenerations returns the generation names of the active version, or
// empty names if none is active.
func (m *Manager) ActiveGenerations() (precache, runtime string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", ""
	}
	return m.active.Precache, m.active.Runtime
}

// Status returns copies of the current workers.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Active:     cloneWorker(m.active),
		Waiting:    cloneWorker(m.waiting),
		Installing: cloneWorker(m.installing),
	}
}

func cloneWorker(w *Worker) *Worker {
	if w == nil {
		return nil
	}
	c := *w
	return &c
}

// Restore adopts the version recorded at StatePath as active, provided its
// precache generation is still on disk. It reports whether a version was
// restored. A missing or unreadable record is not an error.
func (m *Manager) Restore() (bool, error) {
	if m.statePath == "" {
		return false, nil
	}
	data, err := os.ReadFile(m.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lifecycle state: %w", err)
	}
	var w Worker
	if err := json.Unmarshal(data, &w); err != nil || w.Version == "" {
		m.logger.Warn("ignoring unreadable lifecycle state", "path", m.statePath, "error", err)
		return false, nil
	}
	names, err := m.cache.Generations()
	if err != nil {
		return false, err
	}
	found := false
	for _, n := range names {
		if n == w.Precache {
			found = true
			break
		}
	}
	if !found {
		m.logger.Info("recorded version has no precache, reinstall needed", "version", w.Version)
		return false, nil
	}
	w.State = StateActive
	m.mu.Lock()
	m.active = &w
	m.mu.Unlock()
	m.logger.Info("restored active version", "version", w.Version)
	return true, nil
}

// Install precaches manifest's assets as a new version. If no version is
// active the new one activates immediately; otherwise it waits for
// SkipWaiting, replacing any older waiting version. Installing the version
// that is already active or waiting is a no-op.
//
// Any asset that fails to fetch or answers non-200 fails the install; the
// worker stays installing and a later Install retries from scratch.
func (m *Manager) Install(ctx context.Context, manifest Manifest) (Worker, error) {
	if len(manifest.Assets) == 0 {
		return Worker{}, errors.New("install: manifest lists no assets")
	}
	m.installMu.Lock()
	defer m.installMu.Unlock()

	tag := manifest.Tag()
	m.mu.Lock()
	for _, existing := range []*Worker{m.active, m.waiting} {
		if existing != nil && existing.Version == tag {
			w := *existing
			m.mu.Unlock()
			return w, nil
		}
	}
	precache, runtime := GenerationNames(m.namespace, tag)
	w := &Worker{Version: tag, Precache: precache, Runtime: runtime, State: StateInstalling}
	m.installing = w
	m.mu.Unlock()

	m.logger.Info("installing version", "version", tag, "assets", len(manifest.Assets))
	if err := m.precache(ctx, w, manifest.Assets); err != nil {
		m.logger.Warn("install failed", "version", tag, "error", err)
		return *cloneWorker(w), fmt.Errorf("install %s: %w", tag, err)
	}

	m.mu.Lock()
	m.installing = nil
	w.InstalledAt = m.now().UTC()

	if m.active == nil {
		notice := m.activateLocked(w)
		out := *w
		m.mu.Unlock()
		m.emit(notice)
		return out, nil
	}
	if m.waiting != nil {
		m.logger.Info("newer version replaces waiting version", "version", tag, "replaced", m.waiting.Version)
		m.waiting.State = StateRedundant
		if _, err := m.cache.DeleteGeneration(m.waiting.Precache); err != nil {
			m.logger.Warn("purge replaced precache failed", "generation", m.waiting.Precache, "error", err)
		}
	}
	w.State = StateWaiting
	m.waiting = w
	out := *w
	previous := m.active.Version
	m.mu.Unlock()

	m.logger.Info("version installed, waiting", "version", tag, "active", previous)
	m.emit(Notice{Kind: NoticeUpdateAvailable, Version: tag, Previous: previous})
	return out, nil
}

// precache fetches every asset before storing any, so a failed install
// leaves no partial generation behind.
func (m *Manager) precache(ctx context.Context, w *Worker, assets []string) error {
	entries := make([]cache.Entry, 0, len(assets))
	for _, asset := range assets {
		entry, err := m.fetch(ctx, asset)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	gen, err := m.cache.Open(w.Precache)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := gen.Put(e.Key, e); err != nil {
			if _, delErr := m.cache.DeleteGeneration(w.Precache); delErr != nil {
				m.logger.Warn("discard partial precache failed", "generation", w.Precache, "error", delErr)
			}
			return err
		}
	}
	return nil
}

func (m *Manager) fetch(ctx context.Context, rawURL string) (cache.Entry, error) {
	target, err := m.origin.Parse(rawURL)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("resolve %q: %w", rawURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return cache.Entry{}, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}
	return cache.Snapshot(cache.KeyFor(req), resp, m.now())
}

// SkipWaiting activates the waiting version: stale generations are purged,
// the previous active version becomes redundant and the waiting one takes
// over.
func (m *Manager) SkipWaiting(ctx context.Context) (Worker, error) {
	if err := ctx.Err(); err != nil {
		return Worker{}, err
	}
	m.mu.Lock()
	if m.waiting == nil {
		m.mu.Unlock()
		return Worker{}, ErrNotWaiting
	}
	w := m.waiting
	m.waiting = nil
	notice := m.activateLocked(w)
	out := *w
	m.mu.Unlock()

	m.emit(notice)
	return out, nil
}

// activateLocked runs with m.mu held and returns the notice to emit once it
// is released.
func (m *Manager) activateLocked(w *Worker) Notice {
	w.State = StateActivating
	m.purge(w)

	previous := ""
	if m.active != nil {
		previous = m.active.Version
		m.active.State = StateRedundant
	}
	if _, err := m.cache.Open(w.Runtime); err != nil {
		m.logger.Warn("open runtime generation failed", "generation", w.Runtime, "error", err)
	}
	w.State = StateActive
	m.active = w
	m.saveState(w)
	m.logger.Info("version activated", "version", w.Version, "previous", previous)
	return Notice{Kind: NoticeActivated, Version: w.Version, Previous: previous}
}

// purge deletes every generation that is not one of w's or of the version
// still installing. Failures are logged; the leftovers are swept at the next
// activation. Runs with m.mu held.
func (m *Manager) purge(w *Worker) {
	names, err := m.cache.Generations()
	if err != nil {
		m.logger.Warn("list generations failed", "error", err)
		return
	}
	keep := map[string]bool{w.Precache: true, w.Runtime: true}
	if m.installing != nil {
		keep[m.installing.Precache] = true
		keep[m.installing.Runtime] = true
	}
	for _, name := range names {
		if keep[name] {
			continue
		}
		if _, err := m.cache.DeleteGeneration(name); err != nil {
			m.logger.Warn("delete stale generation failed", "generation", name, "error", err)
			continue
		}
		m.logger.Info("deleted stale generation", "generation", name)
	}
}

func (m *Manager) saveState(w *Worker) {
	if m.statePath == "" {
		return
	}
	data, err := json.Marshal(w)
	if err != nil {
		m.logger.Warn("encode lifecycle state failed", "error", err)
		return
	}
	if err := atomic.WriteFile(m.statePath, bytes.NewReader(data)); err != nil {
		m.logger.Warn("write lifecycle state failed", "path", m.statePath, "error", err)
	}
}

// CacheURLs fetches each URL and stores the 200 answers in the active
// runtime generation. It returns how many were stored; failures for single
// URLs are joined into the error without stopping the rest.
func (m *Manager) CacheURLs(ctx context.Context, urls []string) (int, error) {
	_, runtime := m.ActiveGenerations()
	if runtime == "" {
		return 0, ErrNoActive
	}
	gen, err := m.cache.Open(runtime)
	if err != nil {
		return 0, err
	}
	var (
		stored int
		errs   []error
	)
	for _, u := range urls {
		if strings.TrimSpace(u) == "" {
			continue
		}
		entry, err := m.fetch(ctx, u)
		if err == nil {
			err = gen.Put(entry.Key, entry)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stored++
	}
	return stored, errors.Join(errs...)
}

func (m *Manager) emit(n Notice) {
	if m.notify != nil {
		m.notify(n)
	}
}
