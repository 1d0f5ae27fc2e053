package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/five82/tether/internal/cache"
	"github.com/five82/tether/internal/config"
	"github.com/five82/tether/internal/fetch"
	"github.com/five82/tether/internal/lifecycle"
	"github.com/five82/tether/internal/notes"
	"github.com/five82/tether/internal/queue"
	"github.com/five82/tether/internal/state"
	"github.com/five82/tether/internal/syncer"
	"github.com/five82/tether/internal/worker"
)

// Daemon is every long-lived component, wired together.
type Daemon struct {
	Config      config.Config
	Logger      *slog.Logger
	Store       *state.Store
	Hub         *worker.Hub
	Queue       *queue.Store
	Cache       *cache.Manager
	Backend     *notes.Client
	Lifecycle   *lifecycle.Manager
	Coordinator *syncer.Coordinator
	Saver       *syncer.Saver
	Interceptor *fetch.Interceptor
	Router      *worker.Router
	Proxy       *worker.Proxy

	manifest lifecycle.Manifest

	mu         sync.Mutex
	installed  string
	syncWanted atomic.Bool
}

// DaemonOptions overrides the network transports, for tests.
type DaemonOptions struct {
	// Transport carries proxied app requests and precache fetches.
	Transport http.RoundTripper
	// HTTPClient is used by the note backend client.
	HTTPClient *http.Client
}

// NewDaemon opens the durable stores under cfg.DataDir and wires the
// components. Close releases them.
func NewDaemon(ctx context.Context, cfg config.Config, logger *slog.Logger, opts DaemonOptions) (*Daemon, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	manifest, err := lifecycle.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	d := &Daemon{Config: cfg, Logger: logger, Store: &state.Store{}, Hub: worker.NewHub(), manifest: manifest}

	d.Queue, err = queue.Open(ctx, cfg.QueuePath())
	if err != nil {
		return nil, err
	}
	d.Cache, err = cache.New(cfg.CacheDir())
	if err != nil {
		d.Close()
		return nil, err
	}

	clientOpts := []notes.Option{notes.WithToken(cfg.APIToken)}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, notes.WithHTTPClient(opts.HTTPClient))
	}
	d.Backend, err = notes.NewClient(cfg.BackendURL, clientOpts...)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("init notes client: %w", err)
	}

	d.Lifecycle, err = lifecycle.New(lifecycle.Options{
		Cache:     d.Cache,
		Transport: opts.Transport,
		Origin:    cfg.Origin,
		Namespace: cfg.Namespace,
		StatePath: cfg.LifecycleStatePath(),
		Notify:    d.Hub.LifecycleNotice,
		Logger:    logger,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	if ok, err := d.Lifecycle.Restore(); err != nil {
		logger.Warn("restore active version failed", "error", err)
	} else if ok {
		d.installed = d.Lifecycle.Status().Active.Version
	}

	d.Coordinator, err = syncer.New(syncer.Options{
		Queue:   d.Queue,
		Backend: d.Backend,
		Logger:  logger,
		Notify:  d.syncEvent,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Saver, err = syncer.NewSaver(d.Backend, d.Queue, d.Coordinator, logger)
	if err != nil {
		d.Close()
		return nil, err
	}

	d.Interceptor, err = fetch.New(fetch.Options{
		Transport:   opts.Transport,
		Cache:       d.Cache,
		Queue:       d.Queue,
		Generations: d.Lifecycle,
		Origin:      cfg.Origin,
		APIPrefixes: cfg.APIPrefixes,
		APIHosts:    cfg.APIHosts,
		OnQueued:    func(queue.Mutation) { d.syncWanted.Store(true) },
		Logger:      logger,
	})
	if err != nil {
		d.Close()
		return nil, err
	}

	d.Router, err = worker.NewRouter(worker.Deps{
		Fetch:     d.Interceptor,
		Sync:      d.Coordinator,
		Lifecycle: d.Lifecycle,
		Queue:     d.Queue,
		Hub:       d.Hub,
		Logger:    logger,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Proxy, err = worker.NewProxy(d.Router, cfg.Origin)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) syncEvent(ev syncer.Event) {
	d.Hub.SyncEvent(ev)
	if ev.Kind == syncer.EventDrained {
		d.Store.RecordSync(ev.Report, ev.Err)
	}
}

// Install installs the configured manifest unless that version is already
// installed. Failures leave it to be retried on a later call.
func (d *Daemon) Install(ctx context.Context) error {
	tag := d.manifest.Tag()
	d.mu.Lock()
	done := d.installed == tag
	d.mu.Unlock()
	if done {
		return nil
	}

	m := d.manifest
	res, err := d.Router.Dispatch(ctx, worker.Event{Kind: worker.EventInstall, Manifest: &m})
	if err != nil {
		return fmt.Errorf("install %s: %w", tag, err)
	}
	d.mu.Lock()
	d.installed = res.Worker.Version
	d.mu.Unlock()
	d.Logger.Info("app version installed", "version", res.Worker.Version, "state", res.Worker.State)
	return nil
}

// TakeSyncRequest reports whether a write was queued since the last call.
func (d *Daemon) TakeSyncRequest() bool { return d.syncWanted.Swap(false) }

// Poller returns a poller over the daemon's components.
func (d *Daemon) Poller(interval time.Duration) *Poller {
	return &Poller{
		Store:      d.Store,
		Probe:      d.Backend,
		Queue:      d.Queue,
		Lifecycle:  d.Lifecycle,
		Router:     d.Router,
		Install:    d.Install,
		SyncWanted: d.TakeSyncRequest,
		Interval:   interval,
		Logger:     d.Logger.With("component", "poller"),
	}
}

// Close releases the queue database.
func (d *Daemon) Close() {
	if d.Queue != nil {
		if err := d.Queue.Close(); err != nil && !errors.Is(err, queue.ErrClosed) {
			d.Logger.Warn("close queue", "error", err)
		}
	}
}
