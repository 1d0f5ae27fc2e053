package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/five82/tether/internal/lifecycle"
	"github.com/five82/tether/internal/queue"
	"github.com/five82/tether/internal/state"
	"github.com/five82/tether/internal/worker"
)

const (
	defaultPollInterval = 5 * time.Second
	maxBackoff          = 30 * time.Second
	probeTimeout        = 3 * time.Second
)

// Prober checks whether the note backend is reachable.
type Prober interface {
	Health(ctx context.Context) error
}

// Dispatcher delivers router events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev worker.Event) (worker.Result, error)
}

// StatusSource reports the lifecycle state.
type StatusSource interface {
	Status() lifecycle.Status
}

// Poller probes the backend on a cadence, records what it sees in the store
// and turns connectivity changes into online/offline events.
type Poller struct {
	Store     *state.Store
	Probe     Prober
	Queue     queue.Queue
	Lifecycle StatusSource
	Router    Dispatcher
	// Install, if set, runs after every successful probe. It retries an
	// install that failed while the app origin was unreachable.
	Install func(ctx context.Context) error
	// SyncWanted, if set, reports (and clears) a request to drain while the
	// backend stays reachable, such as a write queued during a blip too
	// short to count as offline.
	SyncWanted func() bool
	Interval   time.Duration
	Logger     *slog.Logger

	offline bool
	done    chan struct{}
}

// Start launches the polling goroutine. It returns immediately; the
// goroutine stops once ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Wait blocks until the goroutine launched by Start has returned. The
// components it polls must stay open until then.
func (p *Poller) Wait() {
	if p.done != nil {
		<-p.done
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	base := p.Interval
	if base <= 0 {
		base = defaultPollInterval
	}
	for {
		failures := p.Tick(ctx)
		timer := time.NewTimer(calculateBackoff(failures, base))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Tick runs one poll and returns the consecutive failure count.
func (p *Poller) Tick(ctx context.Context) int {
	logger := p.logger()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	probeErr := p.Probe.Health(probeCtx)
	cancel()

	pending, err := p.Queue.List(ctx)
	if err != nil {
		logger.Warn("list pending writes failed", "error", err)
		pending = p.Store.Snapshot().Pending
	}
	p.Store.Update(pending, p.Lifecycle.Status(), probeErr)
	snap := p.Store.Snapshot()

	switch {
	case snap.IsOffline() && !p.offline:
		p.offline = true
		logger.Info("backend unreachable", "error", probeErr)
		p.dispatch(ctx, worker.EventOffline)
	case probeErr == nil && p.offline:
		p.offline = false
		logger.Info("backend reachable again")
		p.dispatch(ctx, worker.EventOnline)
	case probeErr == nil && !p.offline && p.SyncWanted != nil && p.SyncWanted():
		p.dispatch(ctx, worker.EventSync)
	}

	if probeErr == nil && p.Install != nil {
		if err := p.Install(ctx); err != nil {
			logger.Warn("install failed, will retry", "error", err)
		}
	}
	return snap.ConsecutiveFailures
}

func (p *Poller) dispatch(ctx context.Context, kind worker.EventKind) {
	if _, err := p.Router.Dispatch(ctx, worker.Event{Kind: kind}); err != nil {
		p.logger().Warn("connectivity event failed", "event", kind, "error", err)
	}
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}

// calculateBackoff doubles the interval per consecutive failure, capped at
// maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	d := base
	for range failures {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
