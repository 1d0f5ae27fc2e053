package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/five82/tether/internal/notes"
	"github.com/five82/tether/internal/queue"
	"github.com/five82/tether/internal/storage"
)

// ErrUnresolved means a mutation targets a note created offline whose create
// has not been delivered yet.
var ErrUnresolved = errors.New("note create not delivered yet")

// EventKind names a coordinator event.
type EventKind string

const (
	EventDelivered EventKind = "delivered"
	EventFailed    EventKind = "failed"
	EventDrained   EventKind = "drained"
)

// Event reports progress of a drain. Mutation and Err are set for
// delivered/failed events, Report for drained.
type Event struct {
	Kind     EventKind
	Mutation queue.Mutation
	Err      error
	Report   Report
}

// Failure is a mutation that stayed queued after a delivery attempt.
type Failure struct {
	ID     int64
	Action queue.Action
	Err    error
}

// Report summarizes a drain.
type Report struct {
	Delivered []int64
	Failed    []Failure
	Remaining int
	Passes    int
	// Coalesced is set when the request joined a drain that was already
	// running; that drain makes one more pass on its behalf.
	Coalesced bool
}

// Options configures a Coordinator.
type Options struct {
	Queue   queue.Queue
	Backend notes.Backend
	Logger  *slog.Logger
	// Notify, if set, receives every event. It is called synchronously from
	// the draining goroutine.
	Notify func(Event)
}

// Coordinator replays queued mutations against the backend, one drain at a
// time.
type Coordinator struct {
	queue   queue.Queue
	backend notes.Backend
	logger  *slog.Logger
	notify  func(Event)

	mu      sync.Mutex
	running bool
	again   bool
}

// New builds a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Queue == nil {
		return nil, errors.New("syncer: queue is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("syncer: backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		queue:   opts.Queue,
		backend: opts.Backend,
		logger:  logger.With("component", "sync"),
		notify:  opts.Notify,
	}, nil
}

// Running reports whether a drain is in progress.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Drain delivers every queued mutation in id order. A mutation is removed
// only after the backend acknowledged it. Network errors and rejections
// leave the mutation queued and the drain moves on; a storage failure
// aborts the drain and is returned.
//
// If a drain is already running, Drain returns at once with Coalesced set
// and the running drain makes one more pass when it finishes.
//
// Cancelling ctx stops the drain between mutations. A delivery already in
// flight is allowed to finish so its outcome is recorded.
func (c *Coordinator) Drain(ctx context.Context) (Report, error) {
	c.mu.Lock()
	if c.running {
		c.again = true
		c.mu.Unlock()
		c.logger.Debug("drain already running, coalesced")
		return Report{Coalesced: true}, nil
	}
	c.running = true
	c.mu.Unlock()

	var total Report
	for {
		rep, err := c.pass(ctx)
		total.Passes++
		total.Delivered = append(total.Delivered, rep.Delivered...)
		total.Failed = rep.Failed
		total.Remaining = rep.Remaining

		c.mu.Lock()
		if err != nil || !c.again || ctx.Err() != nil {
			c.running = false
			c.again = false
			c.mu.Unlock()
			if err == nil {
				err = ctx.Err()
			}
			c.finish(total, err)
			return total, err
		}
		c.again = false
		c.mu.Unlock()
	}
}

func (c *Coordinator) finish(rep Report, err error) {
	attrs := []any{
		"delivered", len(rep.Delivered),
		"failed", len(rep.Failed),
		"remaining", rep.Remaining,
		"passes", rep.Passes,
	}
	if err != nil {
		c.logger.Warn("drain aborted", append(attrs, "error", err)...)
	} else if len(rep.Delivered) > 0 || len(rep.Failed) > 0 {
		c.logger.Info("drain finished", attrs...)
	}
	c.emit(Event{Kind: EventDrained, Report: rep, Err: err})
}

func (c *Coordinator) pass(ctx context.Context) (Report, error) {
	var rep Report
	list, err := c.queue.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("list pending mutations: %w", err)
	}
	rep.Remaining = len(list)

	// Deliveries and removals run to completion once started.
	work := context.WithoutCancel(ctx)
	for _, m := range list {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := c.deliver(work, m); err != nil {
			if storage.IsStorage(err) {
				return rep, fmt.Errorf("deliver mutation %d: %w", m.ID, err)
			}
			c.logger.Warn("delivery failed, mutation stays queued",
				"pending_id", m.ID, "action", m.Action(), "note", m.NoteRef(), "error", err)
			rep.Failed = append(rep.Failed, Failure{ID: m.ID, Action: m.Action(), Err: err})
			c.emit(Event{Kind: EventFailed, Mutation: m, Err: err})
			continue
		}
		if err := c.queue.Remove(work, m.ID); err != nil {
			return rep, fmt.Errorf("remove delivered mutation %d: %w", m.ID, err)
		}
		rep.Delivered = append(rep.Delivered, m.ID)
		rep.Remaining--
		c.logger.Debug("mutation delivered", "pending_id", m.ID, "action", m.Action(), "note", m.NoteRef())
		c.emit(Event{Kind: EventDelivered, Mutation: m})
	}

	if n, err := c.queue.Count(work); err == nil {
		rep.Remaining = n
	}
	return rep, nil
}

func (c *Coordinator) deliver(ctx context.Context, m queue.Mutation) error {
	switch op := m.Op.(type) {
	case queue.Create:
		note, err := c.backend.CreateNote(ctx, m.IdempotencyKey, op.Draft)
		if err != nil {
			return err
		}
		if op.LocalID != "" && note.ID != "" {
			if err := c.queue.BindAlias(ctx, op.LocalID, note.ID); err != nil {
				return err
			}
		}
		return nil
	case queue.Update:
		id, err := c.resolve(ctx, op.NoteID)
		if err != nil {
			return err
		}
		_, err = c.backend.UpdateNote(ctx, m.IdempotencyKey, id, op.Patch)
		return err
	case queue.Delete:
		id, err := c.resolve(ctx, op.NoteID)
		if err != nil {
			return err
		}
		return c.backend.DeleteNote(ctx, m.IdempotencyKey, id)
	default:
		return fmt.Errorf("unsupported mutation payload %T", m.Op)
	}
}

func (c *Coordinator) resolve(ctx context.Context, id string) (string, error) {
	resolved, err := c.queue.ResolveAlias(ctx, id)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(resolved, queue.LocalIDPrefix) {
		return "", fmt.Errorf("%w: %s", ErrUnresolved, id)
	}
	return resolved, nil
}

func (c *Coordinator) emit(ev Event) {
	if c.notify != nil {
		c.notify(ev)
	}
}
