package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/five82/tether/internal/notes"
	"github.com/five82/tether/internal/queue"
)

// Outcome is the result of a save.
type Outcome struct {
	// Note is the stored note when the backend answered directly.
	Note notes.Note
	// Queued is set when the write is waiting in the pending-write store.
	Queued   bool
	Mutation queue.Mutation
}

// Saver is the write path for the UI: try the backend, queue on network
// failure.
type Saver struct {
	backend notes.Backend
	queue   queue.Queue
	coord   *Coordinator
	logger  *slog.Logger
}

// NewSaver builds a Saver. coord may be nil, in which case writes queued
// behind earlier mutations wait for the next drain.
func NewSaver(backend notes.Backend, q queue.Queue, coord *Coordinator, logger *slog.Logger) (*Saver, error) {
	if backend == nil || q == nil {
		return nil, errors.New("syncer: saver needs a backend and a queue")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Saver{backend: backend, queue: q, coord: coord, logger: logger.With("component", "saver")}, nil
}

// Create saves a new note.
func (s *Saver) Create(ctx context.Context, draft notes.Draft) (Outcome, error) {
	return s.save(ctx, queue.Create{Draft: draft})
}

// Update saves a partial edit of note id.
func (s *Saver) Update(ctx context.Context, id string, patch notes.Patch) (Outcome, error) {
	return s.save(ctx, queue.Update{NoteID: id, Patch: patch})
}

// Delete removes note id.
func (s *Saver) Delete(ctx context.Context, id string) (Outcome, error) {
	return s.save(ctx, queue.Delete{NoteID: id})
}

// save sends op straight to the backend unless that would overtake
// mutations already queued, in which case op joins the queue and a drain is
// requested. Server rejections are returned, never queued: a write the drain
// saw rejected is taken back out of the queue. A write that joined a drain
// already in progress is reported as queued and its fate is left to that
// drain.
func (s *Saver) save(ctx context.Context, op queue.Op) (Outcome, error) {
	if err := queue.Validate(op); err != nil {
		return Outcome{}, fmt.Errorf("save: %w", err)
	}
	pending, err := s.queue.Count(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("save %s: %w", op.Action(), err)
	}
	if pending > 0 || targetsLocal(op) {
		return s.enqueueAndDrain(ctx, op)
	}

	note, err := s.direct(ctx, op)
	if err == nil {
		return Outcome{Note: note}, nil
	}
	if !notes.IsNetworkError(err) {
		return Outcome{}, err
	}
	s.logger.Info("backend unreachable, queueing write", "action", op.Action(), "error", err)
	m, qerr := s.queue.Enqueue(ctx, op)
	if qerr != nil {
		return Outcome{}, fmt.Errorf("queue %s after network failure: %w", op.Action(), qerr)
	}
	return Outcome{Queued: true, Mutation: m}, nil
}

func (s *Saver) direct(ctx context.Context, op queue.Op) (notes.Note, error) {
	key := uuid.NewString()
	switch op := op.(type) {
	case queue.Create:
		return s.backend.CreateNote(ctx, key, op.Draft)
	case queue.Update:
		return s.backend.UpdateNote(ctx, key, op.NoteID, op.Patch)
	case queue.Delete:
		return notes.Note{}, s.backend.DeleteNote(ctx, key, op.NoteID)
	}
	return notes.Note{}, fmt.Errorf("unsupported write %T", op)
}

func (s *Saver) enqueueAndDrain(ctx context.Context, op queue.Op) (Outcome, error) {
	m, err := s.queue.Enqueue(ctx, op)
	if err != nil {
		return Outcome{}, fmt.Errorf("queue %s: %w", op.Action(), err)
	}
	out := Outcome{Queued: true, Mutation: m}
	if s.coord == nil {
		return out, nil
	}
	rep, err := s.coord.Drain(ctx)
	if err != nil {
		s.logger.Warn("drain after queued write failed", "pending_id", m.ID, "error", err)
		return out, nil
	}
	if slices.Contains(rep.Delivered, m.ID) {
		out.Queued = false
		return out, nil
	}
	for _, f := range rep.Failed {
		if f.ID != m.ID {
			continue
		}
		if _, rejected := notes.IsRejection(f.Err); !rejected {
			break
		}
		// The server refused it; keeping it queued would replay the refusal
		// on every drain.
		if err := s.queue.Remove(context.WithoutCancel(ctx), m.ID); err != nil {
			return Outcome{}, fmt.Errorf("drop rejected %s %d: %w", op.Action(), m.ID, err)
		}
		return Outcome{}, f.Err
	}
	return out, nil
}

func targetsLocal(op queue.Op) bool {
	switch op := op.(type) {
	case queue.Update:
		return strings.HasPrefix(op.NoteID, queue.LocalIDPrefix)
	case queue.Delete:
		return strings.HasPrefix(op.NoteID, queue.LocalIDPrefix)
	}
	return false
}
