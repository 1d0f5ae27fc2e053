package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/five82/tether/internal/notes"
)

// Action names the kind of note write a mutation replays.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Op is the payload of a pending mutation. Each action carries only the
// fields it needs: Create, Update and Delete are the only implementations.
type Op interface {
	Action() Action
	validate() error
}

// Create queues a new note. LocalID stands in for the server id until the
// create is delivered; Enqueue fills it in when empty.
type Create struct {
	LocalID string      `json:"local_id"`
	Draft   notes.Draft `json:"draft"`
}

// Update queues a partial edit of an existing note. NoteID may be a local id
// handed out for a create that has not been delivered yet.
type Update struct {
	NoteID string      `json:"note_id"`
	Patch  notes.Patch `json:"patch"`
}

// Delete queues removal of a note.
type Delete struct {
	NoteID string `json:"note_id"`
}

func (Create) Action() Action { return ActionCreate }
func (Update) Action() Action { return ActionUpdate }
func (Delete) Action() Action { return ActionDelete }

// Validate reports whether op carries what its backend call needs.
func Validate(op Op) error {
	if op == nil {
		return errors.New("op is nil")
	}
	return op.validate()
}

func (c Create) validate() error {
	if strings.TrimSpace(c.Draft.Title) == "" {
		return errors.New("create: title is required")
	}
	return nil
}

func (u Update) validate() error {
	if strings.TrimSpace(u.NoteID) == "" {
		return errors.New("update: note id is required")
	}
	if u.Patch.Empty() {
		return errors.New("update: no fields to update")
	}
	return nil
}

func (d Delete) validate() error {
	if strings.TrimSpace(d.NoteID) == "" {
		return errors.New("delete: note id is required")
	}
	return nil
}

// Mutation is one queued note write. Mutations are never edited after they
// are queued; a later edit of the same note is a new mutation.
type Mutation struct {
	ID             int64
	Op             Op
	IdempotencyKey string
	CreatedAt      time.Time
}

// Action returns the kind of write, or "" for a mutation with no payload.
func (m Mutation) Action() Action {
	if m.Op == nil {
		return ""
	}
	return m.Op.Action()
}

// NoteRef returns the id of the note the mutation targets. For creates this
// is the local id.
func (m Mutation) NoteRef() string {
	switch op := m.Op.(type) {
	case Create:
		return op.LocalID
	case Update:
		return op.NoteID
	case Delete:
		return op.NoteID
	}
	return ""
}

// Title returns the note title carried by the mutation, if any.
func (m Mutation) Title() string {
	switch op := m.Op.(type) {
	case Create:
		return op.Draft.Title
	case Update:
		if op.Patch.Title != nil {
			return *op.Patch.Title
		}
	}
	return ""
}

func encodeOp(op Op) ([]byte, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op.Action(), err)
	}
	return payload, nil
}

func decodeOp(action Action, payload []byte) (Op, error) {
	switch action {
	case ActionCreate:
		var op Create
		if err := json.Unmarshal(payload, &op); err != nil {
			return nil, fmt.Errorf("decode create payload: %w", err)
		}
		return op, nil
	case ActionUpdate:
		var op Update
		if err := json.Unmarshal(payload, &op); err != nil {
			return nil, fmt.Errorf("decode update payload: %w", err)
		}
		return op, nil
	case ActionDelete:
		var op Delete
		if err := json.Unmarshal(payload, &op); err != nil {
			return nil, fmt.Errorf("decode delete payload: %w", err)
		}
		return op, nil
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}
