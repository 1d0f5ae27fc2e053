package ui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/five82/tether/internal/lifecycle"
	"github.com/five82/tether/internal/notes"
	"github.com/five82/tether/internal/prefs"
	"github.com/five82/tether/internal/queue"
	"github.com/five82/tether/internal/state"
	"github.com/five82/tether/internal/syncer"
	"github.com/five82/tether/internal/worker"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	kinds  []worker.EventKind
	report syncer.Report
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev worker.Event) (worker.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kinds = append(d.kinds, ev.Kind)
	if d.err != nil {
		return worker.Result{}, d.err
	}
	rep := d.report
	return worker.Result{Report: &rep}, nil
}

type recordingSaver struct {
	drafts []notes.Draft
	queued bool
}

func (s *recordingSaver) Create(_ context.Context, d notes.Draft) (syncer.Outcome, error) {
	s.drafts = append(s.drafts, d)
	return syncer.Outcome{Note: notes.Note{ID: "n1", Title: d.Title}, Queued: s.queued}, nil
}

type fixture struct {
	model  Model
	queue  *queue.Store
	store  *state.Store
	router *recordingDispatcher
	saver  *recordingSaver
	hub    *worker.Hub
	prefs  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	q, err := queue.Open(context.Background(), filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("queue.Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	f := &fixture{
		queue:  q,
		store:  &state.Store{},
		router: &recordingDispatcher{},
		saver:  &recordingSaver{},
		hub:    worker.NewHub(),
		prefs:  filepath.Join(dir, "prefs.toml"),
	}
	f.model = New(Options{
		Store:     f.store,
		Router:    f.router,
		Queue:     q,
		Saver:     f.saver,
		Hub:       f.hub,
		PrefsPath: f.prefs,
	})
	f.model = update(t, f.model, tea.WindowSizeMsg{Width: 120, Height: 30})
	return f
}

// enqueue adds ops to the queue and loads them into the model's snapshot.
func (f *fixture) enqueue(t *testing.T, ops ...queue.Op) {
	t.Helper()
	ctx := context.Background()
	for _, op := range ops {
		if _, err := f.queue.Enqueue(ctx, op); err != nil {
			t.Fatalf("Enqueue returned error: %v", err)
		}
	}
	f.refresh(t)
}

func (f *fixture) refresh(t *testing.T) {
	t.Helper()
	list, err := f.queue.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	f.store.Update(list, f.store.Snapshot().Lifecycle, nil)
	f.model = update(t, f.model, snapshotMsg(f.store.Snapshot()))
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return out
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
}

// press sends keys in order and returns the command from the last one.
func press(t *testing.T, m Model, keys ...string) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(keyMsg(k))
		m = next.(Model)
	}
	return m, cmd
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m Model, cmd tea.Cmd) (Model, tea.Msg) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	msg := cmd()
	return update(t, m, msg), msg
}

func TestModel_SyncDispatchesEvent(t *testing.T) {
	f := newFixture(t)

	m, cmd := press(t, f.model, "s")
	if m.busy == "" {
		t.Fatal("expected busy indicator while syncing")
	}
	if _, again := press(t, m, "s"); again != nil {
		t.Fatal("second sync started while the first was running")
	}

	m, msg := run(t, m, cmd)
	done, ok := msg.(actionDoneMsg)
	if !ok {
		t.Fatalf("msg = %T, want actionDoneMsg", msg)
	}
	if done.text != "Nothing to sync" {
		t.Fatalf("text = %q", done.text)
	}
	if m.busy != "" {
		t.Fatalf("busy = %q after sync finished", m.busy)
	}
	if diff := cmp.Diff([]worker.EventKind{worker.EventSync}, f.router.kinds); diff != "" {
		t.Fatalf("dispatched mismatch (-want +got):\n%s", diff)
	}
}

func TestModel_SyncLeavesResultsToHub(t *testing.T) {
	tests := []struct {
		name   string
		report syncer.Report
		err    error
	}{
		{name: "delivered", report: syncer.Report{Delivered: []int64{1}}},
		{name: "failed", report: syncer.Report{Failed: []syncer.Failure{{ID: 1}}}},
		{name: "error", err: errors.New("disk full")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.router.report, f.router.err = tt.report, tt.err
			m, cmd := press(t, f.model, "s")
			m, _ = run(t, m, cmd)
			if len(m.toasts) != 0 {
				t.Fatalf("toasts = %+v, want none", m.toasts)
			}
		})
	}
}

func TestModel_DiscardSelectedAfterConfirm(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t,
		queue.Delete{NoteID: "n1"},
		queue.Delete{NoteID: "n2"},
		queue.Delete{NoteID: "n3"},
	)

	m, _ := press(t, f.model, "j", "d")
	if m.modal == nil {
		t.Fatal("expected confirm modal")
	}
	if view := m.View(); !strings.Contains(view, "Discard pending delete?") {
		t.Fatalf("modal view missing title:\n%s", view)
	}

	m, cmd := press(t, m, "y")
	if m.modal != nil {
		t.Fatal("modal still open after confirm")
	}
	run(t, m, cmd)

	list, err := f.queue.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	var ids []int64
	for _, mut := range list {
		ids = append(ids, mut.ID)
	}
	if diff := cmp.Diff([]int64{1, 3}, ids); diff != "" {
		t.Fatalf("remaining mismatch (-want +got):\n%s", diff)
	}
}

func TestModel_DiscardCancelled(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, queue.Delete{NoteID: "n1"})

	m, cmd := press(t, f.model, "d", "esc")
	if m.modal != nil || cmd != nil {
		t.Fatalf("modal = %v, cmd = %v after cancel", m.modal, cmd)
	}
	if n, _ := f.queue.Count(context.Background()); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestModel_ClearAll(t *testing.T) {
	f := newFixture(t)

	m, cmd := press(t, f.model, "c")
	if m.modal != nil || cmd != nil {
		t.Fatal("clear prompted with nothing pending")
	}
	if len(m.toasts) != 1 || m.toasts[0].text != "Nothing pending" {
		t.Fatalf("toasts = %+v", m.toasts)
	}

	f.model = m
	f.enqueue(t, queue.Delete{NoteID: "n1"}, queue.Delete{NoteID: "n2"})
	m, _ = press(t, f.model, "c")
	if view := m.View(); !strings.Contains(view, "Discard 2 pending changes?") {
		t.Fatalf("modal view missing title:\n%s", view)
	}
	m, cmd = press(t, m, "enter")
	run(t, m, cmd)
	if n, _ := f.queue.Count(context.Background()); n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
}

func TestModel_UpdateRequiresWaitingVersion(t *testing.T) {
	f := newFixture(t)

	m, cmd := press(t, f.model, "u")
	if m.modal != nil || cmd != nil {
		t.Fatal("update prompted without a waiting version")
	}

	f.store.Update(nil, lifecycle.Status{
		Active:  &lifecycle.Worker{Version: "v1", State: lifecycle.StateActive},
		Waiting: &lifecycle.Worker{Version: "v2", State: lifecycle.StateWaiting},
	}, nil)
	m = update(t, m, snapshotMsg(f.store.Snapshot()))
	if view := m.View(); !strings.Contains(view, "Version v2 is ready") {
		t.Fatalf("header missing update banner:\n%s", view)
	}

	m, _ = press(t, m, "u")
	if m.modal == nil {
		t.Fatal("expected confirm modal")
	}
	m, cmd = press(t, m, "y")
	run(t, m, cmd)
	if diff := cmp.Diff([]worker.EventKind{worker.EventSkipWaiting}, f.router.kinds); diff != "" {
		t.Fatalf("dispatched mismatch (-want +got):\n%s", diff)
	}
}

func TestModel_QuickNote(t *testing.T) {
	f := newFixture(t)
	f.saver.queued = true

	m, _ := press(t, f.model, "n")
	if _, ok := m.modal.(noteModal); !ok {
		t.Fatalf("modal = %T, want noteModal", m.modal)
	}

	m, cmd := press(t, m, "enter")
	if m.modal == nil || cmd != nil {
		t.Fatal("empty title submitted")
	}

	m, _ = press(t, m, "M", "i", "l", "k")
	m, cmd = press(t, m, "enter")
	if m.modal != nil {
		t.Fatal("modal still open after submit")
	}
	m, msg := run(t, m, cmd)

	if diff := cmp.Diff([]notes.Draft{{Title: "Milk"}}, f.saver.drafts); diff != "" {
		t.Fatalf("drafts mismatch (-want +got):\n%s", diff)
	}
	if done := msg.(actionDoneMsg); done.kind != toastWarn {
		t.Fatalf("queued save toast kind = %v, want warn", done.kind)
	}
	if len(m.toasts) != 1 {
		t.Fatalf("toasts = %+v", m.toasts)
	}
}

func TestModel_CycleThemeSavesPrefs(t *testing.T) {
	f := newFixture(t)
	if f.model.theme.Name != "Nightfox" {
		t.Fatalf("default theme = %q", f.model.theme.Name)
	}

	m, _ := press(t, f.model, "T")
	if m.theme.Name != "Kanagawa" {
		t.Fatalf("theme = %q, want Kanagawa", m.theme.Name)
	}
	m, _ = press(t, m, "x")
	if !m.prefs.HideSyncFailures {
		t.Fatal("expected sync failure alerts hidden")
	}

	got, err := prefs.Load(f.prefs)
	if err != nil {
		t.Fatalf("prefs.Load returned error: %v", err)
	}
	want := prefs.Prefs{Theme: "Kanagawa", HideSyncFailures: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("prefs mismatch (-want +got):\n%s", diff)
	}
}

func TestModel_NoticesBecomeToasts(t *testing.T) {
	f := newFixture(t)
	m := f.model

	f.hub.Publish(worker.Notice{Kind: worker.NoticeOffline, Message: "Offline"})
	msg := waitForNotice(m.notices)()
	m = update(t, m, msg)
	if len(m.toasts) != 1 || m.toasts[0].kind != toastWarn {
		t.Fatalf("toasts = %+v", m.toasts)
	}

	m.pruneToasts(time.Now().Add(ToastTTL + time.Second))
	if len(m.toasts) != 0 {
		t.Fatalf("toasts not pruned: %+v", m.toasts)
	}
}

func TestModel_QuitCancelsSubscription(t *testing.T) {
	f := newFixture(t)

	_, cmd := press(t, f.model, "e")
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if _, ok := <-f.model.notices; ok {
		t.Fatal("notice channel still open after quit")
	}
}

func TestModel_PendingSelection(t *testing.T) {
	f := newFixture(t)
	title := "b"
	f.enqueue(t,
		queue.Create{Draft: notes.Draft{Title: "a"}},
		queue.Update{NoteID: "n1", Patch: notes.Patch{Title: &title}},
		queue.Delete{NoteID: "n2"},
	)

	tests := []struct {
		keys []string
		want int
	}{
		{keys: []string{"j"}, want: 1},
		{keys: []string{"j", "j", "j", "j"}, want: 2},
		{keys: []string{"G", "k"}, want: 1},
		{keys: []string{"G", "g"}, want: 0},
		{keys: []string{"k"}, want: 0},
	}
	for _, tt := range tests {
		m, _ := press(t, f.model, tt.keys...)
		if m.selectedRow != tt.want {
			t.Fatalf("keys %v: selectedRow = %d, want %d", tt.keys, m.selectedRow, tt.want)
		}
	}

	m, _ := press(t, f.model, "G")
	if err := f.queue.Clear(context.Background()); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	f.model = m
	f.refresh(t)
	if f.model.selectedRow != 0 {
		t.Fatalf("selectedRow = %d after queue emptied", f.model.selectedRow)
	}
	if view := f.model.View(); !strings.Contains(view, "Everything is synced") {
		t.Fatalf("empty view:\n%s", view)
	}
}
