package ui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/tether/internal/config"
	"github.com/five82/tether/internal/notes"
	"github.com/five82/tether/internal/prefs"
	"github.com/five82/tether/internal/queue"
	"github.com/five82/tether/internal/state"
	"github.com/five82/tether/internal/syncer"
	"github.com/five82/tether/internal/worker"
)

// View represents the current active view.
type View int

const (
	ViewPending View = iota
	ViewLogs
)

// Dispatcher sends events to the worker router.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev worker.Event) (worker.Result, error)
}

// NoteSaver is the write path used by the quick-note prompt.
type NoteSaver interface {
	Create(ctx context.Context, draft notes.Draft) (syncer.Outcome, error)
}

// Options configures the UI.
type Options struct {
	Context   context.Context
	Store     *state.Store
	Router    Dispatcher
	Queue     queue.Queue
	Saver     NoteSaver
	Hub       *worker.Hub
	Config    *config.Config
	ProxyAddr string
	PollTick  time.Duration
	Prefs     prefs.Prefs
	PrefsPath string
}

// Model is the root application state for Bubble Tea.
type Model struct {
	// Configuration
	ctx       context.Context
	store     *state.Store
	router    Dispatcher
	queue     queue.Queue
	saver     NoteSaver
	config    *config.Config
	proxyAddr string
	pollTick  time.Duration
	prefs     prefs.Prefs
	prefsPath string
	keys      keyMap

	// Notices
	notices       <-chan worker.Notice
	cancelNotices func()

	// UI state
	theme       Theme
	currentView View
	width       int
	height      int
	ready       bool

	// Data state
	snapshot    state.Snapshot
	lastUpdated time.Time

	selectedRow int
	busy        string

	logState logState
	toasts   []toast

	modal    Modal
	showHelp bool
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	pollTick := opts.PollTick
	if pollTick == 0 {
		pollTick = DefaultUIInterval
	}

	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}

	m := Model{
		ctx:         ctx,
		store:       opts.Store,
		router:      opts.Router,
		queue:       opts.Queue,
		saver:       opts.Saver,
		config:      opts.Config,
		proxyAddr:   opts.ProxyAddr,
		pollTick:    pollTick,
		prefs:       opts.Prefs,
		prefsPath:   prefsPath,
		keys:        DefaultKeyMap(),
		theme:       GetTheme(opts.Prefs.Theme),
		currentView: ViewPending,
		logState:    newLogState(),
	}
	if opts.Hub != nil {
		m.notices, m.cancelNotices = opts.Hub.Subscribe(noticeBuffer)
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tea.EnterAltScreen,
		tickCmd(m.pollTick),
	}
	if m.store != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.store))
	}
	if m.notices != nil {
		cmds = append(cmds, waitForNotice(m.notices))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resizeLogViewport()
		return m, nil

	case tickMsg:
		return m.handleTick(time.Time(msg))

	case snapshotMsg:
		m.snapshot = state.Snapshot(msg)
		m.lastUpdated = time.Now()
		m.clampSelection()
		return m, nil

	case noticeMsg:
		if t, ok := toastForNotice(worker.Notice(msg), m.prefs.HideSyncFailures); ok {
			m.pushToast(t)
		}
		return m, waitForNotice(m.notices)

	case actionDoneMsg:
		m.busy = ""
		if msg.text != "" {
			m.pushToast(toast{kind: msg.kind, text: msg.text})
		}
		if m.store != nil {
			return m, fetchSnapshotCmd(m.store)
		}
		return m, nil

	case logEntriesMsg:
		m.handleLogEntries(msg)
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	if m.modal != nil {
		return m.modal.View(m.theme, m.width, m.height)
	}
	return m.renderMain()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		// Any key closes help
		m.showHelp = false
		return m, nil
	}

	if m.modal != nil {
		next, cmd, done := m.modal.Update(msg, m.keys)
		if done {
			m.modal = nil
		} else {
			m.modal = next
		}
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.cancelNotices != nil {
			m.cancelNotices()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.prefs.Theme = m.theme.Name
		m.savePrefs()
		m.logState.render(m.theme.Styles())
		return m, nil

	case key.Matches(msg, m.keys.ToggleFailures):
		m.prefs.HideSyncFailures = !m.prefs.HideSyncFailures
		m.savePrefs()
		if m.prefs.HideSyncFailures {
			m.pushToast(toast{kind: toastInfo, text: "Sync failure alerts hidden"})
		} else {
			m.pushToast(toast{kind: toastInfo, text: "Sync failure alerts shown"})
		}
		return m, nil

	case key.Matches(msg, m.keys.ViewPending):
		m.currentView = ViewPending
		return m, nil

	case key.Matches(msg, m.keys.ViewLogs):
		m.currentView = ViewLogs
		return m, m.refreshLogs()

	case key.Matches(msg, m.keys.Sync):
		return m.startSync()

	case key.Matches(msg, m.keys.Update):
		return m.confirmUpdate()

	case key.Matches(msg, m.keys.ClearAll):
		return m.confirmClear()

	case key.Matches(msg, m.keys.NewNote):
		if m.saver == nil {
			return m, nil
		}
		m.modal = newNoteModal(func(title string) tea.Cmd {
			return createNoteCmd(m.ctx, m.saver, title)
		})
		return m, nil
	}

	switch m.currentView {
	case ViewPending:
		return m.handlePendingKey(msg)
	case ViewLogs:
		return m.handleLogsKey(msg)
	}
	return m, nil
}

func (m Model) startSync() (tea.Model, tea.Cmd) {
	if m.router == nil || m.busy != "" {
		return m, nil
	}
	m.busy = "Syncing"
	return m, syncCmd(m.ctx, m.router)
}

func (m Model) confirmUpdate() (tea.Model, tea.Cmd) {
	waiting := m.snapshot.Lifecycle.Waiting
	if waiting == nil || m.router == nil {
		m.pushToast(toast{kind: toastInfo, text: "No update waiting"})
		return m, nil
	}
	m.modal = confirmModal{
		title: "Update to " + waiting.Version + "?",
		body:  "The app shell switches to the new version. Reload open tabs after updating.",
		onConfirm: func() tea.Cmd {
			return skipWaitingCmd(m.ctx, m.router)
		},
	}
	return m, nil
}

func (m Model) confirmClear() (tea.Model, tea.Cmd) {
	depth := m.snapshot.QueueDepth()
	if depth == 0 || m.queue == nil {
		m.pushToast(toast{kind: toastInfo, text: "Nothing pending"})
		return m, nil
	}
	m.modal = confirmModal{
		title: "Discard " + plural(depth, "pending change") + "?",
		body:  "They will never reach the server.",
		onConfirm: func() tea.Cmd {
			return clearPendingCmd(m.ctx, m.queue)
		},
	}
	return m, nil
}

func (m *Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	if err := prefs.Save(m.prefsPath, m.prefs); err != nil {
		m.pushToast(toast{kind: toastError, text: "Could not save preferences: " + err.Error()})
	}
}

func (m Model) handleTick(now time.Time) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	m.pruneToasts(now)

	if m.store != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.store))
	}
	if m.currentView == ViewLogs && m.logState.follow {
		if cmd := m.refreshLogs(); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}

	cmds = append(cmds, tickCmd(m.pollTick))
	return m, tea.Batch(cmds...)
}

func (m Model) renderMain() string {
	out := m.renderHeader() + "\n" + m.renderCommandBar() + "\n"
	switch m.currentView {
	case ViewLogs:
		out += m.renderLogs()
	default:
		out += m.renderPending()
	}
	if t := m.renderToasts(); t != "" {
		out += "\n" + t
	}
	return out
}

// Messages

type tickMsg time.Time

type snapshotMsg state.Snapshot

type noticeMsg worker.Notice

// actionDoneMsg reports a finished user action. An empty text shows nothing;
// the hub already announced the result.
type actionDoneMsg struct {
	kind toastKind
	text string
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshotCmd(store *state.Store) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(store.Snapshot())
	}
}

func waitForNotice(ch <-chan worker.Notice) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

func syncCmd(ctx context.Context, r Dispatcher) tea.Cmd {
	return func() tea.Msg {
		res, err := r.Dispatch(ctx, worker.Event{Kind: worker.EventSync})
		if err != nil {
			// The hub publishes drain failures.
			return actionDoneMsg{}
		}
		rep := res.Report
		if rep != nil && len(rep.Delivered) == 0 && len(rep.Failed) == 0 {
			return actionDoneMsg{kind: toastInfo, text: "Nothing to sync"}
		}
		return actionDoneMsg{}
	}
}

func skipWaitingCmd(ctx context.Context, r Dispatcher) tea.Cmd {
	return func() tea.Msg {
		if _, err := r.Dispatch(ctx, worker.Event{Kind: worker.EventSkipWaiting}); err != nil {
			return actionDoneMsg{kind: toastError, text: "Update failed: " + err.Error()}
		}
		return actionDoneMsg{}
	}
}

func clearPendingCmd(ctx context.Context, q queue.Queue) tea.Cmd {
	return func() tea.Msg {
		if err := q.Clear(ctx); err != nil {
			return actionDoneMsg{kind: toastError, text: "Discard failed: " + err.Error()}
		}
		return actionDoneMsg{kind: toastSuccess, text: "Pending changes discarded"}
	}
}

func discardPendingCmd(ctx context.Context, q queue.Queue, id int64) tea.Cmd {
	return func() tea.Msg {
		if err := q.Remove(ctx, id); err != nil {
			return actionDoneMsg{kind: toastError, text: "Discard failed: " + err.Error()}
		}
		return actionDoneMsg{kind: toastSuccess, text: "Pending change discarded"}
	}
}

func createNoteCmd(ctx context.Context, s NoteSaver, title string) tea.Cmd {
	return func() tea.Msg {
		out, err := s.Create(ctx, notes.Draft{Title: title})
		switch {
		case err != nil:
			return actionDoneMsg{kind: toastError, text: "Save failed: " + err.Error()}
		case out.Queued:
			return actionDoneMsg{kind: toastWarn, text: "Saved offline. It will sync when the server is reachable."}
		default:
			return actionDoneMsg{kind: toastSuccess, text: "Created " + quoteTitle(out.Note.Title)}
		}
	}
}

// Run starts the Bubble Tea program and blocks until the user quits or
// opts.Context is cancelled.
func Run(opts Options) error {
	m := New(opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(m.ctx))
	_, err := p.Run()
	if m.cancelNotices != nil {
		m.cancelNotices()
	}
	if errors.Is(err, tea.ErrProgramKilled) && m.ctx.Err() != nil {
		return nil
	}
	return err
}
