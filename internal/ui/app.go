package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/clanhub/internal/auth"
	"github.com/five82/clanhub/internal/collection"
	"github.com/five82/clanhub/internal/logtail"
	"github.com/five82/clanhub/internal/model"
	"github.com/five82/clanhub/internal/prefs"
)

// Hub is the part of state.Hub the console reads and drives.
type Hub interface {
	Kinds() []model.Kind
	Snapshot(kind model.Kind) (collection.Snapshot, bool)
	Viewer() auth.Viewer
	UnreadCount() int
	OnChange(fn func(model.Kind)) func()

	RefreshKind(ctx context.Context, kind model.Kind) error
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context) error
	ResolveRequest(ctx context.Context, id string, approved bool) (model.Record, error)
}

// Options configures the UI.
type Options struct {
	Context   context.Context
	Hub       Hub
	ThemeName string
	Tab       string
	PrefsPath string
	// LogFile is shown by the log view. Empty disables it.
	LogFile string
	// RefreshEvery is the fallback redraw interval; change notifications
	// trigger redraws in between.
	RefreshEvery time.Duration
	// Online reports whether the realtime feed is connected. Nil means unknown.
	Online func() bool
}

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx       context.Context
	hub       Hub
	prefsPath string
	tick      time.Duration
	online    func() bool
	logFile   string

	theme  Theme
	keys   keyMap
	help   help.Model
	width  int
	height int
	ready  bool

	kinds    []model.Kind
	tab      int
	selected map[model.Kind]int

	snapshot    collection.Snapshot
	unread      int
	lastUpdated time.Time

	notice    string
	noticeErr bool
	showHelp  bool
	showLogs  bool
	logLines  []string
	logErr    error
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	tick := opts.RefreshEvery
	if tick <= 0 {
		tick = time.Second
	}
	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}

	var kinds []model.Kind
	if opts.Hub != nil {
		kinds = opts.Hub.Kinds()
	}
	tab := 0
	for i, k := range kinds {
		if string(k) == opts.Tab {
			tab = i
		}
	}

	h := help.New()
	return Model{
		ctx:       ctx,
		hub:       opts.Hub,
		prefsPath: prefsPath,
		tick:      tick,
		online:    opts.Online,
		logFile:   opts.LogFile,
		theme:     GetTheme(opts.ThemeName),
		keys:      DefaultKeyMap(),
		help:      h,
		kinds:     kinds,
		tab:       tab,
		selected:  make(map[model.Kind]int),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(m.tick), m.fetchSnapshot())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ready = true
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{m.fetchSnapshot(), tickCmd(m.tick)}
		if m.showLogs {
			cmds = append(cmds, m.fetchLogs())
		}
		return m, tea.Batch(cmds...)

	case logsMsg:
		m.logLines = msg.lines
		m.logErr = msg.err
		return m, nil

	case changedMsg:
		kind := model.Kind(msg)
		if kind == m.currentKind() || kind == model.KindNotifications {
			return m, m.fetchSnapshot()
		}
		return m, nil

	case snapshotMsg:
		m.unread = msg.unread
		if msg.snap.Kind == m.currentKind() {
			m.snapshot = msg.snap
			m.lastUpdated = time.Now()
			m.clampSelection()
		}
		return m, nil

	case actionMsg:
		m.notice = msg.text
		m.noticeErr = msg.err != nil
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s: %v", msg.text, msg.err)
		}
		return m, m.fetchSnapshot()
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
	if m.showLogs {
		return m.renderLogs()
	}
	return m.renderMain()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		// any key closes help
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(msg, m.keys.Logs):
		if m.logFile == "" {
			return m, nil
		}
		m.showLogs = !m.showLogs
		if m.showLogs {
			return m, m.fetchLogs()
		}
		return m, nil
	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.savePrefs()
		return m, nil
	case key.Matches(msg, m.keys.NextTab):
		return m.switchTab(1)
	case key.Matches(msg, m.keys.PrevTab):
		return m.switchTab(-1)
	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshCmd()
	case key.Matches(msg, m.keys.Down):
		m.moveSelection(1)
	case key.Matches(msg, m.keys.Up):
		m.moveSelection(-1)
	case key.Matches(msg, m.keys.Top):
		m.selected[m.currentKind()] = 0
	case key.Matches(msg, m.keys.Bottom):
		m.selected[m.currentKind()] = len(m.snapshot.Records) - 1
		m.clampSelection()
	case key.Matches(msg, m.keys.MarkRead):
		return m, m.markReadCmd()
	case key.Matches(msg, m.keys.MarkAllRead):
		return m, m.markAllReadCmd()
	case key.Matches(msg, m.keys.Approve):
		return m, m.resolveCmd(true)
	case key.Matches(msg, m.keys.Reject):
		return m, m.resolveCmd(false)
	}
	return m, nil
}

func (m Model) switchTab(delta int) (tea.Model, tea.Cmd) {
	if len(m.kinds) == 0 {
		return m, nil
	}
	m.tab = (m.tab + delta + len(m.kinds)) % len(m.kinds)
	m.snapshot = collection.Snapshot{Kind: m.currentKind()}
	m.notice = ""
	m.savePrefs()
	return m, m.fetchSnapshot()
}

func (m Model) currentKind() model.Kind {
	if len(m.kinds) == 0 {
		return ""
	}
	return m.kinds[m.tab]
}

func (m *Model) moveSelection(delta int) {
	kind := m.currentKind()
	m.selected[kind] += delta
	m.clampSelection()
}

func (m *Model) clampSelection() {
	kind := m.currentKind()
	n := len(m.snapshot.Records)
	sel := m.selected[kind]
	if sel >= n {
		sel = n - 1
	}
	if sel < 0 {
		sel = 0
	}
	m.selected[kind] = sel
}

func (m Model) selectedRecord() (model.Record, bool) {
	sel := m.selected[m.currentKind()]
	if sel < 0 || sel >= len(m.snapshot.Records) {
		return nil, false
	}
	return m.snapshot.Records[sel], true
}

func (m Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	_ = prefs.Save(m.prefsPath, prefs.Prefs{Theme: m.theme.Name, Tab: string(m.currentKind())})
}

// Messages

type tickMsg time.Time

type changedMsg model.Kind

type snapshotMsg struct {
	snap   collection.Snapshot
	unread int
}

type logsMsg struct {
	lines []string
	err   error
}

type actionMsg struct {
	text string
	err  error
}

var errNoSelection = errors.New("nothing selected")

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchSnapshot() tea.Cmd {
	hub, kind := m.hub, m.currentKind()
	if hub == nil || kind == "" {
		return nil
	}
	return func() tea.Msg {
		snap, _ := hub.Snapshot(kind)
		return snapshotMsg{snap: snap, unread: hub.UnreadCount()}
	}
}

func (m Model) fetchLogs() tea.Cmd {
	path := m.logFile
	n := max(m.height-4, 10)
	return func() tea.Msg {
		lines, err := logtail.Tail(path, n)
		return logsMsg{lines: lines, err: err}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	hub, ctx, kind := m.hub, m.ctx, m.currentKind()
	if hub == nil || kind == "" {
		return nil
	}
	return func() tea.Msg {
		return actionMsg{text: "reloaded " + kind.Title(), err: hub.RefreshKind(ctx, kind)}
	}
}

func (m Model) markReadCmd() tea.Cmd {
	if m.hub == nil || m.currentKind() != model.KindNotifications {
		return nil
	}
	rec, ok := m.selectedRecord()
	if !ok {
		return actionCmd("mark read", errNoSelection)
	}
	hub, ctx, id := m.hub, m.ctx, rec.ID()
	return func() tea.Msg {
		return actionMsg{text: "marked read", err: hub.MarkAsRead(ctx, id)}
	}
}

func (m Model) markAllReadCmd() tea.Cmd {
	if m.hub == nil {
		return nil
	}
	hub, ctx := m.hub, m.ctx
	return func() tea.Msg {
		return actionMsg{text: "marked all read", err: hub.MarkAllAsRead(ctx)}
	}
}

func (m Model) resolveCmd(approved bool) tea.Cmd {
	if m.hub == nil || m.currentKind() != model.KindClanRequests {
		return nil
	}
	verb := "rejected"
	if approved {
		verb = "approved"
	}
	if !m.hub.Viewer().Privileged {
		return actionCmd("resolve request", errors.New("admin only"))
	}
	rec, ok := m.selectedRecord()
	if !ok {
		return actionCmd("resolve request", errNoSelection)
	}
	hub, ctx, id := m.hub, m.ctx, rec.ID()
	return func() tea.Msg {
		_, err := hub.ResolveRequest(ctx, id, approved)
		return actionMsg{text: verb + " request " + id, err: err}
	}
}

func actionCmd(text string, err error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{text: text, err: err}
	}
}

// Run starts the Bubble Tea program and blocks until the user quits or the
// context is cancelled.
func Run(opts Options) error {
	if opts.Hub == nil {
		return fmt.Errorf("ui requires a hub")
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	p := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx))

	stop := opts.Hub.OnChange(func(kind model.Kind) {
		go p.Send(changedMsg(kind))
	})
	defer stop()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
