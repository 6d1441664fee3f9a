package app

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"medq/internal/modules/chat/dto"
	apperrors "medq/internal/platform/errors"
	"medq/internal/ui/components"
	"medq/internal/ui/theme"
	chatview "medq/internal/ui/views/chat"
	sessionsview "medq/internal/ui/views/sessions"
)

// ─── ports ───────────────────────────────────────────────────────────────────

type chatPort interface {
	State(ctx context.Context) (dto.StateOutput, error)
	CreateSession(ctx context.Context, input dto.CreateSessionInput) (dto.SessionOutput, error)
	SelectSession(ctx context.Context, sessionID string) (dto.StateOutput, error)
	DeleteSession(ctx context.Context, sessionID string) (dto.StateOutput, error)
	ClearSessions(ctx context.Context) (dto.StateOutput, error)
	Ask(ctx context.Context, input dto.AskInput) (dto.AskOutput, error)
	CancelCurrent(ctx context.Context) error
	Export(ctx context.Context, sessionID string) (dto.ExportOutput, error)
	Suggestions(ctx context.Context) []string
}

// ─── focus ───────────────────────────────────────────────────────────────────

type focusID int

const (
	focusPrompt focusID = iota
	focusSessions
)

// ─── async messages ───────────────────────────────────────────────────────────

type stateLoadedMsg struct {
	state dto.StateOutput
	err   error
}

// changedMsg arrives whenever the manager reports a mutation.
type changedMsg struct{}

type actionDoneMsg struct {
	status string
	err    error
}

// ─── key bindings ─────────────────────────────────────────────────────────────

type keyMap struct {
	Focus   key.Binding
	Help    key.Binding
	Palette key.Binding
	Quit    key.Binding
	New     key.Binding
	Deep    key.Binding
	Cancel  key.Binding
	Export  key.Binding
	Delete  key.Binding
	Select  key.Binding
	Cycle   key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Focus:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "chats/prompt")),
		Help:    key.NewBinding(key.WithKeys("ctrl+h"), key.WithHelp("ctrl+h", "help")),
		Palette: key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "palette")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
		New:     key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new chat")),
		Deep:    key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "deep think")),
		Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel answer")),
		Export:  key.NewBinding(key.WithKeys("ctrl+e"), key.WithHelp("ctrl+e", "export")),
		Delete:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete chat")),
		Select:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open chat / ask")),
		Cycle:   key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "suggested questions")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Focus, k.New, k.Deep, k.Palette, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Focus, k.Select, k.Cycle},
		{k.New, k.Delete, k.Export},
		{k.Deep, k.Cancel},
		{k.Help, k.Palette, k.Quit},
	}
}

// ─── model ───────────────────────────────────────────────────────────────────

// Model is the root Bubble Tea model. It owns focus routing, the help
// overlay and the command palette. Chat state always comes from the port;
// the model re-reads it whenever changes signals.
type Model struct {
	chat    chatPort
	changes <-chan struct{}

	sessionsView sessionsview.Model
	chatView     chatview.Model

	state    dto.StateOutput
	focus    focusID
	keys     keyMap
	help     help.Model
	showHelp bool
	palette  components.Palette
	status   string
	width    int
	height   int
}

// NewModel builds the TUI. changes may be nil, in which case the state is
// only re-read after the model's own actions.
func NewModel(chat chatPort, changes <-chan struct{}) Model {
	m := Model{
		chat:         chat,
		changes:      changes,
		sessionsView: sessionsview.New(),
		chatView:     chatview.New(chat.Suggestions(context.Background())),
		focus:        focusPrompt,
		keys:         defaultKeys(),
		help:         help.New(),
		palette:      components.NewPalette(),
		status:       "ready",
	}
	m.chatView.Focus()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.chatView.Init(),
		m.loadStateCmd(),
		m.waitForChangeCmd(),
	)
}

// ─── update ───────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	// The palette intercepts all input while open.
	if m.palette.Visible() {
		if _, ok := msg.(tea.KeyMsg); ok {
			var cmd tea.Cmd
			m.palette, cmd = m.palette.Update(msg)
			return m, cmd
		}
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.palette.SetWidth(min(m.width-4, 80))
		m.help.Width = m.width
		m.propagateSize()
		return m, nil

	case stateLoadedMsg:
		if msg.err != nil {
			m.status = "load chats: " + msg.err.Error()
			return m, nil
		}
		m.applyState(msg.state)
		return m, m.sessionsView.SetSessions(m.state.Sessions, m.state.SelectedSessionID)

	case changedMsg:
		return m, tea.Batch(m.loadStateCmd(), m.waitForChangeCmd())

	case actionDoneMsg:
		if msg.err != nil {
			m.status = describe(msg.err)
		} else if msg.status != "" {
			m.status = msg.status
		}
		if m.changes == nil {
			return m, m.loadStateCmd()
		}
		return m, nil

	case chatview.SubmitMsg:
		m.status = "asking…"
		return m, m.askCmd(msg.Question, msg.DeepThink)

	case components.PaletteSubmitMsg:
		return m.executePalette(msg.Input)

	case components.PaletteCancelMsg:
		m.status = "ready"
		return m, nil

	case tea.KeyMsg:
		if m.showHelp {
			if key.Matches(msg, m.keys.Help) || msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}

		// Yield to the session list while its search filter is open.
		if m.focus == focusSessions && m.sessionsView.Filtering() {
			var cmd tea.Cmd
			m.sessionsView, cmd = m.sessionsView.Update(msg)
			return m, cmd
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Focus):
			return m, m.toggleFocus()
		case key.Matches(msg, m.keys.Help):
			m.showHelp = true
			return m, nil
		case key.Matches(msg, m.keys.Palette):
			return m, m.palette.Open()
		case key.Matches(msg, m.keys.New):
			return m, m.createCmd("")
		case key.Matches(msg, m.keys.Deep):
			m.status = deepStatus(m.chatView.ToggleDeepThink())
			return m, nil
		case key.Matches(msg, m.keys.Export):
			return m, m.exportCmd()
		case key.Matches(msg, m.keys.Cancel):
			if m.chatView.Pending() {
				return m, m.cancelCmd()
			}
			if m.focus == focusSessions {
				return m, m.toggleFocus()
			}
			return m, nil
		}

		if m.focus == focusSessions {
			switch {
			case key.Matches(msg, m.keys.Select):
				if id, ok := m.sessionsView.HighlightedID(); ok {
					cmds = append(cmds, m.selectCmd(id), m.toggleFocus())
				}
				return m, tea.Batch(cmds...)
			case key.Matches(msg, m.keys.Delete):
				if id, ok := m.sessionsView.HighlightedID(); ok {
					return m, m.deleteCmd(id)
				}
				return m, nil
			}
			var cmd tea.Cmd
			m.sessionsView, cmd = m.sessionsView.Update(msg)
			return m, cmd
		}

		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)
	m.sessionsView, cmd = m.sessionsView.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// ─── view ────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	statusBar := m.renderStatusBar()
	contentH := max(m.height-lipgloss.Height(statusBar), 1)

	var content string
	switch {
	case m.showHelp:
		content = lipgloss.NewStyle().Width(m.width).Height(contentH).
			Render(m.help.View(m.keys))
	case m.palette.Visible():
		content = lipgloss.Place(m.width, contentH,
			lipgloss.Center, lipgloss.Center, m.palette.View())
	default:
		content = lipgloss.JoinHorizontal(lipgloss.Top, m.sessionsView.View(), m.chatView.View())
	}

	return lipgloss.JoinVertical(lipgloss.Left, content, statusBar)
}

func (m Model) renderStatusBar() string {
	left := m.status
	if m.chatView.DeepThink() {
		left = theme.Deep.Render("◆ deep") + "  " + left
	}
	right := theme.Muted.Render(m.help.ShortHelpView(m.keys.ShortHelp()))
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	bar := left + strings.Repeat(" ", gap) + right
	return lipgloss.NewStyle().Background(theme.Mantle).Width(m.width).Render(bar)
}

// ─── palette execution ────────────────────────────────────────────────────────

func (m Model) executePalette(input string) (tea.Model, tea.Cmd) {
	if strings.TrimSpace(input) == "" {
		return m, nil
	}
	parts := strings.Fields(input)
	rest := strings.TrimSpace(strings.TrimPrefix(input, parts[0]))

	switch parts[0] {
	case "new":
		return m, m.createCmd(rest)
	case "delete":
		if m.state.SelectedSessionID == "" {
			m.status = "no chat selected"
			return m, nil
		}
		return m, m.deleteCmd(m.state.SelectedSessionID)
	case "clear":
		return m, m.clearCmd()
	case "cancel":
		return m, m.cancelCmd()
	case "deep":
		m.status = deepStatus(m.chatView.ToggleDeepThink())
		return m, nil
	case "export":
		return m, m.exportCmd()
	case "ask":
		if rest == "" {
			m.status = "usage: ask <question>"
			return m, nil
		}
		return m, m.askCmd(rest, m.chatView.DeepThink())
	default:
		m.status = "unknown command: " + parts[0]
	}
	return m, nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (m *Model) applyState(state dto.StateOutput) {
	m.state = state
	for _, s := range state.Sessions {
		if s.ID == state.SelectedSessionID {
			m.chatView.SetSession(s, true)
			return
		}
	}
	m.chatView.SetSession(dto.SessionOutput{}, false)
}

func (m *Model) toggleFocus() tea.Cmd {
	if m.focus == focusPrompt {
		m.focus = focusSessions
		m.chatView.Blur()
		m.sessionsView.SetActive(true)
		return nil
	}
	m.focus = focusPrompt
	m.sessionsView.SetActive(false)
	return m.chatView.Focus()
}

func (m *Model) propagateSize() {
	contentH := max(m.height-1, 1)
	listW := m.width * 3 / 10
	m.sessionsView, _ = m.sessionsView.Update(tea.WindowSizeMsg{Width: listW, Height: contentH})
	m.chatView, _ = m.chatView.Update(tea.WindowSizeMsg{Width: m.width - listW, Height: contentH})
}

func deepStatus(on bool) string {
	if on {
		return "deep think on"
	}
	return "deep think off"
}

func describe(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid: " + err.Error()
	case errors.Is(err, apperrors.ErrNotFound):
		return "not found: " + err.Error()
	}
	return "error: " + err.Error()
}

// ─── async commands ───────────────────────────────────────────────────────────

func (m Model) waitForChangeCmd() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	ch := m.changes
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) loadStateCmd() tea.Cmd {
	return func() tea.Msg {
		state, err := m.chat.State(context.Background())
		return stateLoadedMsg{state: state, err: err}
	}
}

func (m Model) askCmd(question string, deep bool) tea.Cmd {
	sessionID := m.state.SelectedSessionID
	return func() tea.Msg {
		_, err := m.chat.Ask(context.Background(), dto.AskInput{SessionID: sessionID, Question: question, DeepThink: deep})
		return actionDoneMsg{status: "waiting for answer", err: err}
	}
}

func (m Model) createCmd(headline string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.chat.CreateSession(context.Background(), dto.CreateSessionInput{Headline: headline})
		return actionDoneMsg{status: "new chat: " + out.Title, err: err}
	}
}

func (m Model) selectCmd(id string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.chat.SelectSession(context.Background(), id)
		return actionDoneMsg{err: err}
	}
}

func (m Model) deleteCmd(id string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.chat.DeleteSession(context.Background(), id)
		return actionDoneMsg{status: "chat deleted", err: err}
	}
}

func (m Model) clearCmd() tea.Cmd {
	return func() tea.Msg {
		_, err := m.chat.ClearSessions(context.Background())
		return actionDoneMsg{status: "all chats cleared", err: err}
	}
}

func (m Model) cancelCmd() tea.Cmd {
	return func() tea.Msg {
		err := m.chat.CancelCurrent(context.Background())
		return actionDoneMsg{status: "answer cancelled", err: err}
	}
}

func (m Model) exportCmd() tea.Cmd {
	sessionID := m.state.SelectedSessionID
	return func() tea.Msg {
		out, err := m.chat.Export(context.Background(), sessionID)
		return actionDoneMsg{status: "exported to " + out.Path, err: err}
	}
}
