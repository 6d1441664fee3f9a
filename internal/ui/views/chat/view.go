package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"medq/internal/modules/chat/dto"
	"medq/internal/ui/theme"
)

// SubmitMsg is emitted when the user presses enter on a non-empty prompt.
type SubmitMsg struct {
	Question  string
	DeepThink bool
}

// Model shows the selected session's transcript above a question prompt.
type Model struct {
	viewport  viewport.Model
	input     textinput.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer
	session   dto.SessionOutput
	has       bool
	suggest   []string
	cursor    int
	deepThink bool
	active    bool
	width     int
	height    int
}

func New(suggestions []string) Model {
	vp := viewport.New(0, 0)
	vp.Style = lipgloss.NewStyle().Background(theme.Mantle).Foreground(theme.Text)

	ti := textinput.New()
	ti.Placeholder = "Ask a medical question…"
	ti.CharLimit = 2000
	ti.Prompt = "› "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Lavender)

	r, _ := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(0),
	)

	return Model{
		viewport: vp,
		input:    ti,
		spinner:  sp,
		renderer: r,
		suggest:  append([]string(nil), suggestions...),
		cursor:   -1,
	}
}

func (m Model) Init() tea.Cmd { return m.spinner.Tick }

// SetSession shows session, or the welcome screen when ok is false.
func (m *Model) SetSession(session dto.SessionOutput, ok bool) {
	changed := m.session.ID != session.ID || m.has != ok
	grew := len(session.Entries) != len(m.session.Entries) || session.Pending != m.session.Pending
	m.session = session
	m.has = ok
	if changed {
		m.cursor = -1
	}
	m.refresh(changed || grew)
}

func (m Model) Pending() bool { return m.has && m.session.Pending }

func (m Model) DeepThink() bool { return m.deepThink }

func (m *Model) ToggleDeepThink() bool {
	m.deepThink = !m.deepThink
	return m.deepThink
}

func (m *Model) Focus() tea.Cmd {
	m.active = true
	return m.input.Focus()
}

func (m *Model) Blur() {
	m.active = false
	m.input.Blur()
}

// Candidates lists the questions the prompt can cycle through: the
// followups of the latest answer, or the starter suggestions for an empty
// chat.
func (m Model) Candidates() []string {
	if !m.has || len(m.session.Entries) == 0 {
		return m.suggest
	}
	last := m.session.Entries[len(m.session.Entries)-1]
	return last.Followups
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if !m.active {
			break
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			m.input.SetValue("")
			m.cursor = -1
			deep := m.deepThink
			return m, func() tea.Msg { return SubmitMsg{Question: q, DeepThink: deep} }
		case "up", "down":
			m.cycle(msg.String() == "down")
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) cycle(forward bool) {
	candidates := m.Candidates()
	if len(candidates) == 0 {
		return
	}
	switch {
	case m.cursor < 0 && forward:
		m.cursor = 0
	case m.cursor < 0:
		m.cursor = len(candidates) - 1
	case forward:
		m.cursor = (m.cursor + 1) % len(candidates)
	default:
		m.cursor = (m.cursor + len(candidates) - 1) % len(candidates)
	}
	m.input.SetValue(candidates[m.cursor])
	m.input.CursorEnd()
}

func (m Model) View() string {
	style := theme.Pane
	if m.active {
		style = theme.PaneActive
	}
	header := theme.Title.Render("New Chat")
	if m.has {
		header = theme.Title.Render(m.session.Title)
	}
	if m.deepThink {
		header += "  " + theme.Deep.Render("deep think")
	}

	var footer string
	switch {
	case m.Pending():
		footer = m.spinner.View() + theme.Muted.Render(" thinking…  esc cancels")
	case len(m.Candidates()) > 0:
		footer = theme.Muted.Render(fmt.Sprintf("↑/↓ %d suggested questions", len(m.Candidates())))
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		footer,
		m.input.View(),
	)
	return style.
		Width(max(m.width-2, 0)).
		Height(max(m.height-2, 0)).
		Render(lipgloss.NewStyle().Padding(0, 1).Render(body))
}

// ─── rendering ───────────────────────────────────────────────────────────────

// Transcript renders a session as markdown.
func Transcript(session dto.SessionOutput) string {
	var sb strings.Builder
	for i, entry := range session.Entries {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&sb, "### %s\n\n", entry.Question)
		if entry.DeepThink {
			sb.WriteString("*deep think*\n\n")
		}
		switch entry.Status {
		case "pending":
			sb.WriteString("_Thinking…_\n")
		case "error":
			fmt.Fprintf(&sb, "> **Error:** %s\n", entry.Error)
		default:
			sb.WriteString(strings.TrimSpace(entry.Answer) + "\n")
		}
		if len(entry.Followups) > 0 {
			sb.WriteString("\n**Follow-up questions**\n\n")
			for _, f := range entry.Followups {
				sb.WriteString("- " + f + "\n")
			}
		}
	}
	return sb.String()
}

func welcome(suggestions []string) string {
	var sb strings.Builder
	sb.WriteString("## Ask a medical question\n\n")
	if len(suggestions) > 0 {
		sb.WriteString("Try one of these:\n\n")
		for _, s := range suggestions {
			sb.WriteString("- " + s + "\n")
		}
	}
	return sb.String()
}

func (m *Model) refresh(scroll bool) {
	md := welcome(m.suggest)
	if m.has && len(m.session.Entries) > 0 {
		md = Transcript(m.session)
	}
	out := md
	if m.renderer != nil {
		if rendered, err := m.renderer.Render(md); err == nil {
			out = rendered
		}
	}
	m.viewport.SetContent(out)
	if scroll {
		m.viewport.GotoBottom()
	}
}

func (m *Model) resize() {
	innerW := max(m.width-4, 10)
	m.viewport.Width = innerW
	// header, footer, prompt and the pane border.
	m.viewport.Height = max(m.height-5, 1)
	m.input.Width = innerW - 3

	// Rebuild the glamour renderer so it word-wraps at the new pane width.
	if r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(innerW-2),
	); err == nil {
		m.renderer = r
	}
	m.refresh(true)
}
