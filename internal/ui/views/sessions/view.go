package sessions

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"medq/internal/modules/chat/dto"
	"medq/internal/ui/theme"
)

// ─── list item ───────────────────────────────────────────────────────────────

type sessionItem struct {
	session  dto.SessionOutput
	selected bool
}

func (i sessionItem) Title() string {
	if i.selected {
		return "● " + i.session.Title
	}
	return i.session.Title
}

func (i sessionItem) Description() string {
	desc := fmt.Sprintf("%d questions  %s", len(i.session.Entries), i.session.CreatedAt.Local().Format("Jan 2 15:04"))
	if i.session.Pending {
		desc += "  waiting…"
	}
	return desc
}

func (i sessionItem) FilterValue() string { return i.session.Title }

// ─── model ───────────────────────────────────────────────────────────────────

type Model struct {
	list   list.Model
	width  int
	height int
	active bool
}

func New() Model {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(theme.Lavender).BorderForeground(theme.Lavender)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(theme.Sapphire).BorderForeground(theme.Lavender)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Chats"
	l.Styles.Title = theme.Title
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)
	l.SetStatusBarItemName("chat", "chats")
	l.KeyMap.Quit.SetEnabled(false)

	return Model{list: l}
}

// SetSessions replaces the list content and moves the cursor to the
// selected session.
func (m *Model) SetSessions(sessions []dto.SessionOutput, selectedID string) tea.Cmd {
	items := make([]list.Item, len(sessions))
	cursor := -1
	for i, s := range sessions {
		items[i] = sessionItem{session: s, selected: s.ID == selectedID}
		if s.ID == selectedID {
			cursor = i
		}
	}
	cmd := m.list.SetItems(items)
	if cursor >= 0 && m.list.FilterState() == list.Unfiltered {
		m.list.Select(cursor)
	}
	return cmd
}

func (m *Model) SetActive(active bool) { m.active = active }

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if sz, ok := msg.(tea.WindowSizeMsg); ok {
		m.width = sz.Width
		m.height = sz.Height
		m.list.SetSize(max(m.width-2, 0), max(m.height-2, 0))
		return m, nil
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	style := theme.Pane
	if m.active {
		style = theme.PaneActive
	}
	body := m.list.View()
	if len(m.list.Items()) == 0 {
		body = theme.Title.Render("Chats") + "\n\n" + theme.Muted.Render("No chats yet.\nctrl+n starts one.")
	}
	return style.
		Width(max(m.width-2, 0)).
		Height(max(m.height-2, 0)).
		Render(lipgloss.NewStyle().Padding(0, 1).Render(body))
}

// HighlightedID returns the session under the cursor, if any.
func (m Model) HighlightedID() (string, bool) {
	if item, ok := m.list.SelectedItem().(sessionItem); ok {
		return item.session.ID, true
	}
	return "", false
}

// Filtering reports whether the list's search filter is currently active.
// The app model checks this to avoid consuming global keys during a search.
func (m Model) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}
