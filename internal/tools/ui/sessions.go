package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SessionRow is one line in the session browser.
type SessionRow struct {
	SessionID      string
	Owner          string
	IP             string
	UserAgent      string
	Verified       bool
	LastAccessedAt time.Time
	ExpiresAt      time.Time
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type sessionModel struct {
	rows      []SessionRow
	cursor    int
	terminate func(id string) error
	status    string
	now       func() time.Time
}

func newSessionModel(rows []SessionRow, terminate func(string) error) sessionModel {
	return sessionModel{rows: rows, terminate: terminate, now: time.Now}
}

func (m sessionModel) Init() tea.Cmd { return nil }

func (m sessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "q", "esc", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case "d", "x":
		if len(m.rows) == 0 || m.terminate == nil {
			return m, nil
		}
		row := m.rows[m.cursor]
		if err := m.terminate(row.SessionID); err != nil {
			m.status = failStyle.Render("terminate failed: " + err.Error())
			return m, nil
		}
		m.rows = append(m.rows[:m.cursor:m.cursor], m.rows[m.cursor+1:]...)
		if m.cursor >= len(m.rows) && m.cursor > 0 {
			m.cursor--
		}
		m.status = okStyle.Render("terminated " + shortID(row.SessionID))
	}
	return m, nil
}

func (m sessionModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Active admin sessions (%d)", len(m.rows))))
	b.WriteString("\n\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-10s %-28s %-16s %-10s %-12s", "SESSION", "OWNER", "IP", "STATE", "LAST SEEN")))
	b.WriteString("\n")
	now := m.now()
	for i, row := range m.rows {
		state := "verified"
		if !row.Verified {
			state = pendingStyle.Render("pending ")
		}
		line := fmt.Sprintf("%-10s %-28s %-16s %-10s %-12s",
			shortID(row.SessionID), truncate(row.Owner, 28), truncate(row.IP, 16), state, ago(now, row.LastAccessedAt))
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	if len(m.rows) == 0 {
		b.WriteString(mutedStyle.Render("no sessions") + "\n")
	}
	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}
	b.WriteString("\n" + mutedStyle.Render("↑/↓ move • d terminate • q quit") + "\n")
	return b.String()
}

// BrowseSessions opens an interactive list; terminate is called for each session the operator ends.
func BrowseSessions(rows []SessionRow, terminate func(id string) error) error {
	_, err := tea.NewProgram(newSessionModel(rows, terminate)).Run()
	return err
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
