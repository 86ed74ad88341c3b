package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSessionModelNavigationAndTerminate(t *testing.T) {
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	rows := []SessionRow{
		{SessionID: "aaaaaaaa-1111", Owner: "owner@icc.test", IP: "10.0.0.1", Verified: true, LastAccessedAt: now.Add(-5 * time.Minute)},
		{SessionID: "bbbbbbbb-2222", Owner: "editor@icc.test", IP: "10.0.0.2", LastAccessedAt: now.Add(-2 * time.Hour)},
	}
	var terminated []string
	m := newSessionModel(rows, func(id string) error {
		terminated = append(terminated, id)
		return nil
	})
	m.now = func() time.Time { return now }

	next, _ := m.Update(keyMsg("j"))
	m = next.(sessionModel)
	if m.cursor != 1 {
		t.Fatalf("expected cursor to move down, got %d", m.cursor)
	}
	next, _ = m.Update(keyMsg("j"))
	m = next.(sessionModel)
	if m.cursor != 1 {
		t.Fatalf("expected cursor to stop at last row, got %d", m.cursor)
	}

	view := m.View()
	if !strings.Contains(view, "pending") || !strings.Contains(view, "2h ago") {
		t.Fatalf("unexpected view:\n%s", view)
	}

	next, _ = m.Update(keyMsg("d"))
	m = next.(sessionModel)
	if len(terminated) != 1 || terminated[0] != "bbbbbbbb-2222" {
		t.Fatalf("expected second session terminated, got %v", terminated)
	}
	if len(m.rows) != 1 || m.cursor != 0 {
		t.Fatalf("expected one row left with cursor 0, got rows=%d cursor=%d", len(m.rows), m.cursor)
	}
	if rows[1].SessionID != "bbbbbbbb-2222" {
		t.Fatal("terminate must not mutate the caller's slice")
	}
}

func TestSessionModelTerminateFailureKeepsRow(t *testing.T) {
	m := newSessionModel([]SessionRow{{SessionID: "only"}}, func(string) error { return errors.New("store down") })
	next, _ := m.Update(keyMsg("d"))
	m = next.(sessionModel)
	if len(m.rows) != 1 || !strings.Contains(m.status, "store down") {
		t.Fatalf("expected row kept with failure status, got rows=%d status=%q", len(m.rows), m.status)
	}
}

func TestSessionModelQuit(t *testing.T) {
	m := newSessionModel(nil, nil)
	_, cmd := m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestHelpers(t *testing.T) {
	if shortID("0123456789") != "01234567" || shortID("abc") != "abc" {
		t.Fatal("unexpected shortID")
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Fatalf("unexpected truncate %q", got)
	}
	now := time.Now()
	if ago(now, time.Time{}) != "-" || ago(now, now) != "just now" || ago(now, now.Add(-49*time.Hour)) != "2d ago" {
		t.Fatal("unexpected ago formatting")
	}
}
