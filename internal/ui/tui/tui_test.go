package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestModel_Update(t *testing.T) {
	m := NewModel("mneme")
	if got := m.View(); !strings.Contains(got, "Initializing") {
		t.Errorf("Expected initializing view before sizing, got %q", got)
	}

	m = update(t, m, LogMsg("early line"))
	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m = update(t, m, StatusMsg("online"))
	m = update(t, m, PendingMsg(3))
	m = update(t, m, StatsMsg{Working: 2, Episodic: 50, MaxEpisodic: 100})
	m = update(t, m, LogMsg("stored r1"))

	if m.Status != "online" || m.Pending != 3 {
		t.Errorf("Expected online with 3 pending, got %s/%d", m.Status, m.Pending)
	}
	if len(m.Log) != 2 {
		t.Errorf("Expected 2 log lines, got %d", len(m.Log))
	}
	if m.Fill() != 0.5 {
		t.Errorf("Expected fill 0.5, got %f", m.Fill())
	}
	view := m.View()
	if !strings.Contains(view, "outbox 3") || !strings.Contains(view, "episodic 50") {
		t.Errorf("Expected counters in view, got:\n%s", view)
	}
}

func TestModel_Quit(t *testing.T) {
	m := NewModel("mneme")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !next.(Model).Quitting || cmd == nil {
		t.Error("Expected ctrl+c to quit")
	}
}

func TestModel_LogBound(t *testing.T) {
	m := NewModel("mneme")
	for i := 0; i < maxLogLines+10; i++ {
		m = update(t, m, LogMsg("line"))
	}
	if len(m.Log) != maxLogLines {
		t.Errorf("Expected %d lines, got %d", maxLogLines, len(m.Log))
	}
}

func TestModel_FillWithoutCap(t *testing.T) {
	m := NewModel("mneme")
	m = update(t, m, StatsMsg{Episodic: 10})
	if m.Fill() != 0 {
		t.Errorf("Expected 0 fill without a cap, got %f", m.Fill())
	}
}
