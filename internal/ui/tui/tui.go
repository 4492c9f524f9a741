package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI forwards UI updates to a running bubbletea program.
type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) UpdatePending(n int) {
	t.program.Send(PendingMsg(n))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

// Stats sends a memory snapshot to the dashboard.
func (t *TUI) Stats(s StatsMsg) {
	t.program.Send(s)
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	offlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
)

const maxLogLines = 500

type Model struct {
	Title    string
	Status   string
	Pending  int
	Stats    StatsMsg
	Log      []string
	Progress progress.Model
	Viewport viewport.Model
	Quitting bool
	Ready    bool
	Width    int
	Height   int
}

type LogMsg string
type StatusMsg string
type PendingMsg int

// StatsMsg is a memory store snapshot.
type StatsMsg struct {
	Working     int
	Episodic    int
	Pinned      int
	MaxEpisodic int
	Writes      int
}

func NewModel(title string) Model {
	return Model{
		Title:    title,
		Status:   "connecting",
		Progress: progress.New(progress.WithDefaultGradient()),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			m.Quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, msg.Height-8)
			m.Viewport.SetContent(strings.Join(m.Log, "\n"))
			m.Ready = true
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = msg.Height - 8
		}
		m.Progress.Width = msg.Width - 4

	case LogMsg:
		m.Log = append(m.Log, string(msg))
		if len(m.Log) > maxLogLines {
			m.Log = m.Log[len(m.Log)-maxLogLines:]
		}
		if m.Ready {
			m.Viewport.SetContent(strings.Join(m.Log, "\n"))
			m.Viewport.GotoBottom()
		}

	case StatusMsg:
		m.Status = string(msg)

	case PendingMsg:
		m.Pending = int(msg)

	case StatsMsg:
		m.Stats = msg
	}

	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

// Fill is the share of the episodic capacity in use.
func (m Model) Fill() float64 {
	if m.Stats.MaxEpisodic <= 0 {
		return 0
	}
	f := float64(m.Stats.Episodic) / float64(m.Stats.MaxEpisodic)
	if f > 1 {
		return 1
	}
	return f
}

func (m Model) View() string {
	if !m.Ready {
		return "\n  Initializing..."
	}

	style := onlineStyle
	if m.Status != "online" {
		style = offlineStyle
	}
	header := titleStyle.Render(" "+m.Title+" ") + style.Render(fmt.Sprintf(" %s ", m.Status))
	counts := dimStyle.Render(fmt.Sprintf(" working %d | episodic %d | pinned %d | unsaved %d | outbox %d ",
		m.Stats.Working, m.Stats.Episodic, m.Stats.Pinned, m.Stats.Writes, m.Pending))

	view := fmt.Sprintf("%s\n%s\n\n%s\n\n%s",
		header, counts,
		m.Viewport.View(),
		m.Progress.ViewAs(m.Fill()))

	if m.Quitting {
		return view + "\n  Quitting...\n"
	}
	return view
}
