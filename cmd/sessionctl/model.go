package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const refreshInterval = 2 * time.Second

type listMsg struct {
	sessions []SessionStatus
	err      error
}

type outputMsg struct {
	id    string
	reply OutputReply
	err   error
}

type actionMsg struct {
	status SessionStatus
	err    error
}

type tickMsg time.Time

// model is the sessionctl TUI: a session list on the left, the
// selected session's captured output tailing on the right. All
// network calls run as tea.Cmd so the event loop itself never blocks.
type model struct {
	client *Client
	keys   keyMap
	theme  theme

	sessions []SessionStatus
	cursor   int

	output     viewport.Model
	outputText string
	outEnd     uint64 // total bytes seen so far for the selected session
	selected   string

	statusLine string
	err        error

	width, height int
	ready         bool
	quitting      bool
}

func newModel(client *Client) model {
	return model{
		client: client,
		keys:   defaultKeyMap,
		theme:  defaultTheme,
		output: viewport.New(0, 0),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetchList(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) fetchList() tea.Cmd {
	return func() tea.Msg {
		sessions, err := m.client.List()
		return listMsg{sessions: sessions, err: err}
	}
}

func (m model) fetchOutput(id string, offset uint64) tea.Cmd {
	return func() tea.Msg {
		reply, err := m.client.Output(id, offset)
		return outputMsg{id: id, reply: reply, err: err}
	}
}

func (m model) doAction(fn func() (SessionStatus, error)) tea.Cmd {
	return func() tea.Msg {
		status, err := fn()
		return actionMsg{status: status, err: err}
	}
}

func (m model) selectedSession() (SessionStatus, bool) {
	if m.cursor < 0 || m.cursor >= len(m.sessions) {
		return SessionStatus{}, false
	}
	return m.sessions[m.cursor], true
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		listWidth := m.width/3 + 2
		m.output.Width = m.width - listWidth - 4
		m.output.Height = m.height - 4
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
				m.selected = ""
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.sessions)-1 {
				m.cursor++
				m.selected = ""
			}
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetchList()
		case key.Matches(msg, m.keys.Start):
			if s, ok := m.selectedSession(); ok {
				return m, m.doAction(func() (SessionStatus, error) { return m.client.Start(s.ID, false) })
			}
		case key.Matches(msg, m.keys.DebugRun):
			if s, ok := m.selectedSession(); ok {
				return m, m.doAction(func() (SessionStatus, error) { return m.client.Debug(s.ID) })
			}
		case key.Matches(msg, m.keys.Stop):
			if s, ok := m.selectedSession(); ok {
				return m, m.doAction(func() (SessionStatus, error) { return m.client.Stop(s.ID) })
			}
		case key.Matches(msg, m.keys.Kill):
			if s, ok := m.selectedSession(); ok {
				return m, m.doAction(func() (SessionStatus, error) { return m.client.Kill(s.ID) })
			}
		case key.Matches(msg, m.keys.Delete):
			if s, ok := m.selectedSession(); ok {
				return m, m.doAction(func() (SessionStatus, error) { return m.client.Delete(s.ID) })
			}
		}
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{tick(), m.fetchList()}
		if s, ok := m.selectedSession(); ok {
			cmds = append(cmds, m.fetchOutput(s.ID, m.outputOffsetFor(s.ID)))
		}
		return m, tea.Batch(cmds...)

	case listMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.sessions = msg.sessions
		if m.cursor >= len(m.sessions) {
			m.cursor = len(m.sessions) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		if s, ok := m.selectedSession(); ok && s.ID != m.selected {
			m.selected = s.ID
			m.outEnd = 0
			m.outputText = ""
			m.output.SetContent("")
			return m, m.fetchOutput(s.ID, 0)
		}
		return m, nil

	case outputMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		if msg.id != m.selected {
			return m, nil
		}
		if msg.reply.Output != "" {
			m.outputText += msg.reply.Output
			m.output.SetContent(m.outputText)
			m.output.GotoBottom()
		}
		m.outEnd = msg.reply.Offset + uint64(len(msg.reply.Output))
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.statusLine = fmt.Sprintf("%s -> %s", msg.status.ID, msg.status.State)
		return m, m.fetchList()
	}

	var cmd tea.Cmd
	m.output, cmd = m.output.Update(msg)
	return m, cmd
}

func (m model) outputOffsetFor(id string) uint64 {
	if id != m.selected {
		return 0
	}
	return m.outEnd
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading...\n"
	}

	listWidth := m.width/3 + 2
	listStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.theme.BorderColor).
		Width(listWidth).
		Height(m.height - 4)

	var rows strings.Builder
	for i, s := range m.sessions {
		line := fmt.Sprintf("%-8s %-10s pid=%d", truncate(s.ID, 8), s.State, s.PID)
		style := lipgloss.NewStyle().Foreground(m.theme.stateColor(s.State))
		if i == m.cursor {
			style = style.Background(m.theme.SelectedBG).Foreground(m.theme.SelectedFG)
		}
		rows.WriteString(style.Render(line))
		rows.WriteString("\n")
	}
	if len(m.sessions) == 0 {
		rows.WriteString(lipgloss.NewStyle().Foreground(m.theme.FaintText).Render("no sessions"))
	}

	outputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.theme.BorderColor)

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		listStyle.Render(rows.String()),
		outputStyle.Render(m.output.View()),
	)

	help := lipgloss.NewStyle().Foreground(m.theme.HelpText).Render(
		"j/k move  r refresh  s start  d debug  t stop  K kill  x delete  q quit",
	)

	footer := help
	if m.err != nil {
		footer = lipgloss.NewStyle().Foreground(m.theme.ErrorText).Render(m.err.Error())
	} else if m.statusLine != "" {
		footer = lipgloss.NewStyle().Foreground(m.theme.NormalText).Render(m.statusLine) + "  " + help
	}

	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
