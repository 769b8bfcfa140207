// Package tui implements the interactive terminal client for the charla
// daemon: a chat pane backed by the session API, a tool sidebar and a
// live activity feed fed from the WebSocket event stream.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/charla-ai/charla/internal/interfaces"
)

const maxActivity = 12

// ─────────────────────────────────────────────────────
// Entry point
// ─────────────────────────────────────────────────────

// Run starts the terminal client and blocks until the user quits. The
// session opened at boot is deleted on the way out, best effort.
func Run(client *Client, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	p := tea.NewProgram(newModel(client, logger), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}

	if m, ok := final.(tuiModel); ok {
		m.shutdown()
	}
	return nil
}

// ─────────────────────────────────────────────────────
// Bubble Tea messages
// ─────────────────────────────────────────────────────

type bootMsg struct {
	sessionID string
	tools     []Tool
	health    *Health
}

type answerMsg struct {
	result *QueryResult
}

type errMsg struct {
	err error
}

type streamMsg struct {
	stream *Stream
}

type eventMsg struct {
	event interfaces.TurnEvent
}

type streamClosedMsg struct{}

type tickMsg struct{}

// ─────────────────────────────────────────────────────
// Styles
// ─────────────────────────────────────────────────────

var (
	// Colors
	primaryColor   = lipgloss.Color("#0EA5E9") // sky
	secondaryColor = lipgloss.Color("#F59E0B") // amber
	mutedColor     = lipgloss.Color("#6B7280") // gray
	successColor   = lipgloss.Color("#10B981") // green
	errorColor     = lipgloss.Color("#EF4444") // red

	// Sidebar styles
	sidebarStyle = lipgloss.NewStyle().
			Width(34).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 1)

	sidebarTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	toolBullet = lipgloss.NewStyle().
			Foreground(successColor)

	toolLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	metricStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			PaddingLeft(2)

	// Chat styles
	chatBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor)

	userMsg = lipgloss.NewStyle().
		Foreground(secondaryColor).
		Bold(true)

	assistantMsg = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	errorLabel = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	chatText = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	// Header/footer
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	statusOnline = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	statusDegraded = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	statusConnecting = lipgloss.NewStyle().
				Foreground(mutedColor).
				Bold(true)
)

// ─────────────────────────────────────────────────────
// TUI Model
// ─────────────────────────────────────────────────────

type tuiModel struct {
	client    *Client
	logger    *slog.Logger
	input     textarea.Model
	chat      viewport.Model
	messages  []chatEntry
	activity  []activityEntry
	tools     []Tool
	health    *Health
	stream    *Stream
	sessionID string
	busy      bool
	busySince time.Time
	width     int
	height    int
	ready     bool
}

type chatEntry struct {
	sender  string
	content string
	time    time.Time
	isUser  bool
	isErr   bool
}

type activityEntry struct {
	time time.Time
	text string
}

func newModel(client *Client, logger *slog.Logger) tuiModel {
	ti := textarea.New()
	ti.Placeholder = "Ask about your files..."
	ti.Focus()
	ti.CharLimit = 4096
	ti.SetHeight(3)
	ti.ShowLineNumbers = false
	ti.KeyMap.InsertNewline.SetEnabled(false) // Enter sends, Shift+Enter for newline

	return tuiModel{
		client:   client,
		logger:   logger.With("component", "tui"),
		input:    ti,
		messages: []chatEntry{},
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.bootCmd(),
		tickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg{}
	})
}

// bootCmd opens the session and loads the sidebar panes.
func (m tuiModel) bootCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		id, err := m.client.NewSession(ctx)
		if err != nil {
			return errMsg{err: fmt.Errorf("create session: %w", err)}
		}

		boot := bootMsg{sessionID: id}
		// Sidebar data; a failure here leaves the panes empty
		if tools, err := m.client.Tools(ctx); err == nil {
			boot.tools = tools
		}
		if health, err := m.client.Health(ctx); err == nil {
			boot.health = health
		}
		return boot
	}
}

func (m tuiModel) queryCmd(text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		res, err := m.client.Query(ctx, m.sessionID, text)
		if err != nil {
			return errMsg{err: err}
		}
		return answerMsg{result: res}
	}
}

func (m tuiModel) openStreamCmd() tea.Cmd {
	return func() tea.Msg {
		stream, err := m.client.Stream(context.Background(), m.sessionID)
		if err != nil {
			m.logger.Warn("event stream unavailable", "error", err)
			return nil
		}
		return streamMsg{stream: stream}
	}
}

// listenCmd waits for the next turn event. Update re-arms it after
// every delivery.
func listenCmd(events <-chan interfaces.TurnEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg{event: ev}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.busy || m.sessionID == "" {
				return m, nil
			}

			m.messages = append(m.messages, chatEntry{
				sender:  "You",
				content: text,
				time:    time.Now(),
				isUser:  true,
			})
			m.busy = true
			m.busySince = time.Now()
			m.input.Reset()

			m.chat.SetContent(m.renderChat())
			m.chat.GotoBottom()

			return m, m.queryCmd(text)
		}

	case bootMsg:
		m.sessionID = msg.sessionID
		m.tools = msg.tools
		m.health = msg.health
		m.note("session " + shortID(m.sessionID))
		return m, m.openStreamCmd()

	case streamMsg:
		m.stream = msg.stream
		return m, listenCmd(msg.stream.Events)

	case eventMsg:
		m.recordEvent(msg.event)
		if m.stream != nil {
			return m, listenCmd(m.stream.Events)
		}
		return m, nil

	case streamClosedMsg:
		m.stream = nil
		m.note("event stream closed")
		return m, nil

	case answerMsg:
		m.busy = false
		sender := "charla"
		if msg.result.Outcome == "loop_exceeded" {
			sender = "charla (cut short)"
		}
		m.messages = append(m.messages, chatEntry{
			sender:  sender,
			content: msg.result.Answer,
			time:    time.Now(),
		})
		m.chat.SetContent(m.renderChat())
		m.chat.GotoBottom()
		return m, nil

	case errMsg:
		m.busy = false
		m.messages = append(m.messages, chatEntry{
			sender:  "error",
			content: msg.err.Error(),
			time:    time.Now(),
			isErr:   true,
		})
		m.chat.SetContent(m.renderChat())
		m.chat.GotoBottom()
		return m, nil

	case tickMsg:
		// Re-render so the busy counter ticks
		cmds = append(cmds, tickCmd())

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		sidebarW := 36
		chatW := m.width - sidebarW - 3 // borders and the gap column
		chatH := m.height - 8           // header + input + footer

		if !m.ready {
			m.chat = viewport.New(chatW, chatH)
			m.chat.SetContent(m.renderChat())
			m.ready = true
		} else {
			m.chat.Width = chatW
			m.chat.Height = chatH
			m.chat.SetContent(m.renderChat())
		}

		m.input.SetWidth(chatW - 2)
	}

	// Update sub-components
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.chat, cmd = m.chat.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m tuiModel) View() string {
	if !m.ready {
		return "Starting charla TUI..."
	}

	status := statusConnecting.Render("○ CONNECTING")
	if m.health != nil {
		if m.health.Status == "ok" {
			status = statusOnline.Render("● ONLINE")
		} else {
			status = statusDegraded.Render("◍ DEGRADED")
		}
	}

	header := headerStyle.Width(m.width).Render("  charla terminal  " + status)

	sidebar := m.renderSidebar()

	chatArea := chatBorder.Width(m.width - 39).Render(m.chat.View())
	inputArea := m.input.View()

	rightPane := lipgloss.JoinVertical(lipgloss.Left, chatArea, inputArea)
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", rightPane)

	footerText := "  Enter: send │ Ctrl+C: quit │ ↑↓: scroll chat"
	if m.busy {
		footerText = fmt.Sprintf("  thinking... %ds", int(time.Since(m.busySince).Seconds()))
	}
	footer := footerStyle.Render(footerText)

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// ─────────────────────────────────────────────────────
// Rendering helpers
// ─────────────────────────────────────────────────────

func (m tuiModel) renderSidebar() string {
	var sb strings.Builder

	sb.WriteString(sidebarTitle.Render("  Session"))
	sb.WriteString("\n")
	if m.sessionID == "" {
		sb.WriteString(metricStyle.Render("connecting..."))
		sb.WriteString("\n")
	} else {
		sb.WriteString(metricStyle.Render("id: " + shortID(m.sessionID)))
		sb.WriteString("\n")
	}
	if m.health != nil {
		sb.WriteString(metricStyle.Render("provider: " + m.health.Provider))
		sb.WriteString("\n")
		sb.WriteString(metricStyle.Render(fmt.Sprintf("sessions: %d", m.health.Sessions)))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString(sidebarTitle.Render("  Tools"))
	sb.WriteString("\n")
	if len(m.tools) == 0 {
		sb.WriteString(metricStyle.Render("none discovered"))
		sb.WriteString("\n")
	}
	for _, tool := range m.tools {
		sb.WriteString(fmt.Sprintf("  %s %s\n", toolBullet.Render("●"), toolLabel.Render(tool.Name)))
	}
	sb.WriteString("\n")

	sb.WriteString(sidebarTitle.Render("  Activity"))
	sb.WriteString("\n")
	if len(m.activity) == 0 {
		sb.WriteString(metricStyle.Render("quiet"))
		sb.WriteString("\n")
	}
	for _, entry := range m.activity {
		sb.WriteString(metricStyle.Render(entry.time.Format("15:04:05") + " " + entry.text))
		sb.WriteString("\n")
	}

	return sidebarStyle.Height(m.height - 4).Render(sb.String())
}

func (m tuiModel) renderChat() string {
	if len(m.messages) == 0 {
		return lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(1).
			Render("No messages yet. Ask about your files to get started.")
	}

	var sb strings.Builder
	for _, entry := range m.messages {
		ts := entry.time.Format("15:04")
		timeStr := lipgloss.NewStyle().Foreground(mutedColor).Render(ts)

		switch {
		case entry.isUser:
			sender := userMsg.Render("[You]")
			sb.WriteString(fmt.Sprintf("%s %s %s\n", timeStr, sender, chatText.Render(entry.content)))
		case entry.isErr:
			sender := errorLabel.Render("[error]")
			sb.WriteString(fmt.Sprintf("%s %s %s\n", timeStr, sender, chatText.Render(entry.content)))
		default:
			sender := assistantMsg.Render(fmt.Sprintf("[%s]", entry.sender))
			sb.WriteString(fmt.Sprintf("%s %s\n%s\n", timeStr, sender, chatText.Render(entry.content)))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// note appends one line to the activity feed, keeping it bounded.
func (m *tuiModel) note(text string) {
	m.activity = append(m.activity, activityEntry{time: time.Now(), text: text})
	if len(m.activity) > maxActivity {
		m.activity = m.activity[len(m.activity)-maxActivity:]
	}
}

// recordEvent renders a turn event into the activity feed.
func (m *tuiModel) recordEvent(ev interfaces.TurnEvent) {
	switch ev.Type {
	case interfaces.EventStreamOpen:
		m.note("event stream connected")
	case interfaces.EventToolStarted:
		m.note("→ " + ev.Tool)
	case interfaces.EventToolFinished:
		if ev.Outcome == "ok" {
			m.note("✓ " + ev.Tool)
		} else {
			m.note("✗ " + ev.Tool)
		}
	case interfaces.EventTurnAppended:
		if ev.Turn != nil {
			m.note(fmt.Sprintf("turn %d (%s)", ev.TurnIndex, ev.Turn.Role))
		}
	case interfaces.EventQueryDone:
		m.note("query " + ev.Outcome)
	}
}

// shutdown closes the event stream and deletes the session.
func (m tuiModel) shutdown() {
	if m.stream != nil {
		m.stream.Close()
	}
	if m.sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.DeleteSession(ctx, m.sessionID); err != nil {
		m.logger.Warn("session delete failed", "session", m.sessionID, "error", err)
	}
}

// shortID trims a session id to its leading group for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
