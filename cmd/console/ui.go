package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jwebster45206/story-console/internal/config"
	"github.com/jwebster45206/story-console/internal/logger"
	"github.com/jwebster45206/story-console/internal/transport"
	"github.com/jwebster45206/story-console/pkg/turn"
)

const (
	Title    = "STORY CONSOLE"
	HelpText = "↑/↓ choose • Enter select • c copy • d debug • PgUp/PgDn scroll • Esc quit"
)

// ConsoleUI is the BubbleTea model that runs the UI. Update is the only
// place the coordinator and the surface are touched.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	cfg        *config.Config
	ctx        context.Context
	logger     *slog.Logger
	ring       *logger.Ring
	coord      *turn.Coordinator
	surface    *terminalSurface
	objectives *objectivesPanel

	storyViewport viewport.Model
	metaViewport  viewport.Model
	debugViewport viewport.Model
	spinner       spinner.Model

	ready  bool
	width  int
	height int

	connected   bool
	connections int
	lastErr     error
	notice      string

	showDebug     bool
	showQuitModal bool
}

var (
	storyPanelStyle = lipgloss.NewStyle().
			PaddingTop(1).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(1).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)
)

var separatorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")) // dark grey

func NewConsoleUI(ctx context.Context, cfg *config.Config, coord *turn.Coordinator, surface *terminalSurface, objectives *objectivesPanel, ring *logger.Ring, log *slog.Logger) ConsoleUI {
	storyVp := viewport.New(50, 20)
	storyVp.MouseWheelEnabled = true
	// arrow keys move the choice cursor, so the viewport only pages
	storyVp.KeyMap = viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
	}

	metaVp := viewport.New(20, 20)
	debugVp := viewport.New(50, 8)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = loadingStyle

	return ConsoleUI{
		cfg:           cfg,
		ctx:           ctx,
		logger:        log,
		ring:          ring,
		coord:         coord,
		surface:       surface,
		objectives:    objectives,
		storyViewport: storyVp,
		metaViewport:  metaVp,
		debugViewport: debugVp,
		spinner:       sp,
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var cmd tea.Cmd

	switch msg := msg.(type) {
	case runMsg:
		msg.fn()

	case connectedMsg:
		m.connected = true
		m.connections++
		m.lastErr = nil
		m.notice = ""
		// every connection is a new story session
		m.objectives.Clear()
		m.coord.Reset()
		m.logger.Info("Connected to storyteller", "connections", m.connections)

	case disconnectedMsg:
		m.connected = false
		m.lastErr = msg.err
		m.logger.Warn("Disconnected from storyteller", "error", msg.err)

	case serverMsg:
		m.coord.Handle(msg.msg)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true

	case tea.MouseMsg:
		m.storyViewport, cmd = m.storyViewport.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	m.refresh()
	return m, cmd
}

func (m ConsoleUI) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.showQuitModal = true
		return m, nil
	case tea.KeyUp:
		if p := m.surface.latest(); p != nil {
			p.move(-1)
		}
	case tea.KeyDown:
		if p := m.surface.latest(); p != nil {
			p.move(1)
		}
	case tea.KeyEnter:
		m.selectChoice()
	case tea.KeyPgUp, tea.KeyPgDown:
		m.storyViewport, cmd = m.storyViewport.Update(msg)
		return m, cmd
	default:
		switch msg.String() {
		case "c":
			m.copyNarration()
		case "d":
			m.showDebug = !m.showDebug
			m.layout()
		}
	}

	m.refresh()
	return m, cmd
}

func (m *ConsoleUI) selectChoice() {
	p := m.surface.latest()
	if p == nil || !p.open() {
		return
	}
	choice := p.choices[p.selected]
	if err := m.coord.OnChoiceSelected(m.ctx, p.id, choice); err != nil {
		m.notice = selectionNotice(err)
		return
	}
	m.notice = ""
	m.storyViewport.GotoBottom()
}

func selectionNotice(err error) string {
	switch {
	case errors.Is(err, transport.ErrNotConnected):
		return "Not connected. Try again once the connection is back."
	case errors.Is(err, transport.ErrOutboxFull):
		return "Connection is busy. Try again."
	case errors.Is(err, turn.ErrSessionEnded):
		return "The story has ended."
	default:
		return "Selection failed: " + err.Error()
	}
}

// copyNarration copies the most recent non-empty narration.
func (m *ConsoleUI) copyNarration() {
	for i := len(m.surface.panels) - 1; i >= 0; i-- {
		text := m.surface.panels[i].plainNarration()
		if text == "" {
			continue
		}
		if err := clipboard.WriteAll(text); err != nil {
			m.logger.Warn("Failed to copy narration", "error", err)
			m.notice = "Clipboard unavailable"
			return
		}
		m.notice = fmt.Sprintf("Copied turn %d narration", m.surface.panels[i].id)
		return
	}
	m.notice = "Nothing to copy yet"
}

func (m *ConsoleUI) storyWidth() int {
	return int(float64(m.width)*0.75) - 4
}

func (m *ConsoleUI) layout() {
	storyWidth := m.storyWidth()
	metaWidth := m.width - storyWidth - 6

	storyHeight := m.height - 5
	if m.showDebug {
		m.debugViewport.Width = storyWidth - 2
		m.debugViewport.Height = max(m.height/4, 3)
		storyHeight -= m.debugViewport.Height + 1
	}
	m.storyViewport.Width = storyWidth - 2
	m.storyViewport.Height = max(storyHeight, 1)
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 2
}

// refresh rebuilds the viewports' content from the surface, following the
// bottom of the story unless the player has scrolled up.
func (m *ConsoleUI) refresh() {
	follow := m.storyViewport.AtBottom()
	m.storyViewport.SetContent(m.writeStoryContent())
	if follow {
		m.storyViewport.GotoBottom()
	}
	m.metaViewport.SetContent(m.writeMetadata())
	if m.showDebug {
		m.debugViewport.SetContent(m.writeDebugContent())
		m.debugViewport.GotoBottom()
	}
}

func (m *ConsoleUI) writeStoryContent() string {
	width := m.storyViewport.Width - 6 // Account for left(3) + right(3) padding
	if width < 10 {
		width = 10
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render(Title) + "\n\n")
	if len(m.surface.panels) == 0 {
		content.WriteString(loadingStyle.Render(m.spinner.View()+" Connecting to storyteller...") + "\n")
		return content.String()
	}
	content.WriteString(m.surface.render(width, m.spinner.View()))
	return content.String()
}

func (m *ConsoleUI) writeMetadata() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("SESSION") + "\n\n")

	content.WriteString("Connection:\n")
	switch {
	case m.connected:
		content.WriteString(narratorStyle.Render("● connected") + "\n")
	case m.connections > 0:
		content.WriteString(loadingStyle.Render("● reconnecting") + "\n")
	default:
		content.WriteString(loadingStyle.Render("● connecting") + "\n")
	}
	if m.lastErr != nil && !m.connected {
		content.WriteString(promptStyle.Render(m.lastErr.Error()) + "\n")
	}
	content.WriteString("\n")

	content.WriteString("Session:\n")
	id := m.cfg.SessionID
	if len(id) > 8 {
		id = id[:8] + "..."
	}
	content.WriteString(id + "\n\n")

	content.WriteString("Turn:\n")
	if latest, ok := m.coord.Latest(); ok {
		content.WriteString(fmt.Sprintf("%d\n\n", latest))
	} else {
		content.WriteString("-\n\n")
	}

	content.WriteString("Objectives:\n")
	content.WriteString(m.objectives.render())
	content.WriteString("\n")

	content.WriteString("Commands:\n")
	content.WriteString("• ↑/↓: Choose\n")
	content.WriteString("• Enter: Select\n")
	content.WriteString("• c: Copy narration\n")
	content.WriteString("• d: Debug log\n")
	content.WriteString("• Esc: Quit\n")

	return content.String()
}

func (m *ConsoleUI) writeDebugContent() string {
	if m.ring == nil {
		return ""
	}
	var content strings.Builder
	for _, e := range m.ring.Entries() {
		content.WriteString(e.String() + "\n")
	}
	return promptStyle.Render(content.String())
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				return m, nil
			}
		}

	case runMsg, connectedMsg, disconnectedMsg, serverMsg, spinner.TickMsg:
		// the story keeps running behind the modal
		model, cmd := m.closedModal().Update(msg)
		next := model.(ConsoleUI)
		next.showQuitModal = true
		return next, cmd
	}

	return m, nil
}

func (m ConsoleUI) closedModal() ConsoleUI {
	m.showQuitModal = false
	return m
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit Story?"))
	content.WriteString("\n\n")
	content.WriteString("Are you sure you want to leave the story?")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	// Create the modal
	modal := modalStyle.Width(50).Render(content.String())

	// Center the modal
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	storyWidth := m.storyWidth()
	metaWidth := m.width - storyWidth - 6

	status := promptStyle.Render(HelpText)
	if m.notice != "" {
		status = loadingStyle.Render(m.notice)
	}

	sections := []string{m.storyViewport.View()}
	if m.showDebug {
		sections = append(sections,
			separatorStyle.Render(strings.Repeat("─", max(storyWidth-4, 1))),
			m.debugViewport.View())
	}
	sections = append(sections,
		separatorStyle.Render(strings.Repeat("─", max(storyWidth-4, 1))),
		status)

	storyPanel := storyPanelStyle.Width(storyWidth).Height(m.height - 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, storyPanel, metaPanel)
}
