package main

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/jwebster45206/story-console/pkg/protocol"
	"github.com/jwebster45206/story-console/pkg/turn"
	"github.com/muesli/reflow/wordwrap"
)

const (
	cursorGlyph = "▌"
	endMarker   = "* THE END *"
)

// terminalSurface holds one panel per turn. It is only touched from the tea
// program's Update, so it needs no locking.
type terminalSurface struct {
	panels []*turnPanel
}

func newTerminalSurface() *terminalSurface {
	return &terminalSurface{}
}

func (s *terminalSurface) NewTurn(turnID int) turn.View {
	p := &turnPanel{id: turnID, loading: true, locked: -1}
	s.panels = append(s.panels, p)
	return p
}

func (s *terminalSurface) Clear() {
	s.panels = nil
}

func (s *terminalSurface) latest() *turnPanel {
	if len(s.panels) == 0 {
		return nil
	}
	return s.panels[len(s.panels)-1]
}

// render lays out every panel for the given width. spin is the loader frame.
func (s *terminalSurface) render(width int, spin string) string {
	var content strings.Builder
	for i, p := range s.panels {
		if i > 0 {
			content.WriteString(separatorStyle.Render(strings.Repeat("─", max(width, 1))) + "\n\n")
		}
		content.WriteString(p.render(width, spin))
	}
	return content.String()
}

// turnPanel is the terminal rendition of one turn: image, narration, errors and choices.
type turnPanel struct {
	id int

	narration string
	cursor    bool

	loading  bool
	img      image.Image
	imgErr   string
	preview  string
	previewW int

	errors []string

	choices  []string
	selected int // cursor position in choices
	locked   int // index of the chosen option, -1 while open

	ended     bool
	endNotice string
}

func (p *turnPanel) ShowNarration(text string, cursor bool) error {
	p.narration = text
	p.cursor = cursor
	return nil
}

// ShowImage decodes a PNG for the half-block preview. The loader is cleared either way.
func (p *turnPanel) ShowImage(data []byte) error {
	p.loading = false
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		p.imgErr = "Image could not be displayed"
		return fmt.Errorf("failed to decode image: %w", err)
	}
	p.img = img
	p.imgErr = ""
	p.preview = ""
	return nil
}

func (p *turnPanel) ShowImageError(message string) {
	p.loading = false
	p.imgErr = message
}

func (p *turnPanel) ShowError(message string) {
	p.errors = append([]string{message}, p.errors...)
}

func (p *turnPanel) ShowChoices(choices []string) {
	p.choices = choices
	p.selected = 0
	p.locked = -1
}

func (p *turnPanel) LockChoices(selected int) {
	p.locked = selected
}

func (p *turnPanel) ShowEnd(notice string) {
	p.ended = true
	p.endNotice = notice
}

// open reports whether the panel is waiting for a selection.
func (p *turnPanel) open() bool {
	return len(p.choices) > 0 && p.locked < 0 && !p.ended
}

func (p *turnPanel) move(delta int) {
	if !p.open() {
		return
	}
	p.selected = (p.selected + delta + len(p.choices)) % len(p.choices)
}

// plainNarration is the narration without styling, for the clipboard.
func (p *turnPanel) plainNarration() string {
	return ansi.Strip(p.narration)
}

func (p *turnPanel) render(width int, spin string) string {
	var content strings.Builder
	content.WriteString(turnTitleStyle.Render(fmt.Sprintf("Turn %d", p.id)) + "\n\n")

	switch {
	case p.img != nil:
		if p.previewW != width || p.preview == "" {
			p.preview = halfBlocks(p.img, min(width, maxPreviewWidth))
			p.previewW = width
		}
		content.WriteString(p.preview + "\n")
	case p.imgErr != "":
		content.WriteString(imageErrorStyle.Render("[image unavailable] "+p.imgErr) + "\n\n")
	case p.loading:
		content.WriteString(loadingStyle.Render(spin+" generating image...") + "\n\n")
	}

	for _, e := range p.errors {
		content.WriteString(errorStyle.Render(wordwrap.String("Error: "+e, width)) + "\n\n")
	}

	if p.narration != "" {
		text := wordwrap.String(p.narration, width)
		if p.cursor {
			text += cursorStyle.Render(cursorGlyph)
		}
		content.WriteString(narratorStyle.Render(text) + "\n\n")
	}

	// the end marker replaces unanswered choices
	choices := p.choices
	if p.ended && p.locked < 0 {
		choices = nil
	}
	for i, c := range choices {
		switch {
		case p.locked == i:
			content.WriteString(choiceLockedStyle.Render("✔ "+c) + "\n")
		case p.locked >= 0:
			content.WriteString(choiceDisabledStyle.Render("  "+c) + "\n")
		case p.selected == i:
			content.WriteString(choiceSelectedStyle.Render("▶ "+c) + "\n")
		default:
			content.WriteString(choiceStyle.Render("  "+c) + "\n")
		}
	}

	if p.ended {
		content.WriteString("\n" + titleStyle.Render(endMarker) + "\n")
		if p.endNotice != "" {
			content.WriteString(promptStyle.Render(p.endNotice) + "\n")
		}
	}
	content.WriteString("\n")
	return content.String()
}

// objectivesPanel implements turn.ObjectivesDisplay for the side panel.
type objectivesPanel struct {
	objectives []protocol.Objective
}

func (o *objectivesPanel) ShowObjectives(objectives []protocol.Objective) {
	o.objectives = objectives
}

func (o *objectivesPanel) Clear() {
	o.objectives = nil
}

func (o *objectivesPanel) render() string {
	if len(o.objectives) == 0 {
		return "None yet\n"
	}
	var content strings.Builder
	for _, obj := range o.objectives {
		mark := "○"
		style := choiceStyle
		switch {
		case obj.Done():
			mark = "✓"
			style = choiceDisabledStyle
		case obj.PartiallyComplete:
			mark = "◐"
		}
		line := fmt.Sprintf("%s %s", mark, obj.Label())
		if progress := obj.Progress(); progress != "" {
			line += " (" + progress + ")"
		}
		content.WriteString(style.Render(line) + "\n")
	}
	return content.String()
}

var (
	turnTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")). // yellow
			Blink(true)

	imageErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)

	choiceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	choiceSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)

	choiceLockedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("86")). // green
				Bold(true)

	choiceDisabledStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")) // dark grey
)
