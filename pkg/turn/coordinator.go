package turn

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jwebster45206/story-console/pkg/narration"
	"github.com/jwebster45206/story-console/pkg/protocol"
)

// Status is a turn's narration state. The zero value means not yet started.
type Status int

const (
	Unstarted Status = iota
	Typing
	Complete
)

func (s Status) String() string {
	switch s {
	case Typing:
		return "typing"
	case Complete:
		return "complete"
	default:
		return "unstarted"
	}
}

var (
	ErrSessionEnded    = errors.New("story has ended")
	ErrNoChoices       = errors.New("turn has no selectable choices")
	ErrAlreadySelected = errors.New("turn already has a selection")
	ErrUnknownChoice   = errors.New("choice is not offered for this turn")
)

// Sender delivers a selection to the storyteller.
type Sender interface {
	SendSelection(ctx context.Context, sel protocol.Selection) error
}

// Coordinator owns turn status and the pending choice set, and decides when
// choices become visible. It is not safe for concurrent use: every method must
// run on the same owner loop as the animator's scheduler.
type Coordinator struct {
	registry   *Registry
	animator   *narration.Animator
	extractor  *narration.Extractor
	sender     Sender
	objectives ObjectivesDisplay
	logger     *slog.Logger

	status     map[int]Status
	streaming  map[int]bool
	pending    map[int][]string
	offered    map[int][]string
	selected   map[int]string
	blocks     map[int]int
	streamTurn int
	terminal   bool
	generation int
}

// NewCoordinator wires the coordinator. objectives may be nil.
func NewCoordinator(surface Surface, animator *narration.Animator, extractor *narration.Extractor, sender Sender, objectives ObjectivesDisplay, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		registry:   NewRegistry(surface),
		animator:   animator,
		extractor:  extractor,
		sender:     sender,
		objectives: objectives,
		logger:     logger,
	}
	c.clearState()
	return c
}

func (c *Coordinator) clearState() {
	c.status = make(map[int]Status)
	c.streaming = make(map[int]bool)
	c.pending = make(map[int][]string)
	c.offered = make(map[int][]string)
	c.selected = make(map[int]string)
	c.blocks = make(map[int]int)
	c.streamTurn = 0
	c.terminal = false
}

// Reset starts a new session: all turn state is dropped, ids restart at 0 and
// turn 0's view is created.
func (c *Coordinator) Reset() {
	c.generation++
	c.animator.Abandon()
	c.extractor.Reset()
	c.clearState()
	c.registry.Reset()
	c.newTurn()
	c.logger.Info("Session reset", "generation", c.generation)
}

// Handle routes a decoded message.
func (c *Coordinator) Handle(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindText:
		c.OnText(msg.Text)
	case protocol.KindNarrationBlock:
		c.OnNarrationBlock(msg.TurnID, msg.Text)
	case protocol.KindImage:
		c.OnImage(msg.TurnID, msg.Text)
	case protocol.KindChoices:
		c.OnChoices(c.addressed(msg), msg.Choices)
	case protocol.KindObjectives:
		c.OnObjectives(msg.Objectives)
	case protocol.KindError:
		c.OnError(c.addressed(msg), msg.Text)
	case protocol.KindGameEnd:
		c.OnGameEnd(msg.Text)
	default:
		c.logger.Warn("Unknown message kind", "kind", msg.Kind)
	}
}

// addressed resolves legacy messages without turn_id to the latest turn.
func (c *Coordinator) addressed(msg protocol.Message) int {
	if msg.HasTurnID {
		return msg.TurnID
	}
	if id, ok := c.registry.Latest(); ok {
		return id
	}
	return 0
}

// OnText feeds a streamed fragment of the JSON envelope for the latest turn.
func (c *Coordinator) OnText(fragment string) {
	id := c.addressed(protocol.Message{})
	if _, err := c.registry.ResolveOrCreate(id); err != nil {
		c.logger.Warn("Dropping streamed text", "turn_id", id, "error", err)
		return
	}
	if c.status[id] == Complete {
		c.logger.Debug("Ignoring streamed text for completed turn", "turn_id", id)
		return
	}
	if c.streamTurn != id {
		c.extractor.Reset()
		c.streamTurn = id
	}
	c.extractor.Feed(fragment, func(r rune) {
		if !c.streaming[id] {
			c.streaming[id] = true
			c.status[id] = Typing
		}
		c.animator.Append(id, r, c)
	})

	// Choices that arrived first are released once the narration value closes.
	if _, held := c.pending[id]; held && c.streamEnded(id) {
		c.settleStream(id)
	}
}

// streamEnded reports whether turnID's narration value has been fully received.
func (c *Coordinator) streamEnded(turnID int) bool {
	if c.streamTurn != turnID {
		return false
	}
	if st := c.extractor.State(); c.streaming[turnID] && st != narration.InsideString && st != narration.EscapePending {
		return true
	}
	_, ok := c.extractor.FinalNarration()
	return ok
}

// OnNarrationBlock reveals a complete narration for turnID.
func (c *Coordinator) OnNarrationBlock(turnID int, text string) {
	if _, err := c.registry.ResolveOrCreate(turnID); err != nil {
		c.logger.Warn("Dropping narration block", "turn_id", turnID, "error", err)
		return
	}

	// A reveal for another turn completes (and flushes its choices) first. A
	// superseded reveal of this turn keeps its held choices for the new text.
	c.blocks[turnID]++
	block := c.blocks[turnID]
	c.animator.Cancel()

	if c.streamTurn == turnID {
		c.extractor.Reset()
		c.animator.ResetStream()
	}
	delete(c.streaming, turnID)
	if _, shown := c.offered[turnID]; !shown {
		c.status[turnID] = Typing
	}

	gen := c.generation
	c.animator.Reveal(turnID, text, c, func(id int) {
		if gen != c.generation || block != c.blocks[id] {
			return
		}
		c.completeNarration(id)
	})
}

// OnChoices renders choices now if the turn's narration is complete, and holds
// them otherwise. A later set for the same turn replaces a held one.
func (c *Coordinator) OnChoices(turnID int, choices []string) {
	if _, err := c.registry.ResolveOrCreate(turnID); err != nil {
		c.logger.Warn("Dropping choices", "turn_id", turnID, "error", err)
		return
	}
	if _, done := c.selected[turnID]; done {
		c.logger.Warn("Ignoring choices for a turn that already has a selection", "turn_id", turnID)
		return
	}

	// A choices message ends a streamed narration.
	if c.streaming[turnID] && c.status[turnID] != Complete {
		c.settleStream(turnID)
	}

	if c.status[turnID] == Complete {
		c.renderChoices(turnID, choices)
		return
	}

	if _, held := c.pending[turnID]; held {
		c.logger.Debug("Replacing pending choices", "turn_id", turnID)
	}
	c.pending[turnID] = slices.Clone(choices)
	c.logger.Debug("Choices pending until narration completes", "turn_id", turnID, "status", c.status[turnID].String(), "count", len(choices))
}

// OnImage attaches an image regardless of narration status.
func (c *Coordinator) OnImage(turnID int, payload string) {
	v, err := c.registry.ResolveOrCreate(turnID)
	if err != nil {
		c.logger.Warn("Dropping image", "turn_id", turnID, "error", err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		c.logger.Warn("Image payload is not valid base64", "turn_id", turnID, "error", err)
		v.ShowImageError("Image data could not be decoded")
		return
	}
	if err := v.ShowImage(data); err != nil {
		c.logger.Warn("Image failed to load", "turn_id", turnID, "error", err)
		return
	}
	c.logger.Debug("Image attached", "turn_id", turnID, "bytes", len(data))
}

// OnError surfaces an upstream error inside the turn's view.
func (c *Coordinator) OnError(turnID int, message string) {
	v, err := c.registry.ResolveOrCreate(turnID)
	if err != nil {
		c.logger.Error("Storyteller error for unknown turn", "turn_id", turnID, "message", message, "error", err)
		return
	}
	c.logger.Warn("Storyteller reported error", "turn_id", turnID, "message", message)
	if protocol.IsImageError(message) {
		v.ShowImageError(message)
		return
	}
	v.ShowError(message)
}

func (c *Coordinator) OnObjectives(objectives []protocol.Objective) {
	if c.objectives == nil {
		return
	}
	c.objectives.ShowObjectives(objectives)
}

// OnGameEnd makes the session terminal and marks the latest turn.
func (c *Coordinator) OnGameEnd(notice string) {
	if c.terminal {
		return
	}
	c.terminal = true
	id, ok := c.registry.Latest()
	if !ok {
		c.logger.Info("Story ended before any turn")
		return
	}
	v, _ := c.registry.Lookup(id)
	delete(c.offered, id)
	v.ShowEnd(notice)
	c.logger.Info("Story ended", "turn_id", id)
}

// OnChoiceSelected sends the selection for turnID with the next turn's id,
// locks the turn's choices and creates the next turn's view.
func (c *Coordinator) OnChoiceSelected(ctx context.Context, turnID int, choice string) error {
	if c.terminal {
		return ErrSessionEnded
	}
	if _, done := c.selected[turnID]; done {
		return ErrAlreadySelected
	}
	offered, ok := c.offered[turnID]
	if !ok {
		return ErrNoChoices
	}
	idx := slices.Index(offered, choice)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownChoice, choice)
	}
	next := turnID + 1
	if next != c.registry.Next() {
		return fmt.Errorf("%w: want %d, next is %d", ErrOutOfOrder, next, c.registry.Next())
	}

	sel := protocol.Selection{Choice: choice, TurnID: next}
	if err := c.sender.SendSelection(ctx, sel); err != nil {
		c.logger.Error("Failed to send selection", "turn_id", turnID, "choice", choice, "error", err)
		return fmt.Errorf("failed to send selection: %w", err)
	}

	v, _ := c.registry.Lookup(turnID)
	v.LockChoices(idx)
	c.selected[turnID] = choice
	delete(c.offered, turnID)
	if _, err := c.registry.CreateAt(next); err != nil {
		return err
	}
	c.bindStream(next)
	c.logger.Info("Choice selected", "turn_id", turnID, "choice", choice, "next_turn_id", next)
	return nil
}

// RenderNarration implements narration.Sink by routing to the turn's view.
func (c *Coordinator) RenderNarration(turnID int, text string, cursor bool) error {
	v, ok := c.registry.Lookup(turnID)
	if !ok {
		return fmt.Errorf("%w: turn %d", ErrTurnNotBound, turnID)
	}
	return v.ShowNarration(text, cursor)
}

func (c *Coordinator) Status(turnID int) Status { return c.status[turnID] }

// Pending returns the held choices for turnID.
func (c *Coordinator) Pending(turnID int) ([]string, bool) {
	choices, ok := c.pending[turnID]
	return choices, ok
}

// Offered returns rendered choices that still await a selection.
func (c *Coordinator) Offered(turnID int) ([]string, bool) {
	choices, ok := c.offered[turnID]
	return choices, ok
}

// Selected returns the choice made for turnID.
func (c *Coordinator) Selected(turnID int) (string, bool) {
	choice, ok := c.selected[turnID]
	return choice, ok
}

func (c *Coordinator) Terminal() bool { return c.terminal }

// Latest returns the most recently created turn id.
func (c *Coordinator) Latest() (int, bool) { return c.registry.Latest() }

func (c *Coordinator) newTurn() {
	id, _ := c.registry.Create()
	c.bindStream(id)
}

// bindStream points streamed text at turnID with a fresh extractor and buffer.
func (c *Coordinator) bindStream(turnID int) {
	c.extractor.Reset()
	c.animator.ResetStream()
	c.streamTurn = turnID
}

func (c *Coordinator) completeNarration(turnID int) {
	c.status[turnID] = Complete
	if choices, ok := c.pending[turnID]; ok {
		delete(c.pending, turnID)
		c.renderChoices(turnID, choices)
	}
}

func (c *Coordinator) settleStream(turnID int) {
	final := ""
	if c.streamTurn == turnID {
		if text, ok := c.extractor.FinalNarration(); ok {
			final = text
			c.logger.Debug("Final narration sync applied", "turn_id", turnID)
		}
	}
	c.animator.Settle(turnID, final, c)
	delete(c.streaming, turnID)
	c.completeNarration(turnID)
}

func (c *Coordinator) renderChoices(turnID int, choices []string) {
	v, ok := c.registry.Lookup(turnID)
	if !ok {
		c.logger.Warn("Choices ready for a turn without a view", "turn_id", turnID)
		return
	}
	if c.terminal {
		c.logger.Debug("Discarding choices after story end", "turn_id", turnID)
		return
	}
	if len(choices) == 0 {
		c.logger.Debug("Empty choice set", "turn_id", turnID)
		return
	}
	c.offered[turnID] = slices.Clone(choices)
	v.ShowChoices(choices)
	c.logger.Debug("Choices rendered", "turn_id", turnID, "count", len(choices))
}
