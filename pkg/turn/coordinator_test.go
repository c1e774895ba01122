package turn

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jwebster45206/story-console/pkg/narration"
	"github.com/jwebster45206/story-console/pkg/protocol"
	"github.com/jwebster45206/story-console/pkg/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeView struct {
	id         int
	narration  string
	cursor     bool
	image      []byte
	imageErr   string
	errors     []string
	choices    []string
	choiceSets int
	locked     int
	end        *string
	badImage   bool
}

func (v *fakeView) ShowNarration(text string, cursor bool) error {
	v.narration, v.cursor = text, cursor
	return nil
}

func (v *fakeView) ShowImage(data []byte) error {
	if v.badImage {
		return errors.New("not a png")
	}
	v.image = data
	return nil
}

func (v *fakeView) ShowImageError(message string) { v.imageErr = message }
func (v *fakeView) ShowError(message string)      { v.errors = append(v.errors, message) }

func (v *fakeView) ShowChoices(choices []string) {
	v.choices = choices
	v.choiceSets++
	v.locked = -1
}

func (v *fakeView) LockChoices(selected int) { v.locked = selected }
func (v *fakeView) ShowEnd(notice string)    { v.end = &notice }

type fakeSurface struct {
	views   map[int]*fakeView
	cleared int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{views: make(map[int]*fakeView)}
}

func (s *fakeSurface) NewTurn(turnID int) View {
	v := &fakeView{id: turnID, locked: -1}
	s.views[turnID] = v
	return v
}

func (s *fakeSurface) Clear() {
	s.cleared++
	s.views = make(map[int]*fakeView)
}

type fakeSender struct {
	sent []protocol.Selection
	err  error
}

func (s *fakeSender) SendSelection(_ context.Context, sel protocol.Selection) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sel)
	return nil
}

type fakeObjectives struct {
	shown [][]protocol.Objective
}

func (o *fakeObjectives) ShowObjectives(objectives []protocol.Objective) {
	o.shown = append(o.shown, objectives)
}

type harness struct {
	coord      *Coordinator
	surface    *fakeSurface
	sender     *fakeSender
	objectives *fakeObjectives
	clock      *sched.Manual
}

const tick = 10 * time.Millisecond

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	clock := sched.NewManual()
	h := &harness{
		surface:    newFakeSurface(),
		sender:     &fakeSender{},
		objectives: &fakeObjectives{},
		clock:      clock,
	}
	animator := narration.NewAnimator(clock, tick, nil, logger)
	h.coord = NewCoordinator(h.surface, animator, narration.NewExtractor(""), h.sender, h.objectives, logger)
	h.coord.Reset()
	return h
}

func (h *harness) view(t *testing.T, id int) *fakeView {
	t.Helper()
	v, ok := h.surface.views[id]
	require.True(t, ok, "turn %d has no view", id)
	return v
}

// advanceTo answers turns 0..n-1 so that turn n is the latest, empty view.
func (h *harness) advanceTo(t *testing.T, n int) {
	t.Helper()
	for id := 0; id < n; id++ {
		h.coord.OnNarrationBlock(id, "Scene.")
		h.coord.OnChoices(id, []string{"Next"})
		h.clock.Advance(time.Second)
		require.NoError(t, h.coord.OnChoiceSelected(context.Background(), id, "Next"))
	}
}

func TestCoordinator_ResetCreatesTurnZero(t *testing.T) {
	h := newHarness(t)
	h.view(t, 0)
	latest, ok := h.coord.Latest()
	require.True(t, ok)
	assert.Equal(t, 0, latest)
	assert.Equal(t, Unstarted, h.coord.Status(0))
}

func TestCoordinator_ChoicesHeldWhileTyping(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(t, 2)

	h.coord.OnNarrationBlock(2, "The bandits attack. Run or stand?")
	h.clock.Advance(3 * tick)
	assert.Equal(t, Typing, h.coord.Status(2))

	h.coord.OnChoices(2, []string{"Flee", "Fight"})
	v := h.view(t, 2)
	assert.Nil(t, v.choices, "choices must not be visible while typing")
	pending, ok := h.coord.Pending(2)
	require.True(t, ok)
	assert.Equal(t, []string{"Flee", "Fight"}, pending)

	h.clock.Advance(time.Second)
	assert.Equal(t, Complete, h.coord.Status(2))
	assert.Equal(t, []string{"Flee", "Fight"}, v.choices)
	assert.False(t, v.cursor)
	_, ok = h.coord.Pending(2)
	assert.False(t, ok)
}

func TestCoordinator_ChoicesAfterCompletionRenderImmediately(t *testing.T) {
	h := newHarness(t)
	h.coord.OnNarrationBlock(0, "Done.")
	h.clock.Advance(time.Second)
	require.Equal(t, Complete, h.coord.Status(0))

	h.coord.OnChoices(0, []string{"A", "B"})
	assert.Equal(t, []string{"A", "B"}, h.view(t, 0).choices)
	_, ok := h.coord.Pending(0)
	assert.False(t, ok)
}

func TestCoordinator_ChoicesBeforeNarrationArePending(t *testing.T) {
	h := newHarness(t)
	h.coord.OnChoices(0, []string{"Wait"})
	assert.Nil(t, h.view(t, 0).choices)

	h.coord.OnNarrationBlock(0, "Hi.")
	h.clock.Advance(time.Second)
	assert.Equal(t, []string{"Wait"}, h.view(t, 0).choices)
}

func TestCoordinator_LaterPendingSetReplacesEarlier(t *testing.T) {
	h := newHarness(t)
	h.coord.OnNarrationBlock(0, "A long opening line.")
	h.coord.OnChoices(0, []string{"Old"})
	h.coord.OnChoices(0, []string{"New", "Newer"})
	h.clock.Advance(time.Second)

	v := h.view(t, 0)
	assert.Equal(t, []string{"New", "Newer"}, v.choices)
	assert.Equal(t, 1, v.choiceSets)
}

func TestCoordinator_SelectionSendsNextTurnAndCreatesView(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(t, 2)
	h.coord.OnNarrationBlock(2, "Choose.")
	h.coord.OnChoices(2, []string{"Flee", "Fight"})
	h.clock.Advance(time.Second)

	err := h.coord.OnChoiceSelected(context.Background(), 2, "Fight")
	require.NoError(t, err)

	require.NotEmpty(t, h.sender.sent)
	assert.Equal(t, protocol.Selection{Choice: "Fight", TurnID: 3}, h.sender.sent[len(h.sender.sent)-1])
	assert.Equal(t, 1, h.view(t, 2).locked)
	h.view(t, 3)
	latest, _ := h.coord.Latest()
	assert.Equal(t, 3, latest)

	choice, ok := h.coord.Selected(2)
	require.True(t, ok)
	assert.Equal(t, "Fight", choice)

	err = h.coord.OnChoiceSelected(context.Background(), 2, "Flee")
	assert.ErrorIs(t, err, ErrAlreadySelected)
	assert.Equal(t, 1, h.view(t, 2).locked)
}

func TestCoordinator_SelectionRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.coord.OnChoiceSelected(ctx, 0, "Go"), ErrNoChoices)

	h.coord.OnNarrationBlock(0, "Start.")
	h.coord.OnChoices(0, []string{"Go"})
	assert.ErrorIs(t, h.coord.OnChoiceSelected(ctx, 0, "Go"), ErrNoChoices, "pending choices are not selectable")

	h.clock.Advance(time.Second)
	assert.ErrorIs(t, h.coord.OnChoiceSelected(ctx, 0, "Stay"), ErrUnknownChoice)
	assert.Empty(t, h.sender.sent)
}

func TestCoordinator_SendFailureLeavesChoicesOpen(t *testing.T) {
	h := newHarness(t)
	h.coord.OnNarrationBlock(0, "Start.")
	h.coord.OnChoices(0, []string{"Go"})
	h.clock.Advance(time.Second)

	h.sender.err = errors.New("not connected")
	err := h.coord.OnChoiceSelected(context.Background(), 0, "Go")
	require.Error(t, err)

	assert.Equal(t, -1, h.view(t, 0).locked)
	assert.Equal(t, 1, h.surface.viewsLen())
	_, ok := h.coord.Offered(0)
	assert.True(t, ok)

	h.sender.err = nil
	require.NoError(t, h.coord.OnChoiceSelected(context.Background(), 0, "Go"))
	assert.Equal(t, 2, h.surface.viewsLen())
}

func TestCoordinator_NewNarrationCompletesPreviousTurnFirst(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(t, 1)

	h.coord.OnNarrationBlock(1, "Turn one narration is long.")
	h.coord.OnChoices(1, []string{"Onward"})
	h.clock.Advance(2 * tick)
	require.Equal(t, Typing, h.coord.Status(1))

	// A stray block for turn 0 interrupts turn 1's reveal.
	h.coord.OnNarrationBlock(0, "Again.")

	v1 := h.view(t, 1)
	assert.Equal(t, Complete, h.coord.Status(1))
	assert.Equal(t, "Turn one narration is long.\n\n", v1.narration)
	assert.False(t, v1.cursor)
	assert.Equal(t, []string{"Onward"}, v1.choices)
	assert.Equal(t, Typing, h.coord.Status(0))
}

func TestCoordinator_ImageIndependentOfNarration(t *testing.T) {
	h := newHarness(t)
	h.coord.OnNarrationBlock(0, "Still typing this.")
	h.clock.Advance(tick)

	png := []byte{0x89, 'P', 'N', 'G'}
	h.coord.OnImage(0, base64.StdEncoding.EncodeToString(png))

	v := h.view(t, 0)
	assert.Equal(t, png, v.image)
	assert.Equal(t, Typing, h.coord.Status(0))

	h.coord.OnImage(0, "%%%not base64")
	assert.NotEmpty(t, v.imageErr)
}

func TestCoordinator_ImageLoadFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	v := h.view(t, 0)
	v.badImage = true
	h.coord.OnImage(0, base64.StdEncoding.EncodeToString([]byte("junk")))
	assert.Nil(t, v.image)
}

func TestCoordinator_Errors(t *testing.T) {
	h := newHarness(t)
	v := h.view(t, 0)

	h.coord.OnError(0, "Image generation failed: timeout")
	assert.Equal(t, "Image generation failed: timeout", v.imageErr)
	assert.Empty(t, v.errors)

	h.coord.OnError(0, "The storyteller lost the plot")
	assert.Equal(t, []string{"The storyteller lost the plot"}, v.errors)
}

func TestCoordinator_UnboundTurnsAreDropped(t *testing.T) {
	h := newHarness(t)
	h.coord.OnNarrationBlock(7, "Nobody home.")
	h.coord.OnChoices(7, []string{"X"})
	h.coord.OnImage(7, base64.StdEncoding.EncodeToString([]byte("x")))
	h.coord.OnError(7, "oops")

	assert.Equal(t, 1, h.surface.viewsLen())
	assert.Equal(t, Unstarted, h.coord.Status(7))
	_, ok := h.coord.Pending(7)
	assert.False(t, ok)
	assert.Equal(t, 0, h.clock.Pending())
}

func TestCoordinator_LegacyMessagesAddressLatestTurn(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(t, 1)
	h.coord.OnNarrationBlock(1, "Latest.")
	h.clock.Advance(time.Second)

	h.coord.Handle(protocol.Message{Kind: protocol.KindChoices, Choices: []string{"Legacy"}})
	assert.Equal(t, []string{"Legacy"}, h.view(t, 1).choices)

	h.coord.Handle(protocol.Message{Kind: protocol.KindError, Text: "late"})
	assert.Equal(t, []string{"late"}, h.view(t, 1).errors)
}

func TestCoordinator_StreamedNarration(t *testing.T) {
	h := newHarness(t)
	for _, frag := range []string{`{"narr`, `ation": "You wake`, ` up. \"Hi\"`, `", "choices": [`} {
		h.coord.Handle(protocol.Message{Kind: protocol.KindText, Text: frag})
	}
	v := h.view(t, 0)
	assert.True(t, v.cursor)
	assert.Equal(t, Typing, h.coord.Status(0))
	assert.Equal(t, "You wake up.\n\n\"Hi\"", v.narration)

	h.coord.Handle(protocol.Message{Kind: protocol.KindText, Text: `"Look"]}`})
	h.coord.Handle(protocol.Message{Kind: protocol.KindChoices, TurnID: 0, HasTurnID: true, Choices: []string{"Look"}})

	assert.Equal(t, Complete, h.coord.Status(0))
	assert.False(t, v.cursor)
	assert.Equal(t, "You wake up.\n\n\"Hi\"", v.narration)
	assert.Equal(t, []string{"Look"}, v.choices)
}

func TestCoordinator_ChoicesBeforeStreamedNarration(t *testing.T) {
	h := newHarness(t)
	h.coord.Handle(protocol.Message{Kind: protocol.KindChoices, TurnID: 0, HasTurnID: true, Choices: []string{"Look"}})
	v := h.view(t, 0)
	assert.Nil(t, v.choices)

	h.coord.Handle(protocol.Message{Kind: protocol.KindText, Text: `{"narration": "You wake`})
	assert.Equal(t, Typing, h.coord.Status(0))
	assert.True(t, v.cursor)
	assert.Nil(t, v.choices, "choices wait while the narration value is open")

	h.coord.Handle(protocol.Message{Kind: protocol.KindText, Text: ` up."`})
	assert.Equal(t, Complete, h.coord.Status(0))
	assert.False(t, v.cursor)
	assert.Equal(t, "You wake up.\n\n", v.narration)
	assert.Equal(t, []string{"Look"}, v.choices)
	_, held := h.coord.Pending(0)
	assert.False(t, held)

	h.coord.Handle(protocol.Message{Kind: protocol.KindText, Text: `, "choices": ["Look"]}`})
	h.clock.Advance(time.Minute)
	assert.Equal(t, "You wake up.\n\n", v.narration)
	assert.Equal(t, 1, v.choiceSets)
	require.NoError(t, h.coord.OnChoiceSelected(context.Background(), 0, "Look"))
}

func TestCoordinator_ChoicesBeforeEmptyStreamedNarration(t *testing.T) {
	h := newHarness(t)
	h.coord.OnChoices(0, []string{"Go"})
	h.coord.OnText(`{"narration": "", "choices": [`)
	assert.Nil(t, h.view(t, 0).choices)

	h.coord.OnText(`"Go"]}`)
	assert.Equal(t, Complete, h.coord.Status(0))
	assert.Equal(t, []string{"Go"}, h.view(t, 0).choices)
}

func TestCoordinator_RepeatedBlockKeepsChoicesHeld(t *testing.T) {
	h := newHarness(t)
	h.coord.OnChoices(0, []string{"A"})
	h.coord.OnNarrationBlock(0, "One and two.")
	h.clock.Advance(2 * tick)

	h.coord.OnNarrationBlock(0, "Three.")
	v := h.view(t, 0)
	assert.Equal(t, Typing, h.coord.Status(0))
	assert.Nil(t, v.choices, "choices wait for the replacement text")
	_, held := h.coord.Pending(0)
	assert.True(t, held)

	h.clock.Advance(time.Second)
	assert.Equal(t, Complete, h.coord.Status(0))
	assert.Equal(t, "Three.\n\n", v.narration)
	assert.Equal(t, []string{"A"}, v.choices)
	assert.Equal(t, 1, v.choiceSets)
}

func TestCoordinator_RepeatedBlockAfterChoicesShown(t *testing.T) {
	h := newHarness(t)
	h.coord.OnNarrationBlock(0, "First.")
	h.coord.OnChoices(0, []string{"A"})
	h.clock.Advance(time.Second)
	require.Equal(t, []string{"A"}, h.view(t, 0).choices)

	h.coord.OnNarrationBlock(0, "Rewritten.")
	assert.Equal(t, Complete, h.coord.Status(0))
	h.clock.Advance(time.Second)
	assert.Equal(t, "Rewritten.\n\n", h.view(t, 0).narration)
	require.NoError(t, h.coord.OnChoiceSelected(context.Background(), 0, "A"))
}

func TestCoordinator_SelectionCreatesNextTurnInOrder(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(t, 1)
	h.coord.OnNarrationBlock(1, "Pick.")
	h.coord.OnChoices(1, []string{"Go"})
	h.clock.Advance(time.Second)

	// a newer turn bound behind the coordinator's back makes turn 1 stale
	h.coord.registry.Create()
	err := h.coord.OnChoiceSelected(context.Background(), 1, "Go")
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Len(t, h.sender.sent, 1, "nothing is sent for a stale turn")
	assert.Equal(t, -1, h.view(t, 1).locked)
}

func TestCoordinator_Objectives(t *testing.T) {
	h := newHarness(t)
	list := []protocol.Objective{{ID: 1, Objective: "Find the key"}}
	h.coord.Handle(protocol.Message{Kind: protocol.KindObjectives, Objectives: list})
	require.Len(t, h.objectives.shown, 1)
	assert.Equal(t, list, h.objectives.shown[0])
}

func TestCoordinator_GameEnd(t *testing.T) {
	h := newHarness(t)
	h.coord.OnNarrationBlock(0, "The end approaches.")
	h.coord.OnChoices(0, []string{"Accept"})

	h.coord.OnGameEnd("Fin")
	assert.True(t, h.coord.Terminal())
	v := h.view(t, 0)
	require.NotNil(t, v.end)
	assert.Equal(t, "Fin", *v.end)

	h.clock.Advance(time.Second)
	assert.Nil(t, v.choices, "choices flushed after the end are not selectable")
	assert.ErrorIs(t, h.coord.OnChoiceSelected(context.Background(), 0, "Accept"), ErrSessionEnded)

	h.coord.OnGameEnd("again")
	assert.Equal(t, "Fin", *v.end, "second end message is ignored")
}

func TestCoordinator_ResetDropsInFlightWork(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(t, 1)
	h.coord.OnNarrationBlock(1, "Interrupted by a reconnect.")
	h.coord.OnChoices(1, []string{"Later"})
	h.clock.Advance(tick)
	old := h.view(t, 1)

	h.coord.Reset()
	h.clock.Advance(time.Second)

	assert.Nil(t, old.choices)
	assert.Equal(t, 2, h.surface.cleared)
	assert.Equal(t, 1, h.surface.viewsLen())
	assert.Equal(t, Unstarted, h.coord.Status(0))
	assert.Equal(t, Unstarted, h.coord.Status(1))
	_, ok := h.coord.Pending(1)
	assert.False(t, ok)
	assert.False(t, h.coord.Terminal())
}

func (s *fakeSurface) viewsLen() int { return len(s.views) }
