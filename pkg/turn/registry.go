package turn

import (
	"errors"
	"fmt"

	"github.com/jwebster45206/story-console/pkg/protocol"
)

var (
	// ErrTurnNotBound is returned for messages addressed to a turn with no view.
	// Only turn 0 is ever created lazily.
	ErrTurnNotBound = errors.New("turn has no view")
	// ErrOutOfOrder is returned when a turn id would skip or reuse an id.
	ErrOutOfOrder = errors.New("turn ids must be created in order")
)

// View is the visual container of one turn.
type View interface {
	// ShowNarration replaces the narration text. cursor marks an in-progress reveal.
	ShowNarration(text string, cursor bool) error
	// ShowImage attaches decoded image bytes. The loading indicator is cleared
	// whether or not the image can be displayed; the error reports the latter.
	ShowImage(data []byte) error
	// ShowImageError clears the loading indicator, keeps the placeholder and
	// flags the failure.
	ShowImageError(message string)
	// ShowError prepends an inline notice to the narration.
	ShowError(message string)
	// ShowChoices renders selectable choices.
	ShowChoices(choices []string)
	// LockChoices disables every choice and marks the selected index.
	LockChoices(selected int)
	// ShowEnd replaces the choice area with the end-of-story marker.
	ShowEnd(notice string)
}

// Surface creates turn views and tears the whole history down.
type Surface interface {
	NewTurn(turnID int) View
	Clear()
}

// ObjectivesDisplay shows the objectives list outside any turn.
type ObjectivesDisplay interface {
	ShowObjectives(objectives []protocol.Objective)
}

// Registry maps turn ids to views. Ids are dense from 0, so the arena index is
// the turn id.
type Registry struct {
	surface Surface
	views   []View
}

func NewRegistry(surface Surface) *Registry {
	return &Registry{surface: surface}
}

// Next is the id the next Create call will bind.
func (r *Registry) Next() int {
	return len(r.views)
}

// Latest returns the most recently created turn.
func (r *Registry) Latest() (int, bool) {
	if len(r.views) == 0 {
		return 0, false
	}
	return len(r.views) - 1, true
}

func (r *Registry) Lookup(turnID int) (View, bool) {
	if turnID < 0 || turnID >= len(r.views) {
		return nil, false
	}
	return r.views[turnID], true
}

// Create binds a view for the next id.
func (r *Registry) Create() (int, View) {
	id := len(r.views)
	v := r.surface.NewTurn(id)
	r.views = append(r.views, v)
	return id, v
}

// CreateAt binds a view for turnID, which must be the next id.
func (r *Registry) CreateAt(turnID int) (View, error) {
	if turnID != len(r.views) {
		return nil, fmt.Errorf("%w: want %d, next is %d", ErrOutOfOrder, turnID, len(r.views))
	}
	_, v := r.Create()
	return v, nil
}

// ResolveOrCreate returns the view for turnID, creating turn 0 on first use.
func (r *Registry) ResolveOrCreate(turnID int) (View, error) {
	if v, ok := r.Lookup(turnID); ok {
		return v, nil
	}
	if turnID == 0 && len(r.views) == 0 {
		_, v := r.Create()
		return v, nil
	}
	return nil, fmt.Errorf("%w: turn %d", ErrTurnNotBound, turnID)
}

// Reset drops every view and restarts ids at 0.
func (r *Registry) Reset() {
	r.views = nil
	r.surface.Clear()
}
