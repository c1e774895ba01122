package runner

import (
	"time"

	"github.com/jwebster45206/story-console/pkg/protocol"
)

// TestSuite defines one scripted playthrough and what it must produce.
type TestSuite struct {
	Name       string       `json:"name"`
	Turns      int          `json:"turns"`                 // storyteller turns before the ending
	Shuffle    bool         `json:"shuffle,omitempty"`     // deliver each turn out of order
	FailImages bool         `json:"fail_images,omitempty"` // every third image fails
	Picks      []int        `json:"picks,omitempty"`       // choice index per turn, first choice when missing
	Expect     Expectations `json:"expect"`
}

// Expectations defines what to check once the story has ended.
type Expectations struct {
	Turns             *int     `json:"turns,omitempty"`              // turn views created, including turn 0
	Ended             *bool    `json:"ended,omitempty"`              // end marker shown
	NarrationContains []string `json:"narration_contains,omitempty"` // substrings of the joined narration
	ImageErrors       *int     `json:"image_errors,omitempty"`       // turns showing an image error badge
	ObjectivesDone    *int     `json:"objectives_done,omitempty"`    // finished objectives in the last list
	AllChoicesLocked  bool     `json:"all_choices_locked,omitempty"` // every turn but the last was answered
}

// TurnRecord is what a turn's view ended up showing.
type TurnRecord struct {
	ID         int
	Narration  string
	Cursor     bool
	Image      bool
	ImageError string
	Errors     []string
	Choices    []string
	Locked     int // -1 while open
	Ended      bool
	EndNotice  string
}

// Transcript is the outcome of one playthrough.
type Transcript struct {
	Turns      []TurnRecord
	Objectives []protocol.Objective
	Selections []protocol.Selection
}

// TestResult contains the outcome of running a test suite.
type TestResult struct {
	Name       string
	Success    bool
	Failures   []string
	Error      error
	Duration   time.Duration
	Transcript *Transcript
}
