// Package storyteller is a scripted stand-in for the narrative server. It
// speaks the same wire protocol, including streamed intros and out-of-order
// delivery, so the console can be exercised without a model behind it.
package storyteller

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/jwebster45206/story-console/pkg/protocol"
)

var (
	ErrStoryOver      = errors.New("story is over")
	ErrUnexpectedTurn = errors.New("selection is not for the next turn")
)

// Scene is one scripted turn.
type Scene struct {
	Narration string
	Choices   []string
}

// Story is the script a Session plays.
type Story struct {
	Intro        string
	IntroChoices []string
	Scenes       []Scene // cycled when the session runs longer than the script
	Ending       string
	Objectives   []string
}

// DefaultStory is the built-in script.
func DefaultStory() Story {
	return Story{
		Intro:        "The carnival lights flicker on as dusk settles. *Somewhere* a calliope plays a tune you almost remember. Where do you begin?",
		IntroChoices: []string{"Ferris Wheel", "Cotton Candy Stand", "Hall of Mirrors"},
		Scenes: []Scene{
			{
				Narration: "You choose the %s. A ticket taker with a **brass monocle** waves you forward: \"Mind the third step; it bites.\" The crowd parts, then closes behind you...",
				Choices:   []string{"Follow the ticket taker", "Slip under the rope", "Ask about the step"},
			},
			{
				Narration: "\"%s?\" the ticket taker repeats. The lights dim; a single bulb swings overhead! Something small scurries past your boots.",
				Choices:   []string{"Chase it", "Stand still", "Call out"},
			},
			{
				Narration: "After you %s, the music stops mid-note. In the silence you hear it: a key turning in a lock; then laughter.",
				Choices:   []string{"Open the door", "Hide", "Laugh back"},
			},
		},
		Ending:     "You %s, and the carnival folds itself away like a paper lantern. The objectives were never the point. You had fun, and that was the goal all along.",
		Objectives: []string{"Win a prize", "Find the lost key", "Ride everything twice"},
	}
}

// Options tune a Session's pacing and delivery.
type Options struct {
	Turns      int           // turns after the intro before the story ends
	CharDelay  time.Duration // between streamed intro characters
	FrameDelay time.Duration // between messages of one turn
	Shuffle    bool          // deliver each turn's messages in random order
	FailImages bool          // report an image failure every third turn
	Seed       int64
	ImageSize  int
}

// Frame is one encoded message and the pause before sending it.
type Frame struct {
	Data  []byte
	Delay time.Duration
}

// Session is one playthrough. It is not safe for concurrent use.
type Session struct {
	story  Story
	opts   Options
	rng    *rand.Rand
	logger *slog.Logger

	turn       int
	ended      bool
	objectives []protocol.Objective
}

func NewSession(story Story, opts Options, logger *slog.Logger) *Session {
	if opts.Turns < 1 {
		opts.Turns = 1
	}
	if opts.ImageSize <= 0 {
		opts.ImageSize = 32
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	objectives := make([]protocol.Objective, len(story.Objectives))
	for i, label := range story.Objectives {
		objectives[i] = protocol.Objective{ID: i + 1, Objective: label}
	}
	// the last objective is counted
	if n := len(objectives); n > 0 {
		target, current := 2, 0
		objectives[n-1].TargetCount = &target
		objectives[n-1].CurrentCount = &current
	}

	return &Session{
		story:      story,
		opts:       opts,
		rng:        rand.New(rand.NewSource(seed)),
		logger:     logger,
		objectives: objectives,
	}
}

func (s *Session) Turn() int { return s.turn }

func (s *Session) Ended() bool { return s.ended }

// Start streams the intro as raw JSON fragments, then sends turn 0's image and choices.
func (s *Session) Start() ([]Frame, error) {
	// MarshalIndent separates keys with ": ", matching narration.DefaultMarker.
	envelope, err := json.MarshalIndent(struct {
		Narration string   `json:"narration"`
		Choices   []string `json:"choices"`
	}{s.story.Intro, s.story.IntroChoices}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intro: %w", err)
	}

	var frames []Frame
	for _, ch := range string(envelope) {
		f, err := s.frame(protocol.KindText, string(ch), -1, s.opts.CharDelay)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}

	img, err := s.imageFrame(0)
	if err != nil {
		return nil, err
	}
	choices, err := s.frame(protocol.KindChoices, s.story.IntroChoices, 0, s.opts.FrameDelay)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Story started", "intro_length", len(envelope))
	return append(frames, img, choices), nil
}

// Respond advances the story for a selection.
func (s *Session) Respond(sel protocol.Selection) ([]Frame, error) {
	if s.ended {
		return nil, ErrStoryOver
	}
	if sel.TurnID != s.turn+1 {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedTurn, sel.TurnID, s.turn+1)
	}
	s.turn = sel.TurnID
	s.progress()

	objectives, err := s.frame(protocol.KindObjectives, s.objectives, s.turn, s.opts.FrameDelay)
	if err != nil {
		return nil, err
	}

	if s.turn >= s.opts.Turns {
		s.ended = true
		ending, err := s.frame(protocol.KindNarrationBlock, fmt.Sprintf(s.story.Ending, strings.ToLower(sel.Choice)), s.turn, s.opts.FrameDelay)
		if err != nil {
			return nil, err
		}
		end, err := s.frame(protocol.KindGameEnd, "The End", -1, s.opts.FrameDelay)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Story ended", "turn_id", s.turn)
		return []Frame{objectives, ending, end}, nil
	}

	scene := s.scene()
	narration, err := s.frame(protocol.KindNarrationBlock, fmt.Sprintf(scene.Narration, strings.ToLower(sel.Choice)), s.turn, s.opts.FrameDelay)
	if err != nil {
		return nil, err
	}
	img, err := s.imageFrame(s.turn)
	if err != nil {
		return nil, err
	}
	choices, err := s.frame(protocol.KindChoices, scene.Choices, s.turn, s.opts.FrameDelay)
	if err != nil {
		return nil, err
	}

	frames := []Frame{objectives, narration, img, choices}
	if s.opts.Shuffle {
		s.rng.Shuffle(len(frames), func(i, j int) { frames[i], frames[j] = frames[j], frames[i] })
	}
	s.logger.Debug("Turn generated", "turn_id", s.turn, "choice", sel.Choice, "shuffled", s.opts.Shuffle)
	return frames, nil
}

// Objectives returns the current objective list.
func (s *Session) Objectives() []protocol.Objective {
	return s.objectives
}

func (s *Session) scene() Scene {
	if len(s.story.Scenes) == 0 {
		return Scene{Narration: "You chose %s.", Choices: []string{"Continue"}}
	}
	return s.story.Scenes[(s.turn-1)%len(s.story.Scenes)]
}

// progress finishes one objective per turn, counting the last one up first.
func (s *Session) progress() {
	n := len(s.objectives)
	if n == 0 {
		return
	}
	last := &s.objectives[n-1]
	if last.CurrentCount != nil && *last.CurrentCount < *last.TargetCount {
		*last.CurrentCount++
		last.PartiallyComplete = *last.CurrentCount < *last.TargetCount
		last.Finished = !last.PartiallyComplete
		return
	}
	for i := range s.objectives {
		if !s.objectives[i].Finished {
			s.objectives[i].Finished = true
			return
		}
	}
}

func (s *Session) imageFrame(turnID int) (Frame, error) {
	if s.opts.FailImages && turnID > 0 && turnID%3 == 0 {
		return s.frame(protocol.KindError, fmt.Sprintf("Image generation failed for turn %d", turnID), turnID, s.opts.FrameDelay)
	}
	data, err := GradientPNG(turnID, s.opts.ImageSize, s.opts.ImageSize)
	if err != nil {
		return s.frame(protocol.KindError, fmt.Sprintf("Error generating image: %v", err), turnID, s.opts.FrameDelay)
	}
	return s.frame(protocol.KindImage, base64.StdEncoding.EncodeToString(data), turnID, s.opts.FrameDelay)
}

func (s *Session) frame(kind protocol.Kind, content any, turnID int, delay time.Duration) (Frame, error) {
	data, err := protocol.Encode(kind, content, turnID)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data, Delay: delay}, nil
}
