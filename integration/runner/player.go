package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/story-console/internal/transport"
	"github.com/jwebster45206/story-console/pkg/narration"
	"github.com/jwebster45206/story-console/pkg/protocol"
	"github.com/jwebster45206/story-console/pkg/sched"
	"github.com/jwebster45206/story-console/pkg/turn"
)

const (
	// DefaultTypingInterval keeps reveals short so suites finish quickly.
	DefaultTypingInterval = time.Millisecond
	reconnectDelay        = 100 * time.Millisecond
	loopBuffer            = 1024
)

// Player plays a story against a storyteller the way the console does, with a
// recording surface instead of a terminal and scripted picks instead of keys.
type Player struct {
	ServerURL      string
	SessionID      string
	TypingInterval time.Duration
	Picks          []int
	Logger         *slog.Logger
}

// Play connects, answers every offered choice set and returns once the end
// marker is shown and the last narration has finished.
func (p *Player) Play(ctx context.Context) (*Transcript, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := p.TypingInterval
	if interval <= 0 {
		interval = DefaultTypingInterval
	}

	loop := sched.NewLoop(loopBuffer)
	g := &game{
		ctx:     ctx,
		picks:   p.Picks,
		surface: &recordingSurface{},
		done:    make(chan *Transcript, 1),
		logger:  logger,
	}
	// every task is followed by a look at the board
	post := sched.PosterFunc(func(fn func()) {
		loop.Post(func() {
			fn()
			g.step()
		})
	})

	listener := transport.ListenerFuncs{
		OnConnected: func() { post(g.connected) },
		OnMessage: func(msg protocol.Message) {
			post(func() { g.coord.Handle(msg) })
		},
		OnDisconnected: func(err error) {
			logger.Debug("Player disconnected", "error", err)
		},
	}
	g.link = transport.NewWebSocket(p.ServerURL, p.SessionID, reconnectDelay, listener, logger)

	animator := narration.NewAnimator(sched.Timers{Poster: post}, interval, narration.NewFormatter(), logger)
	g.coord = turn.NewCoordinator(g.surface, animator, narration.NewExtractor(""), g, g, logger)

	go func() { _ = g.link.Run(ctx) }()
	go func() { _ = loop.Run(ctx) }()

	select {
	case t := <-g.done:
		return t, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("story did not finish: %w", ctx.Err())
	}
}

// game is the loop-owned state of one playthrough.
type game struct {
	ctx     context.Context
	link    transport.Transport
	coord   *turn.Coordinator
	surface *recordingSurface
	picks   []int
	logger  *slog.Logger

	objectives []protocol.Objective
	selections []protocol.Selection
	finished   bool
	done       chan *Transcript
}

func (g *game) connected() {
	g.objectives = nil
	g.coord.Reset()
}

func (g *game) SendSelection(ctx context.Context, sel protocol.Selection) error {
	if err := g.link.SendSelection(ctx, sel); err != nil {
		return err
	}
	g.selections = append(g.selections, sel)
	return nil
}

func (g *game) ShowObjectives(objectives []protocol.Objective) {
	g.objectives = objectives
}

func (g *game) step() {
	if g.finished {
		return
	}
	latest, ok := g.coord.Latest()
	if !ok {
		return
	}

	if g.surface.ended() {
		if g.coord.Status(latest) == turn.Typing {
			return
		}
		g.finished = true
		g.done <- g.transcript()
		return
	}

	offered, ok := g.coord.Offered(latest)
	if !ok {
		return
	}
	idx := 0
	if latest < len(g.picks) && g.picks[latest] >= 0 && g.picks[latest] < len(offered) {
		idx = g.picks[latest]
	}
	if err := g.coord.OnChoiceSelected(g.ctx, latest, offered[idx]); err != nil {
		// retried after the next task
		g.logger.Warn("Selection failed", "turn_id", latest, "error", err)
	}
}

func (g *game) transcript() *Transcript {
	t := &Transcript{
		Objectives: append([]protocol.Objective(nil), g.objectives...),
		Selections: append([]protocol.Selection(nil), g.selections...),
	}
	for _, rec := range g.surface.turns {
		r := *rec
		r.Errors = append([]string(nil), rec.Errors...)
		r.Choices = append([]string(nil), rec.Choices...)
		t.Turns = append(t.Turns, r)
	}
	return t
}

// recordingSurface keeps what each turn's view was asked to show.
type recordingSurface struct {
	turns []*TurnRecord
}

func (s *recordingSurface) NewTurn(turnID int) turn.View {
	rec := &TurnRecord{ID: turnID, Locked: -1}
	s.turns = append(s.turns, rec)
	return recordingView{rec: rec}
}

func (s *recordingSurface) Clear() {
	s.turns = nil
}

func (s *recordingSurface) ended() bool {
	for _, t := range s.turns {
		if t.Ended {
			return true
		}
	}
	return false
}

type recordingView struct {
	rec *TurnRecord
}

func (v recordingView) ShowNarration(text string, cursor bool) error {
	v.rec.Narration = text
	v.rec.Cursor = cursor
	return nil
}

func (v recordingView) ShowImage(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty image")
	}
	v.rec.Image = true
	return nil
}

func (v recordingView) ShowImageError(message string) { v.rec.ImageError = message }
func (v recordingView) ShowError(message string)      { v.rec.Errors = append(v.rec.Errors, message) }
func (v recordingView) ShowChoices(choices []string)  { v.rec.Choices = choices }
func (v recordingView) LockChoices(selected int)      { v.rec.Locked = selected }

func (v recordingView) ShowEnd(notice string) {
	v.rec.Ended = true
	v.rec.EndNotice = notice
}
