package narration

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jwebster45206/story-console/pkg/sched"
)

// DefaultInterval is the delay between revealed characters.
const DefaultInterval = 25 * time.Millisecond

// Sink receives rendered narration for a turn. cursor is true while more text may follow.
type Sink interface {
	RenderNarration(turnID int, text string, cursor bool) error
}

// Token is the cooperative cancellation flag of one reveal.
type Token struct {
	cancelled atomic.Bool
}

func (t *Token) Cancel()         { t.cancelled.Store(true) }
func (t *Token) Cancelled() bool { return t.cancelled.Load() }

// Animator reveals narration one character at a time. At most one reveal is
// active; starting another fast-forwards the previous one first. All methods
// must be called from the scheduler's owner goroutine.
type Animator struct {
	sched    sched.Scheduler
	interval time.Duration
	format   func(string) string
	logger   *slog.Logger

	active *reveal
	stream *streamBuffer
}

type reveal struct {
	turnID   int
	source   []rune
	pos      int
	sink     Sink
	done     func(turnID int)
	token    *Token
	stop     func() bool
	finished bool
}

type streamBuffer struct {
	turnID int
	source []rune
}

func NewAnimator(s sched.Scheduler, interval time.Duration, formatter *Formatter, logger *slog.Logger) *Animator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Animator{
		sched:    s,
		interval: interval,
		format:   formatter.Format,
		logger:   logger,
	}
}

// Reveal starts typing text into sink. done runs exactly once, after the final
// formatted text has been written, whether the reveal completes, is cancelled or fails.
// The returned token cancels this reveal.
func (a *Animator) Reveal(turnID int, text string, sink Sink, done func(turnID int)) *Token {
	a.Cancel()

	r := &reveal{
		turnID: turnID,
		source: []rune(text),
		sink:   sink,
		done:   done,
		token:  &Token{},
	}
	a.active = r
	a.logger.Debug("Reveal started", "turn_id", turnID, "length", len(r.source))

	if len(r.source) == 0 {
		a.finish(r)
		return r.token
	}
	r.stop = a.sched.AfterFunc(a.interval, func() { a.step(r) })
	return r.token
}

// Cancel fast-forwards the active reveal, if any. When it returns, the final
// text has been written and the completion callback has run.
func (a *Animator) Cancel() {
	r := a.active
	if r == nil {
		return
	}
	r.token.Cancel()
	if r.stop != nil {
		r.stop()
	}
	a.logger.Debug("Reveal cancelled", "turn_id", r.turnID, "revealed", r.pos, "length", len(r.source))
	a.finish(r)
}

// Abandon drops the active reveal without writing or calling back. Used when the
// whole view is torn down.
func (a *Animator) Abandon() {
	if r := a.active; r != nil {
		r.token.Cancel()
		if r.stop != nil {
			r.stop()
		}
		r.finished = true
		a.active = nil
	}
	a.stream = nil
}

// Active returns the turn being revealed.
func (a *Animator) Active() (int, bool) {
	if a.active == nil {
		return 0, false
	}
	return a.active.turnID, true
}

func (a *Animator) step(r *reveal) {
	if r.finished {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("Reveal step panicked, writing final text", "turn_id", r.turnID, "panic", fmt.Sprint(rec))
			a.finish(r)
		}
	}()

	if r.token.Cancelled() {
		a.finish(r)
		return
	}

	r.pos++
	if r.pos >= len(r.source) {
		a.finish(r)
		return
	}

	if err := r.sink.RenderNarration(r.turnID, a.format(string(r.source[:r.pos])), true); err != nil {
		a.logger.Error("Reveal render failed, writing final text", "turn_id", r.turnID, "error", err)
		a.finish(r)
		return
	}
	r.stop = a.sched.AfterFunc(a.interval, func() { a.step(r) })
}

// finish writes the complete formatted text, clears the cursor and runs done.
func (a *Animator) finish(r *reveal) {
	if r.finished {
		return
	}
	r.finished = true
	r.pos = len(r.source)
	if a.active == r {
		a.active = nil
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("Final narration render panicked", "turn_id", r.turnID, "panic", fmt.Sprint(rec))
			}
		}()
		if err := r.sink.RenderNarration(r.turnID, a.format(string(r.source)), false); err != nil {
			a.logger.Error("Final narration render failed", "turn_id", r.turnID, "error", err)
		}
	}()

	a.logger.Debug("Reveal finished", "turn_id", r.turnID, "cancelled", r.token.Cancelled())
	if r.done != nil {
		r.done(r.turnID)
	}
}

// Append adds one streamed character to the turn's buffer and renders it with
// the cursor. A buffer for a different turn is discarded.
func (a *Animator) Append(turnID int, ch rune, sink Sink) {
	if a.stream == nil || a.stream.turnID != turnID {
		a.stream = &streamBuffer{turnID: turnID}
	}
	a.stream.source = append(a.stream.source, ch)
	if err := sink.RenderNarration(turnID, a.format(string(a.stream.source)), true); err != nil {
		a.logger.Warn("Streamed narration render failed", "turn_id", turnID, "error", err)
	}
}

// Streamed returns the raw text appended for turnID so far.
func (a *Animator) Streamed(turnID int) (string, bool) {
	if a.stream == nil || a.stream.turnID != turnID {
		return "", false
	}
	return string(a.stream.source), true
}

// Settle ends a stream: final replaces the buffered text when non-empty, and the
// cursor is removed.
func (a *Animator) Settle(turnID int, final string, sink Sink) {
	text := final
	if text == "" {
		if buffered, ok := a.Streamed(turnID); ok {
			text = buffered
		}
	}
	if a.stream != nil && a.stream.turnID == turnID {
		a.stream = nil
	}
	if err := sink.RenderNarration(turnID, a.format(text), false); err != nil {
		a.logger.Warn("Settled narration render failed", "turn_id", turnID, "error", err)
	}
}

// ResetStream drops any buffered streamed text.
func (a *Animator) ResetStream() {
	a.stream = nil
}
