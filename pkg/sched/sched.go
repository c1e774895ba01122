// Package sched provides the scheduled-task primitives the typing animation runs on.
//
// All work is funneled through one owner goroutine: timers never run callbacks
// directly, they post them to a Poster, so callers see a single-threaded world.
package sched

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Scheduler runs fn once after d. The returned stop func cancels a pending run
// and reports whether it did.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// Poster enqueues fn to run on the owner goroutine.
type Poster interface {
	Post(fn func())
}

// PosterFunc adapts a plain function to Poster.
type PosterFunc func(fn func())

func (f PosterFunc) Post(fn func()) { f(fn) }

// Timers is a wall-clock Scheduler that posts due callbacks to an owner loop.
type Timers struct {
	Poster Poster
}

func (t Timers) AfterFunc(d time.Duration, fn func()) func() bool {
	var mu sync.Mutex
	stopped := false
	timer := time.AfterFunc(d, func() {
		t.Poster.Post(func() {
			mu.Lock()
			s := stopped
			mu.Unlock()
			if !s {
				fn()
			}
		})
	})
	return func() bool {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return false
		}
		stopped = true
		timer.Stop()
		return true
	}
}

// Loop is a single-owner task queue.
type Loop struct {
	tasks chan func()
}

func NewLoop(buffer int) *Loop {
	return &Loop{tasks: make(chan func(), buffer)}
}

// Post enqueues fn. It blocks when the buffer is full.
func (l *Loop) Post(fn func()) {
	l.tasks <- fn
}

// Run executes posted tasks in order until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Manual is a virtual clock for tests. Tasks run on the goroutine calling Advance.
type Manual struct {
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) func() bool {
	m.seq++
	task := &manualTask{at: m.now + d, seq: m.seq, fn: fn}
	m.tasks = append(m.tasks, task)
	return func() bool {
		if task.stopped {
			return false
		}
		task.stopped = true
		return true
	}
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration { return m.now }

// Advance moves the clock forward by d, running every task that becomes due in
// deadline order. Tasks scheduled while advancing run too if they fall inside d.
func (m *Manual) Advance(d time.Duration) {
	end := m.now + d
	for {
		task := m.next(end)
		if task == nil {
			break
		}
		m.now = task.at
		task.stopped = true
		task.fn()
	}
	m.now = end
}

// Pending counts scheduled tasks that have neither run nor been stopped.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (m *Manual) next(end time.Duration) *manualTask {
	live := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.tasks = live
	if len(live) == 0 {
		return nil
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].at != live[j].at {
			return live[i].at < live[j].at
		}
		return live[i].seq < live[j].seq
	})
	if live[0].at > end {
		return nil
	}
	return live[0]
}
