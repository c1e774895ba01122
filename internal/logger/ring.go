package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one record kept by a Ring.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   string
}

func (e Entry) String() string {
	line := fmt.Sprintf("%s %-5s %s", e.Time.Format("15:04:05.000"), e.Level.String(), e.Message)
	if e.Attrs != "" {
		line += " " + e.Attrs
	}
	return line
}

// Ring keeps the most recent log records in memory for the debug pane.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	level   slog.Leveler
}

func NewRing(size int, level slog.Leveler) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{entries: make([]Entry, size), level: level}
}

// Handler returns a slog.Handler that records into the ring.
func (r *Ring) Handler() slog.Handler {
	return &ringHandler{ring: r}
}

// Entries returns the kept records, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Entry(nil), r.entries[:r.next]...)
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

func (r *Ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

type ringHandler struct {
	ring   *Ring
	attrs  []slog.Attr
	prefix string
}

func (h *ringHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelInfo
	if h.ring.level != nil {
		threshold = h.ring.level.Level()
	}
	return level >= threshold
}

func (h *ringHandler) Handle(_ context.Context, rec slog.Record) error {
	var b strings.Builder
	write := func(a slog.Attr, prefix string) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s%s=%v", prefix, a.Key, a.Value.Resolve())
	}
	for _, a := range h.attrs {
		write(a, "")
	}
	rec.Attrs(func(a slog.Attr) bool {
		write(a, h.prefix)
		return true
	})
	h.ring.add(Entry{Time: rec.Time, Level: rec.Level, Message: rec.Message, Attrs: b.String()})
	return nil
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scoped := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	scoped = append(scoped, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		scoped = append(scoped, a)
	}
	return &ringHandler{ring: h.ring, attrs: scoped, prefix: h.prefix}
}

func (h *ringHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ringHandler{ring: h.ring, attrs: h.attrs, prefix: h.prefix + name + "."}
}
