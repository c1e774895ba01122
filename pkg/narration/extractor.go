package narration

import (
	"encoding/json"
	"strings"
)

// DefaultMarker precedes the narration value in the storyteller's JSON envelope.
const DefaultMarker = `"narration": "`

// ParseState is the extractor's position relative to the narration string.
type ParseState int

const (
	Outside ParseState = iota
	MatchingPrefix
	InsideString
	EscapePending
)

func (s ParseState) String() string {
	switch s {
	case Outside:
		return "outside"
	case MatchingPrefix:
		return "matching-prefix"
	case InsideString:
		return "inside-string"
	case EscapePending:
		return "escape-pending"
	default:
		return "unknown"
	}
}

// Extractor pulls narration characters out of a JSON object that arrives in
// arbitrary fragments, without parsing the whole payload. It is not safe for
// concurrent use.
type Extractor struct {
	marker   []rune
	window   []rune // never longer than marker
	inString bool
	escape   bool
	payload  strings.Builder
}

func NewExtractor(marker string) *Extractor {
	if marker == "" {
		marker = DefaultMarker
	}
	m := []rune(marker)
	return &Extractor{
		marker: m,
		window: make([]rune, 0, len(m)),
	}
}

// Feed consumes one fragment and calls emit for every narration character.
func (e *Extractor) Feed(fragment string, emit func(rune)) {
	e.payload.WriteString(fragment)
	for _, r := range fragment {
		if e.inString {
			switch {
			case e.escape:
				e.escape = false
				emit(r)
			case r == '\\':
				e.escape = true
			case r == '"':
				e.inString = false
				e.escape = false
			default:
				emit(r)
			}
			continue
		}

		if len(e.window) == len(e.marker) {
			copy(e.window, e.window[1:])
			e.window = e.window[:len(e.window)-1]
		}
		e.window = append(e.window, r)
		if e.matched() {
			e.inString = true
			e.escape = false
			e.window = e.window[:0]
		}
	}
}

// Reset returns the extractor to scanning with an empty window and payload.
func (e *Extractor) Reset() {
	e.window = e.window[:0]
	e.inString = false
	e.escape = false
	e.payload.Reset()
}

func (e *Extractor) State() ParseState {
	switch {
	case e.inString && e.escape:
		return EscapePending
	case e.inString:
		return InsideString
	case e.partialMatch():
		return MatchingPrefix
	default:
		return Outside
	}
}

// Payload returns the raw text fed since the last Reset.
func (e *Extractor) Payload() string {
	return e.payload.String()
}

// FinalNarration decodes the complete payload and returns its narration field.
// ok is false while the payload is not yet a complete JSON object with narration.
func (e *Extractor) FinalNarration() (string, bool) {
	var envelope struct {
		Narration *string `json:"narration"`
	}
	if err := json.Unmarshal([]byte(e.payload.String()), &envelope); err != nil {
		return "", false
	}
	if envelope.Narration == nil {
		return "", false
	}
	return *envelope.Narration, true
}

func (e *Extractor) matched() bool {
	if len(e.window) != len(e.marker) {
		return false
	}
	for i, r := range e.window {
		if r != e.marker[i] {
			return false
		}
	}
	return true
}

// partialMatch reports whether some suffix of the window is a prefix of the marker.
func (e *Extractor) partialMatch() bool {
	for start := range e.window {
		suffix := e.window[start:]
		if len(suffix) >= len(e.marker) {
			continue
		}
		match := true
		for i, r := range suffix {
			if r != e.marker[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
