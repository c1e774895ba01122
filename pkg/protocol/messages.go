package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the type of a message sent by the storyteller.
type Kind string

const (
	KindText           Kind = "text"            // raw fragment of the streaming JSON envelope
	KindNarrationBlock Kind = "narration_block" // complete narration for a turn
	KindImage          Kind = "image"           // base64 encoded PNG for a turn
	KindChoices        Kind = "choices"         // ordered choice labels for a turn
	KindObjectives     Kind = "objectives"      // objective list, forwarded to the side panel
	KindError          Kind = "error"           // upstream-reported error
	KindGameEnd        Kind = "game_end"        // the story is over
)

// ErrMalformed is wrapped by every Decode failure.
var ErrMalformed = errors.New("malformed message")

// Image generation failures are reported as plain errors with one of these prefixes.
var imageErrorPrefixes = []string{
	"Error generating image:",
	"Image generation failed",
}

// Envelope is the wire shape of every inbound message.
type Envelope struct {
	Type    Kind            `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	TurnID  *int            `json:"turn_id,omitempty"`
}

// Message is a decoded inbound message. Only the fields relevant to Kind are set.
type Message struct {
	Kind       Kind
	TurnID     int
	HasTurnID  bool // false for legacy messages that address the latest turn
	Text       string
	Choices    []string
	Objectives []Objective
}

// Objective is one entry of the objectives list.
type Objective struct {
	ID                int    `json:"id"`
	Objective         string `json:"objective"`
	Finished          bool   `json:"finished"`
	TargetCount       *int   `json:"target_count,omitempty"`
	CurrentCount      *int   `json:"current_count,omitempty"`
	PartiallyComplete bool   `json:"partially_complete,omitempty"`
}

func (o Objective) Label() string { return o.Objective }
func (o Objective) Done() bool    { return o.Finished }

// Progress renders "current/target" for counted objectives, or "" when uncounted.
func (o Objective) Progress() string {
	if o.TargetCount == nil {
		return ""
	}
	current := 0
	if o.CurrentCount != nil {
		current = *o.CurrentCount
	}
	return fmt.Sprintf("%d/%d", current, *o.TargetCount)
}

// Selection is the only outbound message: the chosen label and the id of the turn it starts.
type Selection struct {
	Choice string `json:"choice"`
	TurnID int    `json:"turn_id"`
}

func (s Selection) Validate() error {
	if strings.TrimSpace(s.Choice) == "" {
		return fmt.Errorf("choice cannot be empty")
	}
	if s.TurnID < 1 {
		return fmt.Errorf("turn_id must be positive, got %d", s.TurnID)
	}
	return nil
}

// IsImageError reports whether an error message refers to image generation.
func IsImageError(text string) bool {
	for _, p := range imageErrorPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// Decode parses one inbound frame and checks the content shape for its kind.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := Message{Kind: env.Type}
	if env.TurnID != nil {
		if *env.TurnID < 0 {
			return Message{}, fmt.Errorf("%w: negative turn_id %d", ErrMalformed, *env.TurnID)
		}
		msg.TurnID = *env.TurnID
		msg.HasTurnID = true
	}

	switch env.Type {
	case KindText, KindError:
		if err := decodeContent(env.Content, &msg.Text); err != nil {
			return Message{}, err
		}
	case KindNarrationBlock, KindImage:
		if err := decodeContent(env.Content, &msg.Text); err != nil {
			return Message{}, err
		}
		if !msg.HasTurnID {
			return Message{}, fmt.Errorf("%w: %s without turn_id", ErrMalformed, env.Type)
		}
	case KindChoices:
		if err := decodeContent(env.Content, &msg.Choices); err != nil {
			return Message{}, err
		}
	case KindObjectives:
		if err := decodeContent(env.Content, &msg.Objectives); err != nil {
			return Message{}, err
		}
	case KindGameEnd:
		// content is an optional notice
		if len(env.Content) > 0 {
			_ = json.Unmarshal(env.Content, &msg.Text)
		}
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	return msg, nil
}

func decodeContent(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing content", ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: bad content: %v", ErrMalformed, err)
	}
	return nil
}

// Encode builds an inbound frame. turnID < 0 omits turn_id.
func Encode(kind Kind, content any, turnID int) ([]byte, error) {
	env := Envelope{Type: kind}
	if content != nil {
		raw, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s content: %w", kind, err)
		}
		env.Content = raw
	}
	if turnID >= 0 {
		id := turnID
		env.TurnID = &id
	}
	return json.Marshal(env)
}

// DecodeSelection parses an outbound selection frame, as the storyteller receives it.
func DecodeSelection(data []byte) (Selection, error) {
	var sel Selection
	if err := json.Unmarshal(data, &sel); err != nil {
		return Selection{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := sel.Validate(); err != nil {
		return Selection{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return sel, nil
}
