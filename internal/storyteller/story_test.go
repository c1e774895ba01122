package storyteller

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/jwebster45206/story-console/pkg/narration"
	"github.com/jwebster45206/story-console/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decodeAll(t *testing.T, frames []Frame) []protocol.Message {
	t.Helper()
	msgs := make([]protocol.Message, 0, len(frames))
	for _, f := range frames {
		msg, err := protocol.Decode(f.Data)
		require.NoError(t, err, "frame %s", f.Data)
		msgs = append(msgs, msg)
	}
	return msgs
}

func kinds(msgs []protocol.Message) []protocol.Kind {
	out := make([]protocol.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func TestSession_StartStreamsIntro(t *testing.T) {
	story := DefaultStory()
	s := NewSession(story, Options{Turns: 2, Seed: 1}, testLogger())

	frames, err := s.Start()
	require.NoError(t, err)
	msgs := decodeAll(t, frames)

	n := len(msgs)
	require.Greater(t, n, 2)
	assert.Equal(t, protocol.KindImage, msgs[n-2].Kind)
	assert.Equal(t, protocol.KindChoices, msgs[n-1].Kind)
	assert.Equal(t, story.IntroChoices, msgs[n-1].Choices)
	assert.Equal(t, 0, msgs[n-1].TurnID)

	var streamed strings.Builder
	extractor := narration.NewExtractor("")
	for _, m := range msgs[:n-2] {
		require.Equal(t, protocol.KindText, m.Kind)
		assert.False(t, m.HasTurnID)
		extractor.Feed(m.Text, func(r rune) { streamed.WriteRune(r) })
	}
	assert.Equal(t, story.Intro, streamed.String())

	final, ok := extractor.FinalNarration()
	require.True(t, ok)
	assert.Equal(t, story.Intro, final)
}

func TestSession_RespondProducesTurn(t *testing.T) {
	s := NewSession(DefaultStory(), Options{Turns: 3, Seed: 1}, testLogger())
	_, err := s.Start()
	require.NoError(t, err)

	frames, err := s.Respond(protocol.Selection{Choice: "Ferris Wheel", TurnID: 1})
	require.NoError(t, err)
	msgs := decodeAll(t, frames)

	assert.Equal(t, []protocol.Kind{protocol.KindObjectives, protocol.KindNarrationBlock, protocol.KindImage, protocol.KindChoices}, kinds(msgs))
	for _, m := range msgs {
		assert.Equal(t, 1, m.TurnID)
	}
	assert.Contains(t, msgs[1].Text, "ferris wheel")
	assert.Equal(t, 1, s.Turn())
}

func TestSession_RejectsOutOfOrderSelections(t *testing.T) {
	s := NewSession(DefaultStory(), Options{Turns: 3}, testLogger())
	_, err := s.Respond(protocol.Selection{Choice: "x", TurnID: 2})
	assert.ErrorIs(t, err, ErrUnexpectedTurn)
}

func TestSession_EndsAfterConfiguredTurns(t *testing.T) {
	s := NewSession(DefaultStory(), Options{Turns: 2, Seed: 1}, testLogger())
	_, err := s.Respond(protocol.Selection{Choice: "a", TurnID: 1})
	require.NoError(t, err)

	frames, err := s.Respond(protocol.Selection{Choice: "Hide", TurnID: 2})
	require.NoError(t, err)
	msgs := decodeAll(t, frames)
	assert.Equal(t, []protocol.Kind{protocol.KindObjectives, protocol.KindNarrationBlock, protocol.KindGameEnd}, kinds(msgs))
	assert.True(t, s.Ended())

	_, err = s.Respond(protocol.Selection{Choice: "more", TurnID: 3})
	assert.ErrorIs(t, err, ErrStoryOver)
}

func TestSession_ObjectiveProgress(t *testing.T) {
	s := NewSession(DefaultStory(), Options{Turns: 10, Seed: 1}, testLogger())
	objectives := s.Objectives()
	require.Len(t, objectives, 3)
	assert.Equal(t, "0/2", objectives[2].Progress())

	_, err := s.Respond(protocol.Selection{Choice: "a", TurnID: 1})
	require.NoError(t, err)
	assert.Equal(t, "1/2", s.Objectives()[2].Progress())
	assert.True(t, s.Objectives()[2].PartiallyComplete)

	_, err = s.Respond(protocol.Selection{Choice: "a", TurnID: 2})
	require.NoError(t, err)
	assert.True(t, s.Objectives()[2].Done())
	assert.False(t, s.Objectives()[2].PartiallyComplete)

	_, err = s.Respond(protocol.Selection{Choice: "a", TurnID: 3})
	require.NoError(t, err)
	assert.True(t, s.Objectives()[0].Done())
	assert.False(t, s.Objectives()[1].Done())
}

func TestSession_ShuffleKeepsEveryMessage(t *testing.T) {
	s := NewSession(DefaultStory(), Options{Turns: 5, Shuffle: true, Seed: 42}, testLogger())
	frames, err := s.Respond(protocol.Selection{Choice: "a", TurnID: 1})
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]protocol.Kind{protocol.KindObjectives, protocol.KindNarrationBlock, protocol.KindImage, protocol.KindChoices},
		kinds(decodeAll(t, frames)))
}

func TestSession_FailedImagesUseImageErrorPrefix(t *testing.T) {
	s := NewSession(DefaultStory(), Options{Turns: 5, FailImages: true, Seed: 1}, testLogger())
	for turn := 1; turn <= 3; turn++ {
		frames, err := s.Respond(protocol.Selection{Choice: "a", TurnID: turn})
		require.NoError(t, err)
		msgs := decodeAll(t, frames)
		if turn < 3 {
			assert.Contains(t, kinds(msgs), protocol.KindImage)
			continue
		}
		assert.NotContains(t, kinds(msgs), protocol.KindImage)
		for _, m := range msgs {
			if m.Kind == protocol.KindError {
				assert.True(t, protocol.IsImageError(m.Text))
			}
		}
	}
}

func TestGradientPNG(t *testing.T) {
	a, err := GradientPNG(1, 16, 8)
	require.NoError(t, err)
	b, err := GradientPNG(2, 16, 8)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	img, err := png.Decode(bytes.NewReader(a))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	_, err = GradientPNG(0, 0, 8)
	assert.Error(t, err)
}

func TestSession_ImagePayloadIsBase64PNG(t *testing.T) {
	s := NewSession(DefaultStory(), Options{Turns: 2, ImageSize: 4, Seed: 1}, testLogger())
	frames, err := s.Respond(protocol.Selection{Choice: "a", TurnID: 1})
	require.NoError(t, err)
	for _, m := range decodeAll(t, frames) {
		if m.Kind != protocol.KindImage {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(m.Text)
		require.NoError(t, err)
		_, err = png.Decode(bytes.NewReader(data))
		assert.NoError(t, err)
	}
}
