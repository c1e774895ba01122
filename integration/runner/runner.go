package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/story-console/internal/storyteller"
)

// Runner plays test suites end to end: storyteller, websocket transport and
// turn coordinator, with only the terminal left out.
type Runner struct {
	// ServerURL targets a running storyteller. When empty every suite gets an
	// in-process one configured from the suite.
	ServerURL      string
	Timeout        time.Duration
	TypingInterval time.Duration
	Logger         *slog.Logger
}

// NewRunner creates a new test runner
func NewRunner(serverURL string) *Runner {
	return &Runner{
		ServerURL:      strings.TrimSuffix(serverURL, "/"),
		Timeout:        30 * time.Second,
		TypingInterval: DefaultTypingInterval,
		Logger:         slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}
	if suite.Turns < 1 {
		return TestSuite{}, fmt.Errorf("test file %s: turns must be positive", filename)
	}

	return suite, nil
}

// RunSuite plays one suite and checks its expectations.
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) TestResult {
	start := time.Now()
	result := TestResult{Name: suite.Name}

	serverURL := r.ServerURL
	if serverURL == "" {
		server := storyteller.NewServer(storyteller.DefaultStory(), storyteller.Options{
			Turns:      suite.Turns,
			Shuffle:    suite.Shuffle,
			FailImages: suite.FailImages,
			Seed:       1,
			ImageSize:  8,
		}, r.Logger)
		srv := httptest.NewServer(server.Routes())
		defer srv.Close()
		serverURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	player := &Player{
		ServerURL:      serverURL,
		SessionID:      uuid.NewString(),
		TypingInterval: r.TypingInterval,
		Picks:          suite.Picks,
		Logger:         r.Logger.With("suite", suite.Name),
	}
	transcript, err := player.Play(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		return result
	}

	result.Transcript = transcript
	result.Failures = Check(suite.Expect, transcript)
	result.Success = len(result.Failures) == 0
	return result
}

// Check compares a transcript with the expectations and describes every mismatch.
func Check(exp Expectations, t *Transcript) []string {
	var failures []string

	if exp.Turns != nil && len(t.Turns) != *exp.Turns {
		failures = append(failures, fmt.Sprintf("expected %d turns, got %d", *exp.Turns, len(t.Turns)))
	}

	if exp.Ended != nil {
		ended := len(t.Turns) > 0 && t.Turns[len(t.Turns)-1].Ended
		if ended != *exp.Ended {
			failures = append(failures, fmt.Sprintf("expected ended=%v, got %v", *exp.Ended, ended))
		}
	}

	var narration strings.Builder
	for _, turn := range t.Turns {
		narration.WriteString(turn.Narration)
		if turn.Cursor {
			failures = append(failures, fmt.Sprintf("turn %d still shows the typing cursor", turn.ID))
		}
	}
	for _, want := range exp.NarrationContains {
		if !strings.Contains(narration.String(), want) {
			failures = append(failures, fmt.Sprintf("narration does not contain %q", want))
		}
	}

	if exp.ImageErrors != nil {
		count := 0
		for _, turn := range t.Turns {
			if turn.ImageError != "" {
				count++
			}
		}
		if count != *exp.ImageErrors {
			failures = append(failures, fmt.Sprintf("expected %d image errors, got %d", *exp.ImageErrors, count))
		}
	}

	if exp.ObjectivesDone != nil {
		done := 0
		for _, o := range t.Objectives {
			if o.Done() {
				done++
			}
		}
		if done != *exp.ObjectivesDone {
			failures = append(failures, fmt.Sprintf("expected %d finished objectives, got %d", *exp.ObjectivesDone, done))
		}
	}

	if exp.AllChoicesLocked && len(t.Turns) > 0 {
		for _, turn := range t.Turns[:len(t.Turns)-1] {
			if turn.Locked < 0 {
				failures = append(failures, fmt.Sprintf("turn %d was never answered", turn.ID))
			}
		}
	}

	for i, sel := range t.Selections {
		if sel.TurnID != i+1 {
			failures = append(failures, fmt.Sprintf("selection %d sent for turn %d", i, sel.TurnID))
		}
	}

	return failures
}
