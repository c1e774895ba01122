package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jwebster45206/story-console/internal/config"
	"github.com/jwebster45206/story-console/internal/logger"
	"github.com/jwebster45206/story-console/pkg/narration"
	"github.com/jwebster45206/story-console/pkg/sched"
	"github.com/jwebster45206/story-console/pkg/textfilter"
	"github.com/jwebster45206/story-console/pkg/turn"
)

const debugRingSize = 200

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logFile, err := logger.OpenFile(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logFile.Close() // Ignore error in defer
	}()

	ring := logger.NewRing(debugRingSize, cfg.LogLevel)
	log := logger.WithSession(logger.Setup(cfg, logFile, ring.Handler()), cfg.SessionID)

	log.Info("Starting story console",
		"environment", cfg.Environment,
		"transport", cfg.Transport,
		"server_url", cfg.ServerURL,
		"content_rating", cfg.ContentRating)

	if cfg.Transport == config.TransportWebSocket {
		client := &http.Client{Timeout: 5 * time.Second}
		if !testConnection(client, cfg.ServerURL) {
			// not fatal; the transport keeps redialling
			log.Warn("Storyteller health check failed", "url", healthURL(cfg.ServerURL))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var program *tea.Program
	send := func(msg tea.Msg) { program.Send(msg) }

	link, cleanup, err := newTransport(ctx, cfg, newListener(send), log)
	if err != nil {
		log.Error("Failed to create transport", "error", err)
		fmt.Fprintf(os.Stderr, "Could not connect to storyteller: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	transforms := narrationTransforms(cfg.ContentRating)
	poster := &programPoster{}
	animator := narration.NewAnimator(sched.Timers{Poster: poster}, cfg.TypingInterval, narration.NewFormatter(transforms...), log)
	extractor := narration.NewExtractor(cfg.NarrationMarker)
	surface := newTerminalSurface()
	objectives := &objectivesPanel{}
	coord := turn.NewCoordinator(surface, animator, extractor, link, objectives, log)

	program = tea.NewProgram(NewConsoleUI(ctx, cfg, coord, surface, objectives, ring, log),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	poster.send = send

	done := make(chan error, 1)
	go func() {
		done <- link.Run(ctx)
	}()

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Transport stopped", "error", err)
	}
	log.Info("Story console exited")
}

// narrationTransforms returns the text rewrites applied before narration is
// formatted for the given content rating.
func narrationTransforms(rating string) []func(string) string {
	filter := textfilter.ForRating(rating)
	if filter == nil {
		return nil
	}
	return []func(string) string{func(text string) string {
		if !filter.Contains(text) {
			return text
		}
		return filter.Apply(text)
	}}
}
