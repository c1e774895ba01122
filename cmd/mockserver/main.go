package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/story-console/internal/config"
	"github.com/jwebster45206/story-console/internal/logger"
	"github.com/jwebster45206/story-console/internal/storyteller"
	"github.com/jwebster45206/story-console/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg, os.Stdout)

	log.Info("Starting mock storyteller",
		"port", cfg.MockPort,
		"environment", cfg.Environment,
		"transport", cfg.Transport,
		"turns", cfg.MockTurns)

	opts := storyteller.Options{
		Turns:      cfg.MockTurns,
		CharDelay:  cfg.TypingInterval / 5,
		FrameDelay: 150 * time.Millisecond,
		Shuffle:    true,
		FailImages: true,
	}
	story := storyteller.DefaultStory()
	server := storyteller.NewServer(story, opts, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Transport == config.TransportRedis {
		rdb, err := transport.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Error("Failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()

		bridge := storyteller.NewBridge(rdb, cfg.SessionID, story, opts, log)
		server.Health().Check("redis", bridge)
		go func() {
			log.Info("Redis bridge waiting for player", "session_id", cfg.SessionID)
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Redis bridge stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:        ":" + cfg.MockPort,
		Handler:     server.Routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		// websocket sessions end when ctx is cancelled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info("Server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown does not wait for hijacked websocket connections
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	server.Wait()

	log.Info("Server exited")
}
