package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"

	"seance/access"
	"seance/httpapi"
	"seance/internal"
	"seance/moderation"
	"seance/observability"
	"seance/repositories"
	"seance/runtime"
	"seance/runtime/workers"
	"seance/sink"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Engine terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes
// error reporting. Keeping the logic out of main ensures every defer (database
// locks, index flush) executes before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}

	logger := internal.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Storage (BadgerDB + Bluge)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		// Defer ensures the database lock is released and buffers are flushed before the function returns.
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeCfg := bluge.DefaultConfig(config.BlugeFilepath)
	blugeWriter, err := bluge.OpenWriter(blugeCfg)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	// 3. Moderation
	blockedWords, err := moderation.LoadBlockedWords()
	if err != nil {
		return exitConfig, fmt.Errorf("load blocked words: %w", err)
	}
	moderator, err := moderation.NewModerator(blockedWords, '*')
	if err != nil {
		return exitConfig, fmt.Errorf("build moderator: %w", err)
	}

	// 4. Engine wiring
	gauges := observability.NewGauges()
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	registry := runtime.NewRegistry()
	cursors := runtime.NewCursorTable(config.CursorRatePerSecond, config.CursorRateBurst, gauges)
	sessionIndex := repositories.NewSessionIndex(blugeWriter, logger)
	snapshotRepository := repositories.NewSnapshotRepository(db, logger)
	tokens := access.NewTokenService(
		[]byte(config.IdentitySecret), []byte(config.MediaSecret), config.MediaTokenTTL)

	coordinator := runtime.NewCoordinator(logger, sup, registry, cursors, sessionIndex,
		&moderator, gauges, runtime.Options{
			MailboxSize:         config.MailboxSize,
			EventBufferSize:     config.BufferSize,
			RoomCodeLength:      config.RoomCodeLength,
			SinkTimeout:         config.SinkTimeout,
			PresenceInterval:    config.PresenceInterval,
			PresenceTimeout:     config.PresenceTimeout,
			CursorSweepInterval: config.CursorSweepInterval,
			CursorTTL:           config.CursorTTL,
			HealthInterval:      config.HealthInterval,
		})
	coordinator.Add(sink.NewDiskSink(snapshotRepository, logger))

	// 5. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)

	logger.Info("Starting session engine...")
	if err := coordinator.Start(ctx); err != nil {
		return exitRuntime, fmt.Errorf("engine start failed: %w", err)
	}

	// 6. HTTP server
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	api := httpapi.NewServer(logger, coordinator, tokens, registry, gauges, config.StreamBufferSize)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 8. Final Cleanup (Graceful Shutdown)
	// Active streams get a grace period to flush before the engine stops.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	coordinator.Stop()
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
