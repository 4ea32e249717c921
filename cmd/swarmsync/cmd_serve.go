package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/swarmsync/internal/logger"
	"github.com/marmos91/swarmsync/pkg/config"
	"github.com/marmos91/swarmsync/pkg/orchestrator"
	"github.com/marmos91/swarmsync/pkg/share"
)

// serveCmd runs the synchronization daemon
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the synchronization daemon",
	Long: `Run the synchronization daemon.

The daemon loads all persisted shares, rejoins their swarms, watches
write-capable shares for local edits and keeps everything synchronized
until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("swarmsync - folder synchronization daemon")

	store, err := config.CreateShareStore(ctx, &cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create share store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close share store: %v", err)
		}
	}()

	eng, err := config.CreateEngine(&cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Engine:              eng,
		Store:               store,
		Debounce:            cfg.Sync.Debounce,
		StopTimeout:         cfg.Sync.StopTimeout,
		DisableDefaultRules: cfg.Sync.DisableDefaultRules,
	})
	if err != nil {
		return err
	}

	if err := orch.LoadPersisted(ctx); err != nil {
		return err
	}
	logger.Info("serving %d share(s)", len(orch.List()))

	// Change notifications surface in the daemon log
	go func() {
		for ch := range orch.Changes() {
			switch ch.Type {
			case share.FilesUpdated:
				logger.Info("share %s: local changes published", ch.ID)
			case share.FilesDownloaded:
				logger.Debug("share %s: file downloaded", ch.ID)
			case share.SyncCompleted:
				logger.Info("share %s: synchronization complete", ch.ID)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("daemon is running. Press Ctrl+C to stop.")
	<-sigChan

	logger.Info("shutdown signal received, stopping shares...")
	cancel()
	if err := orch.Close(context.Background()); err != nil {
		logger.Error("shutdown error: %v", err)
		return err
	}
	logger.Info("daemon stopped gracefully")
	return nil
}

// setupLogging applies the logging configuration, honoring a --log-level
// override from the command line.
func setupLogging(cfg *config.Config) {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger.SetLevel(level)
	logger.SetFormat(cfg.Logging.Format)

	switch cfg.Logging.Output {
	case "", "stdout":
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Logging.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.Warn("failed to open log file %s, using stdout: %v", cfg.Logging.Output, err)
			return
		}
		logger.SetOutput(f)
	}
}
