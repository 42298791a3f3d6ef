package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kehuitang/vataudit/internal/config"
	"github.com/kehuitang/vataudit/internal/logging"
	"github.com/kehuitang/vataudit/internal/pipeline"
	"github.com/kehuitang/vataudit/internal/resource"
	"github.com/kehuitang/vataudit/internal/store"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging, mirrored to the run log file
	logPath := ""
	if cfg.Logging.File != "" {
		logPath = filepath.Join(cfg.Pipeline.OutputDir, cfg.Logging.File)
	}
	logFile, err := logging.SetupWithFile(cfg.Logging.Level, cfg.Logging.Format, logPath)
	if err != nil {
		slog.Warn("log file unavailable, logging to console only", "error", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	slog.Info("configuration loaded",
		"business_tag", cfg.Pipeline.BusinessTag,
		"input_dir", cfg.Pipeline.InputDir,
		"database", cfg.DatabasePath(),
		"workers", cfg.Pipeline.WorkerCount,
	)

	// Open (creating if needed) the audit database
	if err := os.MkdirAll(cfg.Pipeline.DatabaseDir, 0o755); err != nil {
		slog.Error("failed to create database directory", "error", err)
		os.Exit(1)
	}
	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	monitor := resource.NewMonitor(resource.SystemSampler{}, thresholds(cfg))

	// Cancel the run on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.New(cfg, db, monitor, slog.Default()).Run(ctx)
	if err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}

	slog.Info("import finished",
		"files_imported", result.Summary.FilesImported,
		"rows_staged", result.Summary.RowsStaged+result.Summary.RowsSpilled,
		"partitions", len(result.Partitions),
		"data_errors", len(result.Errors),
	)
}

// thresholds maps the configured resource settings onto the monitor's
// tunables, keeping the operational defaults for the rest.
func thresholds(cfg *config.Config) resource.Thresholds {
	t := resource.DefaultThresholds()
	t.LargeFileStreamingBytes = cfg.Resource.LargeFileStreamingMB << 20
	t.StreamSwitchPercent = cfg.Resource.StreamSwitchPercent
	t.MemoryLoadFactor = cfg.Resource.MemoryLoadFactor
	t.IOBusyThresholdPercent = cfg.Resource.IOBusyThresholdPercent
	t.IOReduceFactor = cfg.Resource.IOReduceFactor
	t.IOMinWorkers = cfg.Resource.IOMinWorkers
	return t
}
