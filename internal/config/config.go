// Package config provides centralized configuration management for the
// pipeline. It loads configuration from environment variables (optionally
// seeded from a YAML file) with sensible defaults and validates all
// settings on startup to fail fast on misconfiguration.
//
// The loaded Config is immutable by convention: it is constructed once in
// main and passed explicitly into every component; nothing reads ambient
// process state after startup.
package config

import (
	"path/filepath"
	"time"
)

// Config holds all pipeline configuration.
// All settings can be configured via environment variables.
type Config struct {
	Pipeline PipelineConfig
	Channel  ChannelConfig
	Resource ResourceConfig
	Logging  LoggingConfig
}

// PipelineConfig holds the core run settings.
type PipelineConfig struct {
	// BusinessTag names the staging/ledger table family (default: VAT_INV)
	BusinessTag string `env:"VAT_BUSINESS_TAG" default:"VAT_INV"`

	// BaseDir anchors the default directory layout (default: .)
	BaseDir string `env:"VAT_BASE_DIR" default:"."`

	// InputDir is the spreadsheet source tree (default: <base>/Source_Data)
	InputDir string `env:"VAT_INPUT_DIR"`

	// DatabaseDir holds the SQLite database file (default: <base>/Database)
	DatabaseDir string `env:"VAT_DATABASE_DIR"`

	// OutputDir receives manifests, summaries, and error logs (default: <base>/Outputs)
	OutputDir string `env:"VAT_OUTPUT_DIR"`

	// WorkerCount overrides the worker pool size; 0 means auto (cpu-1)
	WorkerCount int `env:"VAT_WORKER_COUNT" default:"0"`

	// StreamChunkSize is rows per chunk in streaming reads (default: 50000)
	StreamChunkSize int `env:"VAT_STREAM_CHUNK_SIZE" default:"50000"`

	// BatchSize is rows per staging insert batch (default: 10000)
	BatchSize int `env:"VAT_BATCH_SIZE" default:"10000"`

	// MaxFailureSamples caps recorded cast failures per column (default: 100)
	MaxFailureSamples int `env:"VAT_MAX_FAILURE_SAMPLES" default:"100"`

	// TaxTextToZero maps tax-exemption text to a zero rate (default: true)
	TaxTextToZero bool `env:"VAT_TAX_TEXT_TO_ZERO" default:"true"`

	// MaxFileMB skips source files larger than this (default: 500)
	MaxFileMB int64 `env:"VAT_MAX_FILE_MB" default:"500"`

	// TempRetention is how long stale spill directories survive before
	// cleanup (default: 24h)
	TempRetention time.Duration `env:"VAT_TEMP_RETENTION" default:"24h"`
}

// ChannelConfig holds the worker-to-merge channel settings.
type ChannelConfig struct {
	// Enabled routes batches through the in-memory channel; when false
	// every batch spills to disk (default: true)
	Enabled bool `env:"VAT_CHANNEL_ENABLED" default:"true"`

	// Capacity is the bounded channel size in batches (default: 32)
	Capacity int `env:"VAT_CHANNEL_CAPACITY" default:"32"`

	// SpillTimeout is how long a worker blocks on a full channel before
	// spilling the batch to disk (default: 5s)
	SpillTimeout time.Duration `env:"VAT_SPILL_TIMEOUT" default:"5s"`
}

// ResourceConfig holds streaming and throttling thresholds.
type ResourceConfig struct {
	// LargeFileStreamingMB forces streaming for files over this size (default: 100)
	LargeFileStreamingMB int64 `env:"VAT_LARGE_FILE_STREAMING_MB" default:"100"`

	// StreamSwitchPercent forces streaming at this system memory usage (default: 75)
	StreamSwitchPercent float64 `env:"VAT_STREAM_SWITCH_PERCENT" default:"75"`

	// MemoryLoadFactor is the share of available memory a full load may
	// use (default: 0.4)
	MemoryLoadFactor float64 `env:"VAT_MEMORY_LOAD_FACTOR" default:"0.4"`

	// IOBusyThresholdPercent throttles workers above this disk busy
	// percentage (default: 75)
	IOBusyThresholdPercent float64 `env:"VAT_IO_BUSY_THRESHOLD_PERCENT" default:"75"`

	// IOReduceFactor scales the worker count when throttling (default: 0.5)
	IOReduceFactor float64 `env:"VAT_IO_REDUCE_FACTOR" default:"0.5"`

	// IOMinWorkers floors the throttled worker count (default: 1)
	IOMinWorkers int `env:"VAT_IO_MIN_WORKERS" default:"1"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"VAT_LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"VAT_LOG_FORMAT" default:"text"`

	// File is an optional log file inside the output directory
	// (default: vat_audit.log; empty disables file logging)
	File string `env:"VAT_LOG_FILE" default:"vat_audit.log"`
}

// ResolvePaths fills the derived directory defaults from BaseDir.
// Called by Load after environment loading.
func (c *Config) ResolvePaths() {
	if c.Pipeline.InputDir == "" {
		c.Pipeline.InputDir = filepath.Join(c.Pipeline.BaseDir, "Source_Data")
	}
	if c.Pipeline.DatabaseDir == "" {
		c.Pipeline.DatabaseDir = filepath.Join(c.Pipeline.BaseDir, "Database")
	}
	if c.Pipeline.OutputDir == "" {
		c.Pipeline.OutputDir = filepath.Join(c.Pipeline.BaseDir, "Outputs")
	}
}

// DatabasePath returns the SQLite file path for the configured tag.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Pipeline.DatabaseDir, c.Pipeline.BusinessTag+"_Audit_Repo.db")
}

// TempDir returns the spill directory root inside the output directory.
func (c *Config) TempDir() string {
	return filepath.Join(c.Pipeline.OutputDir, "tmp_imports")
}
