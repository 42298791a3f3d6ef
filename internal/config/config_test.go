package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Pipeline.BusinessTag != "VAT_INV" {
		t.Errorf("BusinessTag = %q, want VAT_INV", cfg.Pipeline.BusinessTag)
	}
	if cfg.Pipeline.WorkerCount != 0 {
		t.Errorf("WorkerCount = %d, want 0 (auto)", cfg.Pipeline.WorkerCount)
	}
	if cfg.Pipeline.StreamChunkSize != 50000 {
		t.Errorf("StreamChunkSize = %d, want 50000", cfg.Pipeline.StreamChunkSize)
	}
	if cfg.Pipeline.BatchSize != 10000 {
		t.Errorf("BatchSize = %d, want 10000", cfg.Pipeline.BatchSize)
	}
	if !cfg.Pipeline.TaxTextToZero {
		t.Error("TaxTextToZero = false, want true")
	}
	if cfg.Pipeline.MaxFileMB != 500 {
		t.Errorf("MaxFileMB = %d, want 500", cfg.Pipeline.MaxFileMB)
	}
	if cfg.Pipeline.TempRetention != 24*time.Hour {
		t.Errorf("TempRetention = %v, want 24h", cfg.Pipeline.TempRetention)
	}
	if !cfg.Channel.Enabled {
		t.Error("Channel.Enabled = false, want true")
	}
	if cfg.Channel.SpillTimeout != 5*time.Second {
		t.Errorf("SpillTimeout = %v, want 5s", cfg.Channel.SpillTimeout)
	}
	if cfg.Resource.StreamSwitchPercent != 75 {
		t.Errorf("StreamSwitchPercent = %v, want 75", cfg.Resource.StreamSwitchPercent)
	}
	if cfg.Resource.MemoryLoadFactor != 0.4 {
		t.Errorf("MemoryLoadFactor = %v, want 0.4", cfg.Resource.MemoryLoadFactor)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	os.Setenv("VAT_BUSINESS_TAG", "SALES_INV")
	os.Setenv("VAT_WORKER_COUNT", "6")
	os.Setenv("VAT_MEMORY_LOAD_FACTOR", "0.25")
	os.Setenv("VAT_TAX_TEXT_TO_ZERO", "false")
	defer os.Unsetenv("VAT_BUSINESS_TAG")
	defer os.Unsetenv("VAT_WORKER_COUNT")
	defer os.Unsetenv("VAT_MEMORY_LOAD_FACTOR")
	defer os.Unsetenv("VAT_TAX_TEXT_TO_ZERO")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Pipeline.BusinessTag != "SALES_INV" {
		t.Errorf("BusinessTag = %q, want SALES_INV", cfg.Pipeline.BusinessTag)
	}
	if cfg.Pipeline.WorkerCount != 6 {
		t.Errorf("WorkerCount = %d, want 6", cfg.Pipeline.WorkerCount)
	}
	if cfg.Resource.MemoryLoadFactor != 0.25 {
		t.Errorf("MemoryLoadFactor = %v, want 0.25", cfg.Resource.MemoryLoadFactor)
	}
	if cfg.Pipeline.TaxTextToZero {
		t.Error("TaxTextToZero = true, want false")
	}
}

func TestLoad_ResolvesPaths(t *testing.T) {
	os.Setenv("VAT_BASE_DIR", "/data/audit")
	defer os.Unsetenv("VAT_BASE_DIR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if got, want := cfg.Pipeline.InputDir, filepath.Join("/data/audit", "Source_Data"); got != want {
		t.Errorf("InputDir = %q, want %q", got, want)
	}
	if got, want := cfg.Pipeline.DatabaseDir, filepath.Join("/data/audit", "Database"); got != want {
		t.Errorf("DatabaseDir = %q, want %q", got, want)
	}
	if got, want := cfg.Pipeline.OutputDir, filepath.Join("/data/audit", "Outputs"); got != want {
		t.Errorf("OutputDir = %q, want %q", got, want)
	}
	if got, want := cfg.DatabasePath(), filepath.Join("/data/audit", "Database", "VAT_INV_Audit_Repo.db"); got != want {
		t.Errorf("DatabasePath() = %q, want %q", got, want)
	}
	if got, want := cfg.TempDir(), filepath.Join("/data/audit", "Outputs", "tmp_imports"); got != want {
		t.Errorf("TempDir() = %q, want %q", got, want)
	}
}

func TestLoad_ExplicitDirsWin(t *testing.T) {
	os.Setenv("VAT_BASE_DIR", "/data/audit")
	os.Setenv("VAT_INPUT_DIR", "/mnt/incoming")
	defer os.Unsetenv("VAT_BASE_DIR")
	defer os.Unsetenv("VAT_INPUT_DIR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Pipeline.InputDir != "/mnt/incoming" {
		t.Errorf("InputDir = %q, want /mnt/incoming", cfg.Pipeline.InputDir)
	}
	if got, want := cfg.Pipeline.DatabaseDir, filepath.Join("/data/audit", "Database"); got != want {
		t.Errorf("DatabaseDir = %q, want %q", got, want)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	yaml := "VAT_BUSINESS_TAG: FILE_TAG\nVAT_BATCH_SIZE: \"2500\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	os.Setenv("VAT_CONFIG_FILE", path)
	os.Setenv("VAT_BUSINESS_TAG", "ENV_TAG")
	defer os.Unsetenv("VAT_CONFIG_FILE")
	defer os.Unsetenv("VAT_BUSINESS_TAG")
	defer os.Unsetenv("VAT_BATCH_SIZE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Environment wins over the file
	if cfg.Pipeline.BusinessTag != "ENV_TAG" {
		t.Errorf("BusinessTag = %q, want ENV_TAG", cfg.Pipeline.BusinessTag)
	}
	// File wins over the default
	if cfg.Pipeline.BatchSize != 2500 {
		t.Errorf("BatchSize = %d, want 2500", cfg.Pipeline.BatchSize)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"bad tag", "VAT_BUSINESS_TAG", "VAT-INV", "VAT_BUSINESS_TAG"},
		{"negative workers", "VAT_WORKER_COUNT", "-2", "VAT_WORKER_COUNT"},
		{"zero chunk", "VAT_STREAM_CHUNK_SIZE", "0", "VAT_STREAM_CHUNK_SIZE"},
		{"percent out of range", "VAT_STREAM_SWITCH_PERCENT", "150", "VAT_STREAM_SWITCH_PERCENT"},
		{"load factor out of range", "VAT_MEMORY_LOAD_FACTOR", "1.5", "VAT_MEMORY_LOAD_FACTOR"},
		{"bad level", "VAT_LOG_LEVEL", "verbose", "VAT_LOG_LEVEL"},
		{"bad format", "VAT_LOG_FORMAT", "xml", "VAT_LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv(tt.key, tt.value)
			defer os.Unsetenv(tt.key)

			_, err := Load()
			if err == nil {
				t.Fatal("Load() succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err.Error(), tt.want)
			}
		})
	}
}

func TestLoad_Duration(t *testing.T) {
	os.Setenv("VAT_SPILL_TIMEOUT", "750ms")
	os.Setenv("VAT_TEMP_RETENTION", "12h")
	defer os.Unsetenv("VAT_SPILL_TIMEOUT")
	defer os.Unsetenv("VAT_TEMP_RETENTION")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Channel.SpillTimeout != 750*time.Millisecond {
		t.Errorf("SpillTimeout = %v, want 750ms", cfg.Channel.SpillTimeout)
	}
	if cfg.Pipeline.TempRetention != 12*time.Hour {
		t.Errorf("TempRetention = %v, want 12h", cfg.Pipeline.TempRetention)
	}
}
