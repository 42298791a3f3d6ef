package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from environment variables.
// When VAT_CONFIG_FILE names a YAML file, its values seed any variable not
// already set in the environment, so precedence is env > file > default.
// It validates the result and resolves derived directory paths.
func Load() (*Config, error) {
	if path := os.Getenv("VAT_CONFIG_FILE"); path != "" {
		if err := applyFile(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}

	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	cfg.ResolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// applyFile reads a flat YAML map of environment variable names and sets
// each entry that is not already present in the environment.
func applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	for key, value := range values {
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return err
			}
		}
	}

	return nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Pipeline validation
	if !tagPattern.MatchString(c.Pipeline.BusinessTag) {
		errs = append(errs, fmt.Sprintf("VAT_BUSINESS_TAG (%q) must contain only letters, digits, and underscores", c.Pipeline.BusinessTag))
	}
	if c.Pipeline.WorkerCount < 0 {
		errs = append(errs, "VAT_WORKER_COUNT must be non-negative (0 = auto)")
	}
	if c.Pipeline.StreamChunkSize <= 0 {
		errs = append(errs, "VAT_STREAM_CHUNK_SIZE must be positive")
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, "VAT_BATCH_SIZE must be positive")
	}
	if c.Pipeline.MaxFailureSamples < 0 {
		errs = append(errs, "VAT_MAX_FAILURE_SAMPLES must be non-negative")
	}
	if c.Pipeline.MaxFileMB <= 0 {
		errs = append(errs, "VAT_MAX_FILE_MB must be positive")
	}
	if c.Pipeline.TempRetention <= 0 {
		errs = append(errs, "VAT_TEMP_RETENTION must be positive")
	}

	// Channel validation
	if c.Channel.Enabled && c.Channel.Capacity <= 0 {
		errs = append(errs, "VAT_CHANNEL_CAPACITY must be positive when the channel is enabled")
	}
	if c.Channel.SpillTimeout <= 0 {
		errs = append(errs, "VAT_SPILL_TIMEOUT must be positive")
	}

	// Resource validation
	if c.Resource.LargeFileStreamingMB <= 0 {
		errs = append(errs, "VAT_LARGE_FILE_STREAMING_MB must be positive")
	}
	if c.Resource.StreamSwitchPercent <= 0 || c.Resource.StreamSwitchPercent > 100 {
		errs = append(errs, fmt.Sprintf("VAT_STREAM_SWITCH_PERCENT (%v) must be in (0, 100]", c.Resource.StreamSwitchPercent))
	}
	if c.Resource.MemoryLoadFactor <= 0 || c.Resource.MemoryLoadFactor > 1 {
		errs = append(errs, fmt.Sprintf("VAT_MEMORY_LOAD_FACTOR (%v) must be in (0, 1]", c.Resource.MemoryLoadFactor))
	}
	if c.Resource.IOBusyThresholdPercent <= 0 || c.Resource.IOBusyThresholdPercent > 100 {
		errs = append(errs, fmt.Sprintf("VAT_IO_BUSY_THRESHOLD_PERCENT (%v) must be in (0, 100]", c.Resource.IOBusyThresholdPercent))
	}
	if c.Resource.IOReduceFactor <= 0 || c.Resource.IOReduceFactor > 1 {
		errs = append(errs, fmt.Sprintf("VAT_IO_REDUCE_FACTOR (%v) must be in (0, 1]", c.Resource.IOReduceFactor))
	}
	if c.Resource.IOMinWorkers <= 0 {
		errs = append(errs, "VAT_IO_MIN_WORKERS must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("VAT_LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("VAT_LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a string representation of the config for logging.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Pipeline: {BusinessTag: %q, InputDir: %q, Workers: %d, BatchSize: %d}, ",
		c.Pipeline.BusinessTag, c.Pipeline.InputDir, c.Pipeline.WorkerCount, c.Pipeline.BatchSize))
	b.WriteString(fmt.Sprintf("Channel: {Enabled: %v, Capacity: %d}, ",
		c.Channel.Enabled, c.Channel.Capacity))
	b.WriteString(fmt.Sprintf("Resource: {LargeFileStreamingMB: %d, StreamSwitchPercent: %v}, ",
		c.Resource.LargeFileStreamingMB, c.Resource.StreamSwitchPercent))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
