package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"gopac/domain/run"
	"gopac/internal/errors"
	"gopac/internal/residue"
)

// Config represents the complete application configuration
type Config struct {
	Run        RunConfig        `yaml:"run"`
	Engine     EngineConfig     `yaml:"engine"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Server     ServerConfig     `yaml:"server"`
	LogLevel   string           `yaml:"log_level"`
}

// RunConfig holds the parameters that determine results
type RunConfig struct {
	Pairs       uint64   `yaml:"pairs"`
	Offset      uint64   `yaml:"offset"`
	Moduli      []uint64 `yaml:"moduli"`
	SearchBound uint64   `yaml:"search_bound"`
	FixRadius   uint64   `yaml:"fix_radius"`
}

// EngineConfig holds tuning knobs that never change results
type EngineConfig struct {
	Workers       int    `yaml:"workers"`
	BlockSize     int    `yaml:"block_size"`
	SegmentBytes  int    `yaml:"segment_bytes"`
	Prefetch      int    `yaml:"prefetch"`
	ProgressEvery uint64 `yaml:"progress_every"`
}

// CheckpointConfig holds checkpoint store settings. An empty DSN disables
// checkpointing.
type CheckpointConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Every  uint64 `yaml:"every"`
}

// ServerConfig holds the metrics listener settings. An empty address
// disables the listener.
type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Run: RunConfig{
			Pairs:       1_000_000,
			Offset:      run.DefaultOffset,
			Moduli:      append([]uint64(nil), run.DefaultModuli...),
			SearchBound: run.DefaultSearchBound,
			FixRadius:   run.DefaultFixRadius,
		},
		Engine: EngineConfig{
			Workers:       runtime.GOMAXPROCS(0),
			BlockSize:     4096,
			SegmentBytes:  32 * 1024,
			Prefetch:      2,
			ProgressEvery: 1_000_000,
		},
		Checkpoint: CheckpointConfig{
			Driver: "sqlite3",
			Every:  5_000_000,
		},
		LogLevel: "INFO",
	}
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile applies defaults, then the YAML file at path (if any), then
// environment variables, and validates the result.
func LoadFile(path string) (*Config, error) {
	config := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("failed to parse %s: %w", path, err))
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, errors.Wrap(err, "failed to load environment configuration")
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func applyEnv(c *Config) error {
	var err error
	if c.Run.Pairs, err = getEnvUintOrDefault("PAC_PAIRS", c.Run.Pairs); err != nil {
		return err
	}
	if c.Run.Offset, err = getEnvUintOrDefault("PAC_OFFSET", c.Run.Offset); err != nil {
		return err
	}
	if v := os.Getenv("PAC_MODULI"); v != "" {
		if c.Run.Moduli, err = ParseModuli(v); err != nil {
			return err
		}
	}
	if c.Run.SearchBound, err = getEnvUintOrDefault("PAC_SEARCH_BOUND", c.Run.SearchBound); err != nil {
		return err
	}
	if c.Run.FixRadius, err = getEnvUintOrDefault("PAC_FIX_RADIUS", c.Run.FixRadius); err != nil {
		return err
	}

	if c.Engine.Workers, err = getEnvIntOrDefault("PAC_WORKERS", c.Engine.Workers); err != nil {
		return err
	}
	if c.Engine.BlockSize, err = getEnvIntOrDefault("PAC_BLOCK_SIZE", c.Engine.BlockSize); err != nil {
		return err
	}
	if c.Engine.SegmentBytes, err = getEnvIntOrDefault("PAC_SEGMENT_BYTES", c.Engine.SegmentBytes); err != nil {
		return err
	}
	if c.Engine.Prefetch, err = getEnvIntOrDefault("PAC_PREFETCH", c.Engine.Prefetch); err != nil {
		return err
	}
	if c.Engine.ProgressEvery, err = getEnvUintOrDefault("PAC_PROGRESS_EVERY", c.Engine.ProgressEvery); err != nil {
		return err
	}

	c.Checkpoint.Driver = getEnvOrDefault("PAC_CHECKPOINT_DRIVER", c.Checkpoint.Driver)
	c.Checkpoint.DSN = getEnvOrDefault("PAC_CHECKPOINT_DSN", c.Checkpoint.DSN)
	if c.Checkpoint.Every, err = getEnvUintOrDefault("PAC_CHECKPOINT_EVERY", c.Checkpoint.Every); err != nil {
		return err
	}

	c.Server.MetricsAddr = getEnvOrDefault("PAC_METRICS_ADDR", c.Server.MetricsAddr)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	return nil
}

// Parameters returns the result-determining subset of the configuration.
func (c *Config) Parameters() run.Parameters {
	return run.Parameters{
		Pairs:       c.Run.Pairs,
		Offset:      c.Run.Offset,
		Moduli:      append([]uint64(nil), c.Run.Moduli...),
		SearchBound: c.Run.SearchBound,
		FixRadius:   c.Run.FixRadius,
	}
}

// Validate checks every field before any computation starts.
func (c *Config) Validate() error {
	if err := c.Parameters().Validate(); err != nil {
		return err
	}
	if _, err := residue.NewClassifier(c.Run.Moduli); err != nil {
		return err
	}
	if c.Engine.Workers < 1 {
		return errors.ConfigInvalid("workers must be at least 1")
	}
	if c.Engine.BlockSize < 1 {
		return errors.ConfigInvalid("block size must be at least 1")
	}
	if c.Engine.SegmentBytes < 1 {
		return errors.ConfigInvalid("segment bytes must be at least 1")
	}
	if c.Engine.Prefetch < 0 {
		return errors.ConfigInvalid("prefetch must not be negative")
	}
	switch c.Checkpoint.Driver {
	case "sqlite3", "postgres":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unsupported checkpoint driver %q", c.Checkpoint.Driver))
	}
	if c.Checkpoint.DSN != "" && c.Checkpoint.Every == 0 {
		return errors.ConfigInvalid("checkpoint interval must be positive when a DSN is set")
	}
	return nil
}

// ParseModuli parses a comma-separated list such as "6,30,210,2310".
func ParseModuli(s string) ([]uint64, error) {
	var out []uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, errors.ConfigInvalid(fmt.Sprintf("modulus %q is not an unsigned integer", part))
		}
		if !residue.IsPrimorial(m) {
			return nil, errors.ConfigInvalid(fmt.Sprintf("modulus %d is not a primorial", m))
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, errors.ConfigInvalid("at least one modulus is required")
	}
	return out, nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.ConfigInvalid(fmt.Sprintf("%s=%q is not an integer", key, value))
	}
	return intValue, nil
}

func getEnvUintOrDefault(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	uintValue, err := strconv.ParseUint(strings.ReplaceAll(value, "_", ""), 10, 64)
	if err != nil {
		return 0, errors.ConfigInvalid(fmt.Sprintf("%s=%q is not an unsigned integer", key, value))
	}
	return uintValue, nil
}
