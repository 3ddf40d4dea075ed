package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"offlinebatch/internal/scheduler"
)

// Config holds the parameters of one offline inference job.
// Fields missing from a file keep the values from Default.
type Config struct {
	Engine      EngineConfig    `json:"engine" yaml:"engine" toml:"engine"`
	Scheduler   SchedulerConfig `json:"scheduler" yaml:"scheduler" toml:"scheduler"`
	Log         LogConfig       `json:"log" yaml:"log" toml:"log"`
	MetricsAddr string          `json:"metrics_addr" yaml:"metrics_addr" toml:"metrics_addr"`
	Input       string          `json:"input" yaml:"input" toml:"input"`
	Output      string          `json:"output" yaml:"output" toml:"output"`
}

// EngineConfig sizes the synthetic executor.
type EngineConfig struct {
	Slots            int   `json:"slots" yaml:"slots" toml:"slots"`
	MaxPrefillLength int   `json:"max_prefill_length" yaml:"max_prefill_length" toml:"max_prefill_length"`
	MaxTargetLength  int   `json:"max_target_length" yaml:"max_target_length" toml:"max_target_length"`
	EOS              int32 `json:"eos" yaml:"eos" toml:"eos"`
	Vocab            int32 `json:"vocab" yaml:"vocab" toml:"vocab"`
	MinOutput        int   `json:"min_output" yaml:"min_output" toml:"min_output"`
	MaxOutput        int   `json:"max_output" yaml:"max_output" toml:"max_output"`
}

// SchedulerConfig holds the batching tunables.
type SchedulerConfig struct {
	BatchPrefill  bool  `json:"batch_prefill" yaml:"batch_prefill" toml:"batch_prefill"`
	DecodeSteps   int   `json:"decode_steps" yaml:"decode_steps" toml:"decode_steps"`
	QueueCapacity int   `json:"queue_capacity" yaml:"queue_capacity" toml:"queue_capacity"`
	Shuffle       bool  `json:"shuffle" yaml:"shuffle" toml:"shuffle"`
	Seed          int64 `json:"seed" yaml:"seed" toml:"seed"`
	// WarmupMaxLength caps the compiled lengths; 0 means max_prefill_length.
	WarmupMaxLength int `json:"warmup_max_length" yaml:"warmup_max_length" toml:"warmup_max_length"`
	// WarmupSamples is how many input requests are replayed during warm-up.
	WarmupSamples int `json:"warmup_samples" yaml:"warmup_samples" toml:"warmup_samples"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Slots:            8,
			MaxPrefillLength: 1024,
			MaxTargetLength:  2048,
			EOS:              2,
			Vocab:            32000,
			MinOutput:        1,
			MaxOutput:        64,
		},
		Scheduler: SchedulerConfig{
			BatchPrefill:  true,
			DecodeSteps:   10,
			QueueCapacity: 10,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads a configuration file based on its extension, on top of Default.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Encode writes cfg in one of the formats Load reads.
func Encode(w io.Writer, cfg Config, format string) error {
	switch strings.ToLower(format) {
	case "yaml", "yml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "toml":
		return toml.NewEncoder(w).Encode(cfg)
	default:
		return fmt.Errorf("unsupported config format: %s", format)
	}
}

// Validate checks that the engine and scheduler limits are usable together.
func (c Config) Validate() error {
	e, s := c.Engine, c.Scheduler
	if e.Slots <= 0 {
		return fmt.Errorf("engine.slots must be positive, got %d", e.Slots)
	}
	// A bucket can hold one member per slot; wider buckets have no batched variant.
	if s.BatchPrefill && e.Slots > scheduler.MaxBatchMembers {
		return fmt.Errorf("engine.slots %d exceeds %d concatenated prefill members; lower it or disable scheduler.batch_prefill", e.Slots, scheduler.MaxBatchMembers)
	}
	if e.MaxPrefillLength < 64 || e.MaxPrefillLength&(e.MaxPrefillLength-1) != 0 {
		return fmt.Errorf("engine.max_prefill_length must be a power of two >= 64, got %d", e.MaxPrefillLength)
	}
	if e.MaxTargetLength <= e.MaxPrefillLength {
		return fmt.Errorf("engine.max_target_length %d must exceed max_prefill_length %d", e.MaxTargetLength, e.MaxPrefillLength)
	}
	if e.MinOutput <= 0 || e.MaxOutput < e.MinOutput {
		return fmt.Errorf("engine output bounds [%d,%d] invalid", e.MinOutput, e.MaxOutput)
	}
	if e.Vocab <= e.EOS || e.EOS < 0 {
		return fmt.Errorf("engine.eos %d outside vocab %d", e.EOS, e.Vocab)
	}
	if s.DecodeSteps <= 0 {
		return fmt.Errorf("scheduler.decode_steps must be positive, got %d", s.DecodeSteps)
	}
	if s.QueueCapacity <= 0 {
		return fmt.Errorf("scheduler.queue_capacity must be positive, got %d", s.QueueCapacity)
	}
	if s.WarmupMaxLength != 0 && (s.WarmupMaxLength < 64 || s.WarmupMaxLength > e.MaxPrefillLength) {
		return fmt.Errorf("scheduler.warmup_max_length %d outside [64,%d]", s.WarmupMaxLength, e.MaxPrefillLength)
	}
	if s.WarmupSamples < 0 {
		return fmt.Errorf("scheduler.warmup_samples must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// WarmupLength resolves the warm-up length cap.
func (c Config) WarmupLength() int {
	if c.Scheduler.WarmupMaxLength > 0 {
		return c.Scheduler.WarmupMaxLength
	}
	return c.Engine.MaxPrefillLength
}
