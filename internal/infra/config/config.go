// Package config loads the engine's YAML configuration: a single Config
// struct with defaults, overlaid by an optional file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	BaseDir     string            `yaml:"base_dir"`
	Store       StoreConfig       `yaml:"store"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Search      SearchConfig      `yaml:"search"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
	Replication ReplicationConfig `yaml:"replication"`
	Transcript  TranscriptConfig  `yaml:"transcript"`
}

// StoreConfig locates the durable index (§6.1).
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig selects and configures the C2 Embedder backend.
type EmbeddingConfig struct {
	// Provider is "wasm-local" (default) or "bedrock".
	Provider     string `yaml:"provider"`
	ModelPath    string `yaml:"model_path"`
	CacheSize    int    `yaml:"cache_size"`
	BedrockModel string `yaml:"bedrock_model"`
}

// SearchConfig tunes result sizing; the fusion and decay formulas are part
// of the retrieval contract and not configurable.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// LoggerConfig builds a slog.Handler (§10 ambient stack).
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig controls OpenTelemetry tracing (§10 ambient stack).
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// ReplicationConfig is the C7 Replicator's host identity and object-store
// transport settings (§3.6, §4.7, §11).
type ReplicationConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MachineID   string `yaml:"machine_id"`
	MachineName string `yaml:"machine_name"`
	RepoOwner   string `yaml:"repo_owner"`
	RepoName    string `yaml:"repo_name"`
	Bucket      string `yaml:"bucket"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	TickSeconds int    `yaml:"tick_seconds"`
}

// TranscriptConfig locates the conversation log directory scanned by C6.
type TranscriptConfig struct {
	Dir string `yaml:"dir"`
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hindsight"
	}
	return filepath.Join(home, ".hindsight")
}

// Defaults returns a Config with sensible zero-value fallbacks.
func Defaults() *Config {
	base := defaultBaseDir()
	return &Config{
		BaseDir: base,
		Store: StoreConfig{
			Path: filepath.Join(base, "db", "store"),
		},
		Embedding: EmbeddingConfig{
			Provider:  "wasm-local",
			ModelPath: filepath.Join(base, "models", "embed.wasm"),
			CacheSize: 100,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
		},
		Logger: LoggerConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Replication: ReplicationConfig{
			Enabled:     false,
			TickSeconds: 120,
		},
		Transcript: TranscriptConfig{
			Dir: filepath.Join(base, "transcripts"),
		},
	}
}

// Load reads path, overlaying it onto Defaults(). A missing file is not an
// error; it simply yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
