// Package config holds the file-backed configuration for the episodic
// memory core: storage location, quality floors, and the gated rewrite
// capability settings.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/XiaoConstantine/engram-go/pkg/errors"
)

// Config is the complete configuration. Zero-value fields are filled
// from defaults before validation.
type Config struct {
	Storage    StorageConfig    `yaml:"storage" validate:"required"`
	Curriculum CurriculumConfig `yaml:"curriculum,omitempty"`
	Rewrite    RewriteConfig    `yaml:"rewrite,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// StorageConfig locates the database and the rolling history log.
type StorageConfig struct {
	// Path of the SQLite database file; ":memory:" is accepted for
	// ephemeral runs.
	DBPath string `yaml:"db_path" validate:"required"`

	// HistoryPath of the curriculum history JSONL log.
	HistoryPath string `yaml:"history_path,omitempty"`
}

// CurriculumConfig bounds scans and batches.
type CurriculumConfig struct {
	MaxRows        int     `yaml:"max_rows" validate:"min=1"`
	MaxCards       int     `yaml:"max_cards" validate:"min=1"`
	IncludeArchive bool    `yaml:"include_archive"`
	MinGain        float64 `yaml:"min_gain" validate:"min=0,max=1"`

	PromoteMinUnified     float64 `yaml:"promote_min_unified" validate:"min=0,max=1"`
	SoftPromoteMinUnified float64 `yaml:"soft_promote_min_unified" validate:"min=0,max=1"`
}

// RewriteConfig gates the external rewrite capability. Disabled by
// default; enabling without credentials degrades to a no-op.
type RewriteConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Provider string        `yaml:"provider,omitempty" validate:"omitempty,oneof=anthropic disabled"`
	Model    string        `yaml:"model,omitempty"`
	APIKey   string        `yaml:"api_key,omitempty"`
	Floor    float64       `yaml:"floor" validate:"min=0,max=1"`
	MaxChars int           `yaml:"max_chars" validate:"min=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"min=0"`
}

// LoggingConfig selects the log severity.
type LoggingConfig struct {
	Severity string `yaml:"severity,omitempty" validate:"omitempty,oneof=debug info warn error fatal"`
}

// EnvDBPath overrides the configured database path when set.
const EnvDBPath = "ENGRAM_DB_PATH"

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath:      "engram.db",
			HistoryPath: "curriculum_history.jsonl",
		},
		Curriculum: CurriculumConfig{
			MaxRows:               500,
			MaxCards:              25,
			IncludeArchive:        true,
			MinGain:               0.05,
			PromoteMinUnified:     0.70,
			SoftPromoteMinUnified: 0.50,
		},
		Rewrite: RewriteConfig{
			Provider: "disabled",
			Model:    "claude-3-5-haiku-latest",
			Floor:    0.45,
			MaxChars: 280,
			Timeout:  10 * time.Second,
		},
		Logging: LoggingConfig{Severity: "info"},
	}
}

// Load reads, fills and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to read config file"),
			errors.Fields{"path": path},
		)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to parse config file"),
			errors.Fields{"path": path},
		)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault falls back to defaults when the file does not exist; a
// present-but-broken file is still an error.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.applyEnv()
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Storage.DBPath = v
	}
}

// Validate applies struct tags over the filled configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, errors.ValidationFailed, "invalid configuration")
	}
	return nil
}
