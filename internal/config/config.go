// Package config loads the engine's configuration in layers: an optional
// YAML file provides the base, CORTEXMEM_* environment
// variables override individual fields, and in-process defaults fill
// anything left unset. Config is validated eagerly at startup.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single object enumerated in the external interface's
// configuration section.
type Config struct {
	VectorBackendURL    string `yaml:"vector_backend_url"`
	CollectionName      string `yaml:"collection_name"`
	Dimension           int    `yaml:"dimension"`
	EmbeddingModel      string `yaml:"embedding_model"`
	EmbeddingDimension  int    `yaml:"embedding_dimension"`
	RemoteEmbeddingURL  string `yaml:"remote_embedding_url"`
	// ReflectionModel is the completion (not embedding) model used to
	// generate episodic reflections, kept distinct from EmbeddingModel since
	// an embed-only model cannot serve a text-completion call.
	ReflectionModel string `yaml:"reflection_model"`

	Tiers     TiersConfig     `yaml:"tiers"`
	DecayRate float64         `yaml:"decay_rate"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Migration MigrationConfig `yaml:"migration"`
	Background BackgroundConfig `yaml:"background"`
}

type TiersConfig struct {
	ShortTermThreshold    float64 `yaml:"short_term_threshold"`
	ArchivalThresholdDays int     `yaml:"archival_threshold_days"`
	MaxShortTerm          int     `yaml:"max_short_term"`
	MaxLongTerm           int     `yaml:"max_long_term"`
	ArchiveRetentionDays  int     `yaml:"archive_retention_days"`
}

type RetrievalConfig struct {
	TopK              int     `yaml:"top_k"`
	SemanticThreshold float64 `yaml:"semantic_threshold"`
	RecencyWeight     float64 `yaml:"recency_weight"`
	ImportanceWeight  float64 `yaml:"importance_weight"`
	Hybrid            bool    `yaml:"hybrid"`
}

type MigrationConfig struct {
	Enabled          bool    `yaml:"enabled"`
	QualityThreshold float64 `yaml:"quality_threshold"`
	RollbackThreshold float64 `yaml:"rollback_threshold"`
	MaxTimeHours     int     `yaml:"max_time_hours"`
	BatchSize        int     `yaml:"batch_size"`
}

type BackgroundConfig struct {
	MaxWorkers    int `yaml:"max_workers"`
	MaxQueueSize  int `yaml:"max_queue_size"`
}

// Default returns the in-process defaults documented across §4 and §6.
func Default() *Config {
	return &Config{
		VectorBackendURL:   "sqlite://./data/cortexmem.db",
		CollectionName:     "primary",
		Dimension:          768,
		EmbeddingModel:     "nomic-embed-text",
		EmbeddingDimension: 768,
		RemoteEmbeddingURL: "http://localhost:11434",
		ReflectionModel:    "qwen2.5:7b",
		Tiers: TiersConfig{
			ShortTermThreshold:    0.3,
			ArchivalThresholdDays: 30,
			MaxShortTerm:          1000,
			MaxLongTerm:           10000,
			ArchiveRetentionDays:  180,
		},
		DecayRate: 0.01,
		Retrieval: RetrievalConfig{
			TopK:              5,
			SemanticThreshold: 0.3,
			RecencyWeight:     0.2,
			ImportanceWeight:  0.2,
			Hybrid:            true,
		},
		Migration: MigrationConfig{
			Enabled:           false,
			QualityThreshold:  0.75,
			RollbackThreshold: 0.6,
			MaxTimeHours:      24,
			BatchSize:         100,
		},
		Background: BackgroundConfig{
			MaxWorkers:   4,
			MaxQueueSize: 256,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file at path (skipped
// silently if it does not exist), and CORTEXMEM_* environment variable
// overrides, then validates eagerly.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.VectorBackendURL = getEnv("CORTEXMEM_VECTOR_BACKEND_URL", cfg.VectorBackendURL)
	cfg.CollectionName = getEnv("CORTEXMEM_COLLECTION_NAME", cfg.CollectionName)
	cfg.Dimension = getEnvInt("CORTEXMEM_DIMENSION", cfg.Dimension)
	cfg.EmbeddingModel = getEnv("CORTEXMEM_EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.EmbeddingDimension = getEnvInt("CORTEXMEM_EMBEDDING_DIMENSION", cfg.EmbeddingDimension)
	cfg.RemoteEmbeddingURL = getEnv("CORTEXMEM_REMOTE_EMBEDDING_URL", cfg.RemoteEmbeddingURL)
	cfg.ReflectionModel = getEnv("CORTEXMEM_REFLECTION_MODEL", cfg.ReflectionModel)

	cfg.Tiers.ShortTermThreshold = getEnvFloat("CORTEXMEM_TIERS_SHORT_TERM_THRESHOLD", cfg.Tiers.ShortTermThreshold)
	cfg.Tiers.ArchivalThresholdDays = getEnvInt("CORTEXMEM_TIERS_ARCHIVAL_THRESHOLD_DAYS", cfg.Tiers.ArchivalThresholdDays)
	cfg.Tiers.MaxShortTerm = getEnvInt("CORTEXMEM_TIERS_MAX_SHORT_TERM", cfg.Tiers.MaxShortTerm)
	cfg.Tiers.MaxLongTerm = getEnvInt("CORTEXMEM_TIERS_MAX_LONG_TERM", cfg.Tiers.MaxLongTerm)
	cfg.Tiers.ArchiveRetentionDays = getEnvInt("CORTEXMEM_TIERS_ARCHIVE_RETENTION_DAYS", cfg.Tiers.ArchiveRetentionDays)

	cfg.DecayRate = getEnvFloat("CORTEXMEM_DECAY_RATE", cfg.DecayRate)

	cfg.Retrieval.TopK = getEnvInt("CORTEXMEM_RETRIEVAL_TOP_K", cfg.Retrieval.TopK)
	cfg.Retrieval.SemanticThreshold = getEnvFloat("CORTEXMEM_RETRIEVAL_SEMANTIC_THRESHOLD", cfg.Retrieval.SemanticThreshold)
	cfg.Retrieval.RecencyWeight = getEnvFloat("CORTEXMEM_RETRIEVAL_RECENCY_WEIGHT", cfg.Retrieval.RecencyWeight)
	cfg.Retrieval.ImportanceWeight = getEnvFloat("CORTEXMEM_RETRIEVAL_IMPORTANCE_WEIGHT", cfg.Retrieval.ImportanceWeight)
	cfg.Retrieval.Hybrid = getEnvBool("CORTEXMEM_RETRIEVAL_HYBRID", cfg.Retrieval.Hybrid)

	cfg.Migration.Enabled = getEnvBool("CORTEXMEM_MIGRATION_ENABLED", cfg.Migration.Enabled)
	cfg.Migration.QualityThreshold = getEnvFloat("CORTEXMEM_MIGRATION_QUALITY_THRESHOLD", cfg.Migration.QualityThreshold)
	cfg.Migration.RollbackThreshold = getEnvFloat("CORTEXMEM_MIGRATION_ROLLBACK_THRESHOLD", cfg.Migration.RollbackThreshold)
	cfg.Migration.MaxTimeHours = getEnvInt("CORTEXMEM_MIGRATION_MAX_TIME_HOURS", cfg.Migration.MaxTimeHours)
	cfg.Migration.BatchSize = getEnvInt("CORTEXMEM_MIGRATION_BATCH_SIZE", cfg.Migration.BatchSize)

	cfg.Background.MaxWorkers = getEnvInt("CORTEXMEM_BACKGROUND_MAX_WORKERS", cfg.Background.MaxWorkers)
	cfg.Background.MaxQueueSize = getEnvInt("CORTEXMEM_BACKGROUND_MAX_QUEUE_SIZE", cfg.Background.MaxQueueSize)
}

// Validate fails fast on a non-positive dimension, an invalid weight, or an
// unparseable backend URL, so configuration errors surface to stderr before
// the transport handshake rather than as a confusing runtime failure.
func (c *Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("config: dimension must be positive, got %d", c.Dimension)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("config: embedding_dimension must be positive, got %d", c.EmbeddingDimension)
	}
	if _, err := url.Parse(c.VectorBackendURL); err != nil {
		return fmt.Errorf("config: invalid vector_backend_url %q: %w", c.VectorBackendURL, err)
	}
	if c.RemoteEmbeddingURL != "" {
		if _, err := url.Parse(c.RemoteEmbeddingURL); err != nil {
			return fmt.Errorf("config: invalid remote_embedding_url %q: %w", c.RemoteEmbeddingURL, err)
		}
	}
	if err := validateWeight("retrieval.recency_weight", c.Retrieval.RecencyWeight); err != nil {
		return err
	}
	if err := validateWeight("retrieval.importance_weight", c.Retrieval.ImportanceWeight); err != nil {
		return err
	}
	fusedWeight := 1 - c.Retrieval.RecencyWeight - c.Retrieval.ImportanceWeight
	if fusedWeight < 0 {
		return fmt.Errorf("config: retrieval.recency_weight + retrieval.importance_weight must not exceed 1")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("config: retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.DecayRate < 0 {
		return fmt.Errorf("config: decay_rate must be non-negative, got %v", c.DecayRate)
	}
	if c.Tiers.MaxShortTerm <= 0 || c.Tiers.MaxLongTerm <= 0 {
		return fmt.Errorf("config: tiers.max_short_term and tiers.max_long_term must be positive")
	}
	if c.Background.MaxWorkers <= 0 {
		return fmt.Errorf("config: background.max_workers must be positive, got %d", c.Background.MaxWorkers)
	}
	if c.Background.MaxQueueSize <= 0 {
		return fmt.Errorf("config: background.max_queue_size must be positive, got %d", c.Background.MaxQueueSize)
	}
	if c.Migration.Enabled {
		if err := validateWeight("migration.quality_threshold", c.Migration.QualityThreshold); err != nil {
			return err
		}
		if err := validateWeight("migration.rollback_threshold", c.Migration.RollbackThreshold); err != nil {
			return err
		}
		if c.Migration.BatchSize <= 0 {
			return fmt.Errorf("config: migration.batch_size must be positive, got %d", c.Migration.BatchSize)
		}
		if c.Migration.MaxTimeHours <= 0 {
			return fmt.Errorf("config: migration.max_time_hours must be positive, got %d", c.Migration.MaxTimeHours)
		}
	}
	return nil
}

func validateWeight(name string, w float64) error {
	if w < 0 || w > 1 {
		return fmt.Errorf("config: %s must be in [0, 1], got %v", name, w)
	}
	return nil
}

// DecayInterval is not part of the config object; it is the fixed sweep
// cadence (60 s) for the Temporal loop.
const DecayInterval = time.Minute

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
