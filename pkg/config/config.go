// Package config handles configuration for the embedding pipeline services.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete configuration shared by the worker, ingest, and
// bootstrap binaries.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Queue     QueueConfig     `mapstructure:"queue"`
	CMR       CMRConfig       `mapstructure:"cmr"`
	KMS       KMSConfig       `mapstructure:"kms"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// ServiceConfig contains service-level settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// QueueConfig contains SQS FIFO queue settings.
type QueueConfig struct {
	URL         string        `mapstructure:"url"`
	Region      string        `mapstructure:"region"`
	MaxMessages int32         `mapstructure:"max_messages"`
	WaitTime    time.Duration `mapstructure:"wait_time"`
}

// CMRConfig contains catalog client settings.
type CMRConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ConceptTimeout time.Duration `mapstructure:"concept_timeout"`
	SearchTimeout  time.Duration `mapstructure:"search_timeout"`
	SearchRPS      float64       `mapstructure:"search_rps"`
}

// KMSConfig contains controlled-vocabulary client settings.
type KMSConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
}

// EmbeddingConfig contains Bedrock model settings.
type EmbeddingConfig struct {
	Region  string        `mapstructure:"region"`
	ModelID string        `mapstructure:"model_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig contains Postgres connection settings.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int    `mapstructure:"max_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// Load reads configuration from the optional config file and CMR_EMBED_*
// environment variables, applying defaults for everything unset.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CMR_EMBED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.shutdown_timeout", 30*time.Second)

	v.SetDefault("queue.region", "us-east-1")
	v.SetDefault("queue.max_messages", 10)
	v.SetDefault("queue.wait_time", 20*time.Second)

	v.SetDefault("cmr.base_url", "https://cmr.earthdata.nasa.gov")
	v.SetDefault("cmr.concept_timeout", 30*time.Second)
	v.SetDefault("cmr.search_timeout", 60*time.Second)
	v.SetDefault("cmr.search_rps", 5.0)

	v.SetDefault("kms.base_url", "https://cmr.earthdata.nasa.gov/kms")
	v.SetDefault("kms.timeout", 10*time.Second)
	v.SetDefault("kms.cache_size", 2000)

	v.SetDefault("embedding.region", "us-east-1")
	v.SetDefault("embedding.model_id", "amazon.titan-embed-text-v2:0")
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
}

// Validate checks constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Queue.MaxMessages < 1 || c.Queue.MaxMessages > 10 {
		return fmt.Errorf("queue.max_messages must be between 1 and 10, got %d", c.Queue.MaxMessages)
	}
	if c.KMS.CacheSize < 1 {
		return fmt.Errorf("kms.cache_size must be positive, got %d", c.KMS.CacheSize)
	}
	if c.Embedding.ModelID == "" {
		return fmt.Errorf("embedding.model_id must not be empty")
	}
	return nil
}
