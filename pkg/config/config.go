// Package config loads engine settings from environment variables and
// an optional config file, with sensible defaults for everything that
// is not a credential.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full engine configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Search   SearchConfig   `mapstructure:"search"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	LogLevel string         `mapstructure:"log_level"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN renders the connection string for lib/pq.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// OpenAIConfig holds embedding provider settings. An empty APIKey
// disables semantic features without erroring.
type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Dimensions     int           `mapstructure:"dimensions"`
	Endpoint       string        `mapstructure:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SearchConfig holds ranking defaults.
type SearchConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	Limit               int     `mapstructure:"limit"`
	RRFK                int     `mapstructure:"rrf_k"`
	FullTextWeight      float64 `mapstructure:"full_text_weight"`
	SemanticWeight      float64 `mapstructure:"semantic_weight"`
	CategoryTextWeight  float64 `mapstructure:"category_text_weight"`
}

// BackfillConfig holds batch run settings.
type BackfillConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// Load reads configuration from config.yaml (if present in the working
// directory) and the environment. Environment variables use the
// FINTRACK_ prefix with underscores, e.g. FINTRACK_DATABASE_HOST;
// OPENAI_API_KEY is also honored without the prefix for compatibility
// with provider tooling.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "fintrack")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "text-embedding-3-small")
	v.SetDefault("openai.dimensions", 1536)
	v.SetDefault("openai.endpoint", "https://api.openai.com/v1")
	v.SetDefault("openai.request_timeout", 30*time.Second)

	v.SetDefault("search.similarity_threshold", 0.7)
	v.SetDefault("search.limit", 10)
	v.SetDefault("search.rrf_k", 50)
	v.SetDefault("search.full_text_weight", 1.0)
	v.SetDefault("search.semantic_weight", 1.0)
	v.SetDefault("search.category_text_weight", 1.5)

	v.SetDefault("backfill.batch_size", 50)
	v.SetDefault("backfill.page_delay", 500*time.Millisecond)
	v.SetDefault("backfill.max_attempts", 3)
	v.SetDefault("backfill.initial_backoff", time.Second)

	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("FINTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("openai.api_key", "FINTRACK_OPENAI_API_KEY", "OPENAI_API_KEY")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values Load cannot default around.
func (c *Config) Validate() error {
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port %d", c.Database.Port)
	}
	if c.OpenAI.Dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions %d", c.OpenAI.Dimensions)
	}
	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold %v out of range [0,1]", c.Search.SimilarityThreshold)
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("invalid search limit %d", c.Search.Limit)
	}
	if c.Backfill.BatchSize <= 0 {
		return fmt.Errorf("invalid backfill batch size %d", c.Backfill.BatchSize)
	}
	return nil
}
