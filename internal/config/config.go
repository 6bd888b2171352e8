// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AIConfig struct {
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	DefaultModel    string `yaml:"default_model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent model calls
}

// QueueConfig sets per-queue consumer concurrency. Compute scales with the
// provider rate limit, persist is bounded to protect the database, finalize
// and sequential are pinned to 1.
type QueueConfig struct {
	ComputeWorkers int           `yaml:"compute_workers"`
	PersistWorkers int           `yaml:"persist_workers"`
	EmbedWorkers   int           `yaml:"embed_workers"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	// ReapInterval controls how often stranded processing-ledger entries
	// are requeued.
	ReapInterval time.Duration `yaml:"reap_interval"`
	ReapAfter    time.Duration `yaml:"reap_after"`
}

// RetryConfig is the graduated backoff schedule. Attempts 1..ShortAttempts
// wait ShortDelay, then MediumDelay through MediumAttempts, then LongDelay
// until MaxAttempts is exhausted and the task dead-letters.
type RetryConfig struct {
	ShortDelay     time.Duration `yaml:"short_delay"`
	ShortAttempts  int           `yaml:"short_attempts"`
	MediumDelay    time.Duration `yaml:"medium_delay"`
	MediumAttempts int           `yaml:"medium_attempts"`
	LongDelay      time.Duration `yaml:"long_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

type ProgressConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	Retention     time.Duration `yaml:"retention"`
}

type SweepConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type OpsConfig struct {
	Port int `yaml:"port"`
}

// PromptSpec is one named analysis prompt from the config file.
type PromptSpec struct {
	Text  string `yaml:"text"`
	Model string `yaml:"model"`
}

type Config struct {
	Log      LogConfig             `yaml:"log"`
	Database DatabaseConfig        `yaml:"database"`
	Redis    RedisConfig           `yaml:"redis"`
	AI       AIConfig              `yaml:"ai"`
	Queue    QueueConfig           `yaml:"queue"`
	Retry    RetryConfig           `yaml:"retry"`
	Progress ProgressConfig        `yaml:"progress"`
	Sweep    SweepConfig           `yaml:"sweep"`
	Ops      OpsConfig             `yaml:"ops"`
	Prompts  map[string]PromptSpec `yaml:"prompts"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// ApplyDefaults fills every zero value with the operational defaults. The
// retry breakpoints mirror the production schedule (20s, then 60s, then 15m)
// but remain configuration, not hard requirements.
func (cfg *Config) ApplyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 4096
	}
	if cfg.Queue.ComputeWorkers <= 0 {
		cfg.Queue.ComputeWorkers = 8
	}
	if cfg.Queue.PersistWorkers <= 0 {
		cfg.Queue.PersistWorkers = 4
	}
	if cfg.Queue.EmbedWorkers <= 0 {
		cfg.Queue.EmbedWorkers = 2
	}
	if cfg.Queue.ReceiveTimeout <= 0 {
		cfg.Queue.ReceiveTimeout = 5 * time.Second
	}
	if cfg.Queue.ReapInterval <= 0 {
		cfg.Queue.ReapInterval = time.Minute
	}
	if cfg.Queue.ReapAfter <= 0 {
		cfg.Queue.ReapAfter = 10 * time.Minute
	}
	if cfg.Retry.ShortDelay <= 0 {
		cfg.Retry.ShortDelay = 20 * time.Second
	}
	if cfg.Retry.ShortAttempts <= 0 {
		cfg.Retry.ShortAttempts = 6
	}
	if cfg.Retry.MediumDelay <= 0 {
		cfg.Retry.MediumDelay = time.Minute
	}
	if cfg.Retry.MediumAttempts <= 0 {
		cfg.Retry.MediumAttempts = 25
	}
	if cfg.Retry.LongDelay <= 0 {
		cfg.Retry.LongDelay = 15 * time.Minute
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 120
	}
	if cfg.Progress.FlushInterval <= 0 {
		cfg.Progress.FlushInterval = 500 * time.Millisecond
	}
	if cfg.Progress.Retention <= 0 {
		cfg.Progress.Retention = 24 * time.Hour
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = 10 * time.Minute
	}
	if cfg.Sweep.BatchSize <= 0 {
		cfg.Sweep.BatchSize = 100
	}
	if cfg.Ops.Port == 0 {
		cfg.Ops.Port = 9090
	}
}
