package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Redis    RedisConfig    `koanf:"redis"`
	Postgres PostgresConfig `koanf:"postgres"`
	Claims   ClaimsConfig   `koanf:"claims"`
	Queue    QueueConfig    `koanf:"queue"`
	Stream   StreamConfig   `koanf:"stream"`
	Poll     PollConfig     `koanf:"poll"`
	Webhook  WebhookConfig  `koanf:"webhook"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type PostgresConfig struct {
	URL string `koanf:"url"`
}

// ClaimsConfig controls the idempotency store.
type ClaimsConfig struct {
	Backend string `koanf:"backend" validate:"oneof=redis postgres memory"`
	MaxSize int    `koanf:"max_size" validate:"gt=0"`
}

type QueueConfig struct {
	Name        string        `koanf:"name"`
	MaxAttempts int           `koanf:"max_attempts" validate:"gte=1"`
	PopTimeout  time.Duration `koanf:"pop_timeout"`
	DeadLetter  DeadLetterConfig `koanf:"dead_letter"`
}

type DeadLetterConfig struct {
	MaxSize int `koanf:"max_size" validate:"gt=0"`
}

type StreamConfig struct {
	Enabled           bool          `koanf:"enabled"`
	URL               string        `koanf:"url"`
	RulesURL          string        `koanf:"rules_url"`
	BearerToken       string        `koanf:"bearer_token"`
	RuleValue         string        `koanf:"rule_value"`
	RuleTag           string        `koanf:"rule_tag"`
	LivenessInterval  time.Duration `koanf:"liveness_interval"`
	LivenessTimeout   time.Duration `koanf:"liveness_timeout"`
	FallbackThreshold int           `koanf:"fallback_threshold" validate:"gte=1"`
}

type PollConfig struct {
	Enabled  bool          `koanf:"enabled"`
	URL      string        `koanf:"url"`
	Query    string        `koanf:"query"`
	Interval time.Duration `koanf:"interval"`
	PageSize int           `koanf:"page_size" validate:"gte=1,lte=100"`
}

type WebhookConfig struct {
	Secret           string `koanf:"secret"`
	EnforceSignature bool   `koanf:"enforce_signature"`
}

// Load builds configuration from defaults, an optional YAML file, and
// MENTIOND_-prefixed environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Claims: ClaimsConfig{
			Backend: "redis",
			MaxSize: 10000,
		},
		Queue: QueueConfig{
			Name:        "mentiond:jobs",
			MaxAttempts: 3,
			PopTimeout:  5 * time.Second,
			DeadLetter:  DeadLetterConfig{MaxSize: 1000},
		},
		Stream: StreamConfig{
			Enabled:           true,
			URL:               "https://api.twitter.com/2/tweets/search/stream",
			RulesURL:          "https://api.twitter.com/2/tweets/search/stream/rules",
			RuleTag:           "mentiond",
			LivenessInterval:  10 * time.Second,
			LivenessTimeout:   30 * time.Second,
			FallbackThreshold: 5,
		},
		Poll: PollConfig{
			Enabled:  true,
			URL:      "https://api.twitter.com/2/tweets/search/recent",
			Interval: 2 * time.Minute,
			PageSize: 25,
		},
		Webhook: WebhookConfig{
			EnforceSignature: true,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("MENTIOND_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "MENTIOND_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
