// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
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

type HTTPConfig struct {
	Port         int           `yaml:"port"`
	PublicURL    string        `yaml:"public_url"` // base of webhook endpoints handed to gateways
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

type AdminConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxConns        int32  `yaml:"max_conns"`
	MigrateOnStart  bool   `yaml:"migrate_on_start"`
	ProviderCacheOn bool   `yaml:"provider_cache"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type GatewayConfig struct {
	Moneyhash struct {
		LiveURL string `yaml:"live_url"`
		TestURL string `yaml:"test_url"`
	} `yaml:"moneyhash"`
	Zarinpal struct {
		LiveURL string `yaml:"live_url"`
		TestURL string `yaml:"test_url"`
	} `yaml:"zarinpal"`
	Chapa struct {
		LiveURL string `yaml:"live_url"`
		TestURL string `yaml:"test_url"`
	} `yaml:"chapa"`
	Timeout time.Duration `yaml:"timeout"`
}

type QueueConfig struct {
	Name          string        `yaml:"name"`
	Workers       int           `yaml:"workers"`
	MaxAttempts   int           `yaml:"max_attempts"`
	Lease         time.Duration `yaml:"lease"`
	DedupTTL      time.Duration `yaml:"dedup_ttl"`
	ReapInterval  time.Duration `yaml:"reap_interval"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	InMemoryQueue bool          `yaml:"in_memory"`
}

type ReconcileConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type WebhookConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"` // per organization; 0 disables
}

type SchedulerConfig struct {
	StalePendingAfter time.Duration `yaml:"stale_pending_after"`
	StaleSweepEvery   time.Duration `yaml:"stale_sweep_every"`
}

type NotifyConfig struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	Kafka struct {
		Brokers     []string `yaml:"brokers"`
		TopicPrefix string   `yaml:"topic_prefix"`
	} `yaml:"kafka"`
}

type SecurityConfig struct {
	EncryptionKey string   `yaml:"encryption_key"`
	PreviousKeys  []string `yaml:"previous_keys"` // still accepted for decryption during rotation
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Gateways  GatewayConfig   `yaml:"gateways"`
	Queue     QueueConfig     `yaml:"queue"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path after loading an optional .env file.
// DATABASE_URL, REDIS_URL, ENCRYPTION_KEY and ADMIN_JWT_SECRET override the file.
func LoadConfig(path string, dev bool) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes YAML and fills defaults without validating.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 5 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
	if cfg.Admin.TokenTTL <= 0 {
		cfg.Admin.TokenTTL = 24 * time.Hour
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Gateways.Moneyhash.LiveURL == "" {
		cfg.Gateways.Moneyhash.LiveURL = "https://web.moneyhash.io"
	}
	if cfg.Gateways.Moneyhash.TestURL == "" {
		cfg.Gateways.Moneyhash.TestURL = "https://staging-web.moneyhash.io"
	}
	if cfg.Gateways.Zarinpal.LiveURL == "" {
		cfg.Gateways.Zarinpal.LiveURL = "https://payment.zarinpal.com"
	}
	if cfg.Gateways.Zarinpal.TestURL == "" {
		cfg.Gateways.Zarinpal.TestURL = "https://sandbox.zarinpal.com"
	}
	if cfg.Gateways.Chapa.LiveURL == "" {
		cfg.Gateways.Chapa.LiveURL = "https://api.chapa.co"
	}
	if cfg.Gateways.Chapa.TestURL == "" {
		cfg.Gateways.Chapa.TestURL = "https://api.chapa.co"
	}
	if cfg.Gateways.Timeout <= 0 {
		cfg.Gateways.Timeout = 15 * time.Second
	}

	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "reconciler"
	}
	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 6
	}
	if cfg.Queue.Lease <= 0 {
		cfg.Queue.Lease = 2 * time.Minute
	}
	if cfg.Queue.DedupTTL <= 0 {
		cfg.Queue.DedupTTL = 10 * time.Minute
	}
	if cfg.Queue.ReapInterval <= 0 {
		cfg.Queue.ReapInterval = 5 * time.Second
	}
	if cfg.Queue.PollTimeout <= 0 {
		cfg.Queue.PollTimeout = 2 * time.Second
	}

	if cfg.Reconcile.MaxAttempts <= 0 {
		cfg.Reconcile.MaxAttempts = 5
	}
	if cfg.Reconcile.InitialBackoff <= 0 {
		cfg.Reconcile.InitialBackoff = 50 * time.Millisecond
	}
	if cfg.Reconcile.MaxBackoff <= 0 {
		cfg.Reconcile.MaxBackoff = 2 * time.Second
	}

	if cfg.Scheduler.StalePendingAfter <= 0 {
		cfg.Scheduler.StalePendingAfter = 24 * time.Hour
	}
	if cfg.Scheduler.StaleSweepEvery <= 0 {
		cfg.Scheduler.StaleSweepEvery = 15 * time.Minute
	}
	if cfg.Notify.Kafka.TopicPrefix == "" {
		cfg.Notify.Kafka.TopicPrefix = "reconciler."
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.Security.EncryptionKey = v
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		cfg.Admin.JWTSecret = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = p
		}
	}
}

// Validate reports missing required settings.
func (cfg *Config) Validate() error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" && !cfg.Queue.InMemoryQueue {
		return errors.New("redis.url is required")
	}
	if cfg.HTTP.PublicURL == "" {
		return errors.New("http.public_url is required")
	}
	if cfg.Security.EncryptionKey != "" && len(cfg.Security.EncryptionKey) != 32 {
		return errors.New("security.encryption_key must be 32 bytes")
	}
	for _, k := range cfg.Security.PreviousKeys {
		if len(k) != 32 {
			return errors.New("security.previous_keys entries must be 32 bytes")
		}
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
