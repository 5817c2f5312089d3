// Package config loads service configuration from a YAML file and the
// environment. Environment variables prefixed with EMBEDCACHE_ override
// file values, with dots replaced by underscores
// (EMBEDCACHE_REDIS_ADDRESS overrides redis.address). A handful of
// well-known unprefixed variables are bound explicitly for secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"

	"github.com/contentmesh/embedcache/internal/worker"
	"github.com/contentmesh/embedcache/pkg/database"
	"github.com/contentmesh/embedcache/pkg/embedding"
	"github.com/contentmesh/embedcache/pkg/embedding/cache"
	"github.com/contentmesh/embedcache/pkg/embedding/providers"
	"github.com/contentmesh/embedcache/pkg/storage"
)

// Config holds the complete application configuration
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  database.Config `mapstructure:"database"`
	S3        S3Config        `mapstructure:"s3"`
	SQS       SQSConfig       `mapstructure:"sqs"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

// ServiceConfig configures the HTTP server
type ServiceConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
	LogRequests     bool          `mapstructure:"log_requests"`
}

// CacheConfig configures the tiered cache
type CacheConfig struct {
	Capacity          int               `mapstructure:"capacity"`
	DimensionContract int               `mapstructure:"dimension_contract"`
	EntryTTL          time.Duration     `mapstructure:"entry_ttl"`
	ProbeTimeout      time.Duration     `mapstructure:"probe_timeout"`
	DedupeInFlight    bool              `mapstructure:"dedupe_in_flight"`
	Filesystem        FilesystemConfig  `mapstructure:"filesystem"`
	Durable           DurableConfig     `mapstructure:"durable"`
	VectorIndex       VectorIndexConfig `mapstructure:"vector_index"`
}

// FilesystemConfig configures the on-disk cache tier
type FilesystemConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

// DurableConfig configures the Redis-backed cache tier
type DurableConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// VectorIndexConfig configures the pgvector-backed cache tier
type VectorIndexConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// BreakerConfig configures the generation circuit breaker
type BreakerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// EmbeddingConfig configures the provider router
type EmbeddingConfig struct {
	Backend        string        `mapstructure:"backend"`
	DefaultModel   string        `mapstructure:"default_model"`
	FallbackModels []string      `mapstructure:"fallback_models"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	OpenAI         OpenAIConfig  `mapstructure:"openai"`
	Bedrock        BedrockConfig `mapstructure:"bedrock"`
}

// OpenAIConfig configures the OpenAI backend
type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Endpoint       string        `mapstructure:"endpoint"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	RetryDelayMax  time.Duration `mapstructure:"retry_delay_max"`
}

// BedrockConfig configures the Bedrock backend
type BedrockConfig struct {
	Region string `mapstructure:"region"`
}

// RedisConfig configures the Redis connection. Timeouts are whole
// seconds.
type RedisConfig struct {
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	Database     int    `mapstructure:"database"`
	MaxRetries   int    `mapstructure:"max_retries"`
	DialTimeout  int    `mapstructure:"dial_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// Options converts the section into Redis client options
func (c RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Address,
		Password:     c.Password,
		DB:           c.Database,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  time.Duration(c.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(c.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(c.WriteTimeout) * time.Second,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

// S3Config configures the vector archive bucket
type S3Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	Region         string        `mapstructure:"region"`
	Bucket         string        `mapstructure:"bucket"`
	Endpoint       string        `mapstructure:"endpoint"`
	ForcePathStyle bool          `mapstructure:"force_path_style"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BlobStore converts the section into blob store configuration
func (c S3Config) BlobStore() storage.BlobStoreConfig {
	return storage.BlobStoreConfig{
		Region:         c.Region,
		Bucket:         c.Bucket,
		Endpoint:       c.Endpoint,
		ForcePathStyle: c.ForcePathStyle,
		RequestTimeout: c.RequestTimeout,
	}
}

// SQSConfig configures the backfill queue
type SQSConfig struct {
	QueueURL string `mapstructure:"queue_url"`
}

// WorkerConfig configures the backfill worker
type WorkerConfig struct {
	MaxMessages    int32         `mapstructure:"max_messages"`
	WaitSeconds    int32         `mapstructure:"wait_seconds"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// RetryConfig configures backfill retry backoff
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// Load loads configuration from file and environment variables. The
// file is searched under ./configs unless EMBEDCACHE_CONFIG_FILE names
// one explicitly; a missing file is not an error when environment
// variables carry the settings.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	if configFile := os.Getenv("EMBEDCACHE_CONFIG_FILE"); configFile != "" {
		v.SetConfigFile(configFile)
	}

	v.SetEnvPrefix("EMBEDCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service.listen_address", ":8084")
	v.SetDefault("service.read_timeout", 30*time.Second)
	v.SetDefault("service.write_timeout", 30*time.Second)
	v.SetDefault("service.idle_timeout", 90*time.Second)
	v.SetDefault("service.shutdown_timeout", 30*time.Second)
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.log_requests", true)

	// Cache defaults
	v.SetDefault("cache.capacity", 512)
	v.SetDefault("cache.dimension_contract", 0)
	v.SetDefault("cache.entry_ttl", 0)
	v.SetDefault("cache.probe_timeout", 0)
	v.SetDefault("cache.dedupe_in_flight", false)
	v.SetDefault("cache.filesystem.enabled", false)
	v.SetDefault("cache.filesystem.directory", "/var/cache/embedcache")
	v.SetDefault("cache.durable.enabled", true)
	v.SetDefault("cache.durable.key_prefix", "embedcache")
	v.SetDefault("cache.vector_index.enabled", true)

	// Circuit breaker defaults
	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.cooldown", 60*time.Second)

	// Embedding defaults
	v.SetDefault("embedding.backend", "openai")
	v.SetDefault("embedding.default_model", "openai/text-embedding-3-small")
	v.SetDefault("embedding.fallback_models", []string{})
	v.SetDefault("embedding.request_timeout", 15*time.Second)
	v.SetDefault("embedding.openai.endpoint", "")
	v.SetDefault("embedding.openai.max_retries", 3)
	v.SetDefault("embedding.openai.retry_delay_base", time.Second)
	v.SetDefault("embedding.openai.retry_delay_max", 30*time.Second)
	v.SetDefault("embedding.bedrock.region", "")

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "embedcache_development")
	v.SetDefault("database.username", "embedcache")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Object storage defaults
	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.force_path_style", false)
	v.SetDefault("s3.request_timeout", 10*time.Second)

	// Queue and worker defaults
	v.SetDefault("sqs.queue_url", "")
	v.SetDefault("worker.max_messages", 5)
	v.SetDefault("worker.wait_seconds", 10)
	v.SetDefault("worker.idempotency_ttl", 24*time.Hour)
	v.SetDefault("worker.retry.max_retries", 3)
	v.SetDefault("worker.retry.initial_interval", time.Second)
	v.SetDefault("worker.retry.max_interval", 30*time.Second)
	v.SetDefault("worker.retry.multiplier", 2.0)
	v.SetDefault("worker.retry.max_elapsed_time", 5*time.Minute)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	v.AutomaticEnv()

	// Secret bindings under their conventional names
	_ = v.BindEnv("embedding.openai.api_key", "OPENAI_API_KEY", "EMBEDCACHE_EMBEDDING_OPENAI_API_KEY")
	_ = v.BindEnv("embedding.bedrock.region", "AWS_REGION", "EMBEDCACHE_EMBEDDING_BEDROCK_REGION")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD", "EMBEDCACHE_REDIS_PASSWORD")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD", "EMBEDCACHE_DATABASE_PASSWORD")
	_ = v.BindEnv("sqs.queue_url", "SQS_QUEUE_URL", "EMBEDCACHE_SQS_QUEUE_URL")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Service.ListenAddress == "" {
		return fmt.Errorf("service.listen_address is required")
	}
	if cfg.Embedding.DefaultModel == "" {
		return fmt.Errorf("embedding.default_model is required")
	}
	if cfg.Cache.Capacity <= 0 {
		return fmt.Errorf("invalid cache capacity: %d", cfg.Cache.Capacity)
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", cfg.Database.Port)
	}
	if cfg.Cache.DimensionContract > 0 {
		if info, ok := embedding.LookupModel(cfg.Embedding.DefaultModel); ok && info.Dimensions != cfg.Cache.DimensionContract {
			return fmt.Errorf("cache.dimension_contract %d does not match %s (%d dimensions)",
				cfg.Cache.DimensionContract, cfg.Embedding.DefaultModel, info.Dimensions)
		}
	}
	return nil
}

// FacadeConfig assembles the cache facade settings from the cache and
// embedding sections. The default fingerprint is the router's default
// model so both layers agree on the primary.
func (c *Config) FacadeConfig() cache.FacadeConfig {
	return cache.FacadeConfig{
		DefaultFingerprint: c.Embedding.DefaultModel,
		DimensionContract:  c.Cache.DimensionContract,
		EntryTTL:           c.Cache.EntryTTL,
		ProbeTimeout:       c.Cache.ProbeTimeout,
		DedupeInFlight:     c.Cache.DedupeInFlight,
	}
}

// RouterConfig assembles the provider router settings
func (c *Config) RouterConfig() embedding.RouterConfig {
	return embedding.RouterConfig{
		Backend:           c.Embedding.Backend,
		DefaultModel:      c.Embedding.DefaultModel,
		FallbackModels:    c.Embedding.FallbackModels,
		RequestTimeout:    c.Embedding.RequestTimeout,
		DimensionContract: c.Cache.DimensionContract,
		OpenAI: providers.ProviderConfig{
			APIKey:         c.Embedding.OpenAI.APIKey,
			Endpoint:       c.Embedding.OpenAI.Endpoint,
			RequestTimeout: c.Embedding.RequestTimeout,
			MaxRetries:     c.Embedding.OpenAI.MaxRetries,
			RetryDelayBase: c.Embedding.OpenAI.RetryDelayBase,
			RetryDelayMax:  c.Embedding.OpenAI.RetryDelayMax,
		},
		Bedrock: providers.ProviderConfig{
			Region:         c.Embedding.Bedrock.Region,
			RequestTimeout: c.Embedding.RequestTimeout,
		},
	}
}

// CircuitBreakerConfig assembles the circuit breaker settings
func (c *Config) CircuitBreakerConfig() embedding.CircuitBreakerConfig {
	return embedding.CircuitBreakerConfig{
		Enabled:  c.Breaker.Enabled,
		Cooldown: c.Breaker.Cooldown,
	}
}

// BackfillWorkerConfig assembles the backfill worker settings
func (c *Config) BackfillWorkerConfig() worker.Config {
	return worker.Config{
		MaxMessages:    c.Worker.MaxMessages,
		WaitSeconds:    c.Worker.WaitSeconds,
		IdempotencyTTL: c.Worker.IdempotencyTTL,
	}
}

// WorkerRetryConfig assembles the backfill retry settings
func (c *Config) WorkerRetryConfig() *worker.RetryConfig {
	return &worker.RetryConfig{
		MaxRetries:      c.Worker.Retry.MaxRetries,
		InitialInterval: c.Worker.Retry.InitialInterval,
		MaxInterval:     c.Worker.Retry.MaxInterval,
		Multiplier:      c.Worker.Retry.Multiplier,
		MaxElapsedTime:  c.Worker.Retry.MaxElapsedTime,
	}
}
