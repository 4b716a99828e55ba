package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MaxProvidersPerRun is the hard ceiling on providers processed by one trigger.
const MaxProvidersPerRun = 15

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PipelineConfig configures the ingestion and matching run.
type PipelineConfig struct {
	Concurrency                 int           `yaml:"concurrency" mapstructure:"concurrency"`
	MaxProvidersPerRun          int           `yaml:"max_providers_per_run" mapstructure:"max_providers_per_run"`
	DedupWindowHours            int           `yaml:"dedup_window_hours" mapstructure:"dedup_window_hours"`
	ChunkSize                   int           `yaml:"chunk_size" mapstructure:"chunk_size"`
	InsertBatchSize             int           `yaml:"insert_batch_size" mapstructure:"insert_batch_size"`
	MatchBatchSize              int           `yaml:"match_batch_size" mapstructure:"match_batch_size"`
	GeostationaryMatchBatchSize int           `yaml:"geostationary_match_batch_size" mapstructure:"geostationary_match_batch_size"`
	FetchTimeout                time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	RunTimeout                  time.Duration `yaml:"run_timeout" mapstructure:"run_timeout"`
	Lock                        string        `yaml:"lock" mapstructure:"lock"` // memory, postgres or redis
}

// CacheConfig toggles the provider-config and site caches.
type CacheConfig struct {
	ProviderConfigEnabled bool          `yaml:"provider_config_enabled" mapstructure:"provider_config_enabled"`
	ProviderConfigTTL     time.Duration `yaml:"provider_config_ttl" mapstructure:"provider_config_ttl"`
	SiteEnabled           bool          `yaml:"site_enabled" mapstructure:"site_enabled"`
	SiteTTL               time.Duration `yaml:"site_ttl" mapstructure:"site_ttl"`
	SiteMaxEntries        int           `yaml:"site_max_entries" mapstructure:"site_max_entries"`
}

// RedisConfig holds the Redis connection used by the distributed run lock.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// ServerConfig configures the trigger server.
type ServerConfig struct {
	Port    int    `yaml:"port" mapstructure:"port"`
	CronKey string `yaml:"cron_key" mapstructure:"cron_key"`
}

// NotifyConfig configures notification delivery sinks.
type NotifyConfig struct {
	WebhookURL   string   `yaml:"webhook_url" mapstructure:"webhook_url"`
	KafkaBrokers []string `yaml:"kafka_brokers" mapstructure:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic" mapstructure:"kafka_topic"`
	BatchSize    int      `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency  int      `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MonitoringConfig configures operational alerts on run outcomes.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FIREALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("pipeline.concurrency", 3)
	v.SetDefault("pipeline.max_providers_per_run", MaxProvidersPerRun)
	v.SetDefault("pipeline.dedup_window_hours", 12)
	v.SetDefault("pipeline.chunk_size", 2000)
	v.SetDefault("pipeline.insert_batch_size", 1000)
	v.SetDefault("pipeline.match_batch_size", 1000)
	v.SetDefault("pipeline.geostationary_match_batch_size", 500)
	v.SetDefault("pipeline.fetch_timeout", 60*time.Second)
	v.SetDefault("pipeline.run_timeout", 10*time.Minute)
	v.SetDefault("pipeline.lock", "memory")
	v.SetDefault("cache.provider_config_enabled", true)
	v.SetDefault("cache.provider_config_ttl", 10*time.Minute)
	v.SetDefault("cache.site_enabled", true)
	v.SetDefault("cache.site_ttl", 5*time.Minute)
	v.SetDefault("cache.site_max_entries", 5000)
	v.SetDefault("redis.url", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cron_key", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.kafka_brokers", []string{})
	v.SetDefault("notify.kafka_topic", "site-alert-notifications")
	v.SetDefault("notify.batch_size", 200)
	v.SetDefault("notify.concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required by the given mode are set.
// Modes are the CLI command names.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "run":
		errs = append(errs, c.requireStore()...)
		if mode == "serve" {
			if c.Server.CronKey == "" {
				errs = append(errs, "server.cron_key is required")
			}
			if c.Server.Port <= 0 {
				errs = append(errs, "server.port must be > 0")
			}
		}
		errs = append(errs, c.Pipeline.validate()...)
		switch c.Pipeline.Lock {
		case "memory", "postgres":
		case "redis":
			if c.Redis.URL == "" {
				errs = append(errs, "redis.url is required when pipeline.lock is redis")
			}
		default:
			errs = append(errs, fmt.Sprintf("pipeline.lock %q is not one of memory, postgres, redis", c.Pipeline.Lock))
		}
	case "notify":
		errs = append(errs, c.requireStore()...)
		if len(c.Notify.KafkaBrokers) > 0 && c.Notify.KafkaTopic == "" {
			errs = append(errs, "notify.kafka_topic is required when notify.kafka_brokers is set")
		}
		if c.Notify.BatchSize < 1 {
			errs = append(errs, "notify.batch_size must be > 0")
		}
	case "migrate", "providers", "maintenance":
		errs = append(errs, c.requireStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) requireStore() []string {
	if c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required"}
	}
	return nil
}

func (p PipelineConfig) validate() []string {
	var errs []string
	if p.Concurrency < 1 || p.Concurrency > 32 {
		errs = append(errs, "pipeline.concurrency must be between 1 and 32")
	}
	if p.MaxProvidersPerRun < 1 || p.MaxProvidersPerRun > MaxProvidersPerRun {
		errs = append(errs, fmt.Sprintf("pipeline.max_providers_per_run must be between 1 and %d", MaxProvidersPerRun))
	}
	if p.DedupWindowHours < 1 {
		errs = append(errs, "pipeline.dedup_window_hours must be > 0")
	}
	if p.ChunkSize < 1 || p.InsertBatchSize < 1 || p.MatchBatchSize < 1 || p.GeostationaryMatchBatchSize < 1 {
		errs = append(errs, "pipeline chunk and batch sizes must be > 0")
	}
	return errs
}

// ClampLimit bounds a requested provider limit to [1, MaxProvidersPerRun],
// substituting the configured default when the request is not positive.
func (p PipelineConfig) ClampLimit(requested int) int {
	limit := requested
	if limit <= 0 {
		limit = p.MaxProvidersPerRun
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxProvidersPerRun {
		limit = MaxProvidersPerRun
	}
	return limit
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
