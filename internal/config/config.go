// Package config loads proxy configuration from a config file and
// STICKER_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full proxy configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `mapstructure:"listen_addr"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	// UpstreamToken is the bot API bearer credential. Required.
	UpstreamToken   string        `mapstructure:"upstream_token"`
	UpstreamBaseURL string        `mapstructure:"upstream_base_url"`
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	MaxPayloadBytes int64         `mapstructure:"max_payload_bytes"`
	DetailedLogging bool          `mapstructure:"detailed_logging"`

	// QueueMaxConcurrent bounds in-flight upstream calls.
	QueueMaxConcurrent int           `mapstructure:"queue_max_concurrent"`
	QueueDepth         int           `mapstructure:"queue_depth"`
	BaseDelay          time.Duration `mapstructure:"base_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`

	// RedisURL enables the fast cache tier. Empty runs durable-only.
	RedisURL        string        `mapstructure:"redis_url"`
	CacheDir        string        `mapstructure:"cache_dir"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	FastMaxBytes    int64         `mapstructure:"fast_max_bytes"`
	DurableMaxBytes int64         `mapstructure:"durable_max_bytes"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`

	ConvertWorkers int           `mapstructure:"convert_workers"`
	ConvertTimeout time.Duration `mapstructure:"convert_timeout"`

	// SetConcurrency is the parallelism for whole-set warm-up fetches.
	SetConcurrency int `mapstructure:"set_concurrency"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)

	// The empty default registers the key so the env binding applies.
	v.SetDefault("upstream_token", "")
	v.SetDefault("upstream_base_url", "https://api.telegram.org")
	v.SetDefault("upstream_timeout", 30*time.Second)
	v.SetDefault("max_payload_bytes", int64(20<<20))
	v.SetDefault("detailed_logging", false)

	v.SetDefault("queue_max_concurrent", 2)
	v.SetDefault("queue_depth", 256)
	v.SetDefault("base_delay", 150*time.Millisecond)
	v.SetDefault("max_delay", 5*time.Second)

	v.SetDefault("redis_url", "")
	v.SetDefault("cache_dir", "./cache")
	v.SetDefault("cache_ttl", 24*time.Hour)
	v.SetDefault("fast_max_bytes", int64(5<<20))
	v.SetDefault("durable_max_bytes", int64(50<<20))
	v.SetDefault("sweep_interval", 5*time.Minute)

	v.SetDefault("convert_workers", 2)
	v.SetDefault("convert_timeout", 30*time.Second)

	v.SetDefault("set_concurrency", 4)
}

// Load reads configuration from an optional config file plus the
// environment. Environment variables use the STICKER_ prefix, e.g.
// STICKER_UPSTREAM_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STICKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("sticker-proxy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sticker-proxy")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.UpstreamToken == "" {
		return errors.New("config: upstream_token is required (STICKER_UPSTREAM_TOKEN)")
	}
	if c.CacheDir == "" {
		return errors.New("config: cache_dir is required")
	}
	if c.CacheTTL <= 0 {
		return errors.New("config: cache_ttl must be positive")
	}
	if c.BaseDelay <= 0 {
		return errors.New("config: base_delay must be positive")
	}
	if c.DurableMaxBytes <= 0 {
		return errors.New("config: durable_max_bytes must be positive")
	}
	return nil
}
