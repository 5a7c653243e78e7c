package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigLoader reads and defaults the YAML configuration file.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// LoadConfig reads filename, unmarshals it, and fills in defaults for
// every field the original Python config.py falls back on: exchange
// type "okx", host 0.0.0.0, port 9100, cache on with 600s TTL, 3 retries.
func (cl *ConfigLoader) LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)

	// cache.enabled is on unless the file sets it explicitly.
	var explicit struct {
		Cache struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"cache"`
	}
	if err := yaml.Unmarshal(data, &explicit); err == nil {
		config.Cache.Enabled = explicit.Cache.Enabled == nil || *explicit.Cache.Enabled
	}
	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 9100
	}

	if config.Exchange.Type == "" {
		config.Exchange.Type = "okx"
	}
	if config.Exchange.MaxRetries == 0 {
		config.Exchange.MaxRetries = 3
	}

	if config.Database.MaxOpenConns == 0 {
		config.Database.MaxOpenConns = 25
	}
	if config.Database.MaxIdleConns == 0 {
		config.Database.MaxIdleConns = 5
	}
	if config.Database.ConnMaxLifetime == 0 {
		config.Database.ConnMaxLifetime = Duration(5 * time.Minute)
	}
	if config.Database.ConnMaxIdleTime == 0 {
		config.Database.ConnMaxIdleTime = Duration(time.Minute)
	}
	if config.Database.RetryAttempts == 0 {
		config.Database.RetryAttempts = 3
	}
	if config.Database.RetryDelay == 0 {
		config.Database.RetryDelay = Duration(time.Second)
	}

	if config.Redis.Host == "" {
		config.Redis.Host = "localhost"
	}
	if config.Redis.Port == 0 {
		config.Redis.Port = 6379
	}
	if config.Redis.PoolSize == 0 {
		config.Redis.PoolSize = 10
	}

	// An all-zero cache block is left enabled. The struct carries no
	// "present but false" signal, so LoadConfig applies an explicit
	// cache.enabled from the file afterwards.
	if config.Cache == (CacheConfig{}) {
		config.Cache.Enabled = true
	}
	if config.Cache.TTL1m == 0 {
		config.Cache.TTL1m = Duration(30 * time.Second)
	}
	if config.Cache.TTL5m == 0 {
		config.Cache.TTL5m = Duration(time.Minute)
	}
	if config.Cache.TTLDefault == 0 {
		config.Cache.TTLDefault = Duration(600 * time.Second)
	}

	if config.Retention.RetainDays == 0 {
		config.Retention.RetainDays = 30
	}
	if config.Retention.RunAt == "" {
		config.Retention.RunAt = "02:00"
	}
	if config.Retention.Timezone == "" {
		config.Retention.Timezone = "Local"
	}

	if config.Historical.CompletenessThreshold == 0 {
		config.Historical.CompletenessThreshold = 0.95
	}
	if config.Historical.RelaxedCompletenessThreshold == 0 {
		config.Historical.RelaxedCompletenessThreshold = 0.80
	}
	if config.Historical.RelaxedTailGapRatio == 0 {
		config.Historical.RelaxedTailGapRatio = 0.10
	}
	if config.Historical.DefaultLimit == 0 {
		config.Historical.DefaultLimit = 100
	}
	if config.Historical.ChunkSize == 0 {
		config.Historical.ChunkSize = Duration(24 * time.Hour)
	}

	if config.Monitoring.PrometheusPort == 0 {
		config.Monitoring.PrometheusPort = 9101
	}

	if len(config.WatchPairs) == 0 {
		config.WatchPairs = []string{"BTC-USDT", "ETH-USDT"}
	}
}

// RedisAddress returns the "host:port" form go-redis expects.
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
