package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
database:
  dsn: "postgres://localhost/candles"
`)

	cfg, err := NewConfigLoader().LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9100 {
		t.Fatalf("server defaults: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Exchange.Type != "okx" || cfg.Exchange.MaxRetries != 3 {
		t.Fatalf("exchange defaults: %+v", cfg.Exchange)
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTLDefault.Std() != 600*time.Second {
		t.Fatalf("cache defaults: %+v", cfg.Cache)
	}
	if cfg.Retention.RetainDays != 30 || cfg.Retention.RunAt != "02:00" {
		t.Fatalf("retention defaults: %+v", cfg.Retention)
	}
	if cfg.Historical.CompletenessThreshold != 0.95 || cfg.Historical.RelaxedCompletenessThreshold != 0.80 {
		t.Fatalf("historical defaults: %+v", cfg.Historical)
	}
	if cfg.Historical.ChunkSize.Std() != 24*time.Hour {
		t.Fatalf("chunk size default: %s", cfg.Historical.ChunkSize.Std())
	}
	if len(cfg.WatchPairs) != 2 || cfg.WatchPairs[0] != "BTC-USDT" {
		t.Fatalf("watch pair defaults: %v", cfg.WatchPairs)
	}
}

func TestLoadConfigHonorsExplicitValues(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 8080
cache:
  enabled: false
  ttl_default: 120s
retention:
  retain_days: 7
  run_at: "03:30"
watch_pairs:
  - SOL-USDT
`)

	cfg, err := NewConfigLoader().LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("port=%d", cfg.Server.Port)
	}
	if cfg.Cache.Enabled {
		t.Fatal("cache should stay disabled when the block opts out")
	}
	if cfg.Retention.RetainDays != 7 || cfg.Retention.RunAt != "03:30" {
		t.Fatalf("retention: %+v", cfg.Retention)
	}
	if len(cfg.WatchPairs) != 1 || cfg.WatchPairs[0] != "SOL-USDT" {
		t.Fatalf("watch pairs: %v", cfg.WatchPairs)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := NewConfigLoader().LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRedisAddress(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	applyDefaults(cfg)
	if got := cfg.RedisAddress(); got != "localhost:6379" {
		t.Fatalf("RedisAddress()=%q", got)
	}
}
