package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
symbols: [BTC-USD, ETH-USD]
tick_size: "0.01"
replay:
  max_sequence_gap: 50
analytics:
  bucket_width: 500ms
kafka:
  brokers: [localhost:9092]
  feed_topic: feed
websocket:
  url: wss://feed.example/ws
log:
  level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, cfg.Symbols)
	assert.Equal(t, "0.01", cfg.Tick().String())
	assert.EqualValues(t, 50, cfg.Replay.MaxSequenceGap)
	// untouched keys keep their defaults
	assert.Equal(t, 10000, cfg.Replay.BufferCapacity)
	assert.Equal(t, 500*time.Millisecond, cfg.Analytics.BucketWidth)
	assert.Equal(t, 50, cfg.Analytics.Buckets)

	sc := cfg.ServiceConfig()
	assert.EqualValues(t, 50, sc.Engine.MaxSequenceGap)
	assert.Equal(t, "0.01", sc.TickSize.String())
}

func TestEnvOverride(t *testing.T) {
	path := writeConfig(t, "symbols: [BTC-USD]\n")
	t.Setenv("LOBCORE_SYMBOLS", "SOL-USD, ADA-USD")
	t.Setenv("LOBCORE_REDIS_ADDR", "redis:6379")
	t.Setenv("LOBCORE_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SOL-USD", "ADA-USD"}, cfg.Symbols)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no symbols":     func(c *Config) { c.Symbols = nil },
		"bad tick":       func(c *Config) { c.TickSize = "abc" },
		"zero tick":      func(c *Config) { c.TickSize = "0" },
		"zero gap":       func(c *Config) { c.Replay.MaxSequenceGap = 0 },
		"topic no kafka": func(c *Config) { c.Kafka.FeedTopic = "feed" },
		"http ws url":    func(c *Config) { c.WebSocket.URL = "http://x" },
		"bad log level":  func(c *Config) { c.Log.Level = "loud" },
		"no wal dir":     func(c *Config) { c.WAL.Dir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Symbols = []string{"BTC-USD"}
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.AutoCreate = true
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExampleConfigIsValid(t *testing.T) {
	_, err := LoadConfig("../config.example.yaml")
	assert.NoError(t, err)
}
