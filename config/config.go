// Package config loads the YAML process configuration and applies
// LOBCORE_* environment overrides.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"lobcore/domain/analytics"
	"lobcore/domain/orderbook"
	"lobcore/service"
)

const envPrefix = "LOBCORE_"

// Config holds every setting of the server.
type Config struct {
	Symbols    []string `yaml:"symbols"`
	AutoCreate bool     `yaml:"auto_create"`
	// TickSize is the quote price of one integer tick.
	TickSize string `yaml:"tick_size"`

	Replay struct {
		MaxSequenceGap   uint64 `yaml:"max_sequence_gap"`
		BufferCapacity   int    `yaml:"buffer_capacity"`
		SnapshotCapacity int    `yaml:"snapshot_capacity"`
		SnapshotEvery    uint64 `yaml:"snapshot_every"`
		ChecksumDepth    int    `yaml:"checksum_depth"`
	} `yaml:"replay"`

	Analytics struct {
		BucketWidth       time.Duration `yaml:"bucket_width"`
		Buckets           int           `yaml:"buckets"`
		LambdaCap         float64       `yaml:"lambda_cap"`
		InformedThreshold float64       `yaml:"informed_threshold"`
	} `yaml:"analytics"`

	WAL struct {
		Dir             string        `yaml:"dir"`
		SegmentSize     int64         `yaml:"segment_size"`
		SegmentDuration time.Duration `yaml:"segment_duration"`
		SyncEveryWrite  bool          `yaml:"sync_every_write"`
	} `yaml:"wal"`

	Store struct {
		Dir      string        `yaml:"dir"`
		Keep     int           `yaml:"keep"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"store"`

	Kafka struct {
		Brokers         []string `yaml:"brokers"`
		FeedTopic       string   `yaml:"feed_topic"`
		GroupID         string   `yaml:"group_id"`
		RecoveryTopic   string   `yaml:"recovery_topic"`
		MarketDataTopic string   `yaml:"marketdata_topic"`
	} `yaml:"kafka"`

	WebSocket struct {
		URL string `yaml:"url"`
	} `yaml:"websocket"`

	Redis struct {
		Addr string        `yaml:"addr"`
		TTL  time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	GRPC struct {
		Addr string `yaml:"addr"`
	} `yaml:"grpc"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Broadcast struct {
		Interval time.Duration `yaml:"interval"`
		Depth    int           `yaml:"depth"`
	} `yaml:"broadcast"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Default returns a config that runs a single-node server with local
// storage and no external transports.
func Default() *Config {
	var c Config
	c.TickSize = "1"

	c.Replay.MaxSequenceGap = service.DefaultMaxSequenceGap
	c.Replay.BufferCapacity = service.DefaultBufferCapacity
	c.Replay.SnapshotCapacity = 16
	c.Replay.SnapshotEvery = 1000
	c.Replay.ChecksumDepth = orderbook.DefaultChecksumDepth

	a := analytics.DefaultConfig()
	c.Analytics.BucketWidth = a.BucketWidth
	c.Analytics.Buckets = a.Buckets
	c.Analytics.LambdaCap = a.LambdaCap
	c.Analytics.InformedThreshold = a.InformedThreshold

	c.WAL.Dir = "data/wal"
	c.WAL.SegmentSize = 64 << 20
	c.Store.Dir = "data/snapshots"
	c.Store.Keep = 4
	c.Store.Interval = 30 * time.Second

	c.Kafka.GroupID = "lobcore"
	c.Redis.TTL = time.Minute
	c.GRPC.Addr = ":50051"
	c.Metrics.Addr = ":9090"
	c.Broadcast.Interval = 250 * time.Millisecond
	c.Broadcast.Depth = 10
	c.Log.Level = "info"
	return &c
}

// LoadConfig reads path over the defaults. An empty path uses defaults
// and environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func overrideWithEnv(c *Config) {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = splitList(v)
		}
	}

	list("SYMBOLS", &c.Symbols)
	str("TICK_SIZE", &c.TickSize)
	str("WAL_DIR", &c.WAL.Dir)
	str("STORE_DIR", &c.Store.Dir)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_FEED_TOPIC", &c.Kafka.FeedTopic)
	str("WS_URL", &c.WebSocket.URL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("GRPC_ADDR", &c.GRPC.Addr)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("LOG_LEVEL", &c.Log.Level)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 && !c.AutoCreate {
		return errors.New("at least one symbol is required unless auto_create is set")
	}
	tick, err := decimal.NewFromString(c.TickSize)
	if err != nil {
		return errors.Wrapf(err, "tick_size %q", c.TickSize)
	}
	if !tick.IsPositive() {
		return errors.Newf("tick_size must be positive, got %s", c.TickSize)
	}

	if c.Replay.MaxSequenceGap == 0 || c.Replay.BufferCapacity <= 0 {
		return errors.New("replay max_sequence_gap and buffer_capacity must be positive")
	}
	if c.Replay.ChecksumDepth <= 0 {
		return errors.New("replay checksum_depth must be positive")
	}
	if c.WAL.Dir == "" || c.Store.Dir == "" {
		return errors.New("wal.dir and store.dir are required")
	}

	if c.Kafka.FeedTopic != "" && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.feed_topic needs kafka.brokers")
	}
	if (c.Kafka.RecoveryTopic != "" || c.Kafka.MarketDataTopic != "") && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka topics need kafka.brokers")
	}
	if u := c.WebSocket.URL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return errors.Newf("invalid websocket url: %s", u)
	}
	if c.Broadcast.Interval <= 0 {
		return errors.New("broadcast interval must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(err, "log level %q", c.Log.Level)
	}
	return nil
}

// Tick returns the parsed tick size. Call after Validate.
func (c *Config) Tick() decimal.Decimal {
	return decimal.RequireFromString(c.TickSize)
}

func (c *Config) EngineConfig() service.EngineConfig {
	return service.EngineConfig{
		MaxSequenceGap:   c.Replay.MaxSequenceGap,
		BufferCapacity:   c.Replay.BufferCapacity,
		SnapshotCapacity: c.Replay.SnapshotCapacity,
		SnapshotEvery:    c.Replay.SnapshotEvery,
		ChecksumDepth:    c.Replay.ChecksumDepth,
	}
}

func (c *Config) AnalyticsConfig() analytics.Config {
	return analytics.Config{
		BucketWidth:       c.Analytics.BucketWidth,
		Buckets:           c.Analytics.Buckets,
		LambdaCap:         c.Analytics.LambdaCap,
		InformedThreshold: c.Analytics.InformedThreshold,
	}
}

func (c *Config) ServiceConfig() service.ServiceConfig {
	return service.ServiceConfig{
		Symbols:    c.Symbols,
		AutoCreate: c.AutoCreate,
		Engine:     c.EngineConfig(),
		Analytics:  c.AnalyticsConfig(),
		TickSize:   c.Tick(),
	}
}
