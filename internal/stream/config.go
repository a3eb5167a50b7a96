// Package stream moves files through a Redis Streams broker as chunked
// messages: producers split files into hashed chunks, consumer groups read
// them back, and stream processors reassemble completed files and hand them
// to a callback.
package stream

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// StartAt values for the consumer section.
const (
	StartAtBeginning = "beginning"
	StartAtLatest    = "latest"
)

// Config is the broker/producer/consumer configuration shared by every
// streaming command. It is loaded from a YAML file with one section per
// concern; unset keys keep their defaults.
type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Producer ProducerConfig `yaml:"producer"`
	Consumer ConsumerConfig `yaml:"consumer"`
}

// BrokerConfig locates the Redis broker.
type BrokerConfig struct {
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout" default:"5s"`
}

// ProducerConfig controls how files are split and published.
type ProducerConfig struct {
	// ChunkSize is the maximum chunk payload in bytes.
	ChunkSize int `yaml:"chunk_size" default:"524288"`
	// MaxStreamLen approximately caps the topic length (0 keeps everything).
	MaxStreamLen int64 `yaml:"max_stream_len"`
}

// ConsumerConfig controls consumer-group behavior.
type ConsumerConfig struct {
	GroupID   string        `yaml:"group_id" default:"htstream"`
	StartAt   string        `yaml:"start_at" default:"beginning"`
	BlockTime time.Duration `yaml:"block_time" default:"5s"`
	BatchSize int64         `yaml:"batch_size" default:"16"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// LoadConfig reads a YAML config file. Missing sections and keys fall back to
// defaults; path == "" returns the defaults outright.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Producer.ChunkSize <= 0 {
		return fmt.Errorf("producer chunk_size must be positive (%d given)", c.Producer.ChunkSize)
	}
	if c.Consumer.StartAt != StartAtBeginning && c.Consumer.StartAt != StartAtLatest {
		return fmt.Errorf("consumer start_at must be %q or %q (%q given)", StartAtBeginning, StartAtLatest, c.Consumer.StartAt)
	}
	if c.Consumer.BatchSize <= 0 {
		return fmt.Errorf("consumer batch_size must be positive (%d given)", c.Consumer.BatchSize)
	}
	return nil
}

// NewClient creates a Redis client for the broker section.
func (c *BrokerConfig) NewClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.Timeout,
		ReadTimeout:  -1, // blocking stream reads manage their own deadlines
		WriteTimeout: c.Timeout,
	})
}
