package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

// Config drives the lifecycle event producer. Empty Brokers disables it.
type Config struct {
	Brokers             []string `yaml:"brokers"`
	Topic               string   `yaml:"topic"`
	Partitions          int32    `yaml:"partitions"`
	ReplicationFactor   int16    `yaml:"replication_factor"`
	ProducerRetries     int      `yaml:"producer_retries"`
	ProducerCompression string   `yaml:"producer_compression"` // none/snappy/lz4/zstd
	EnsureTopic         bool     `yaml:"ensure_topic"`
}

func (c *Config) norm() {
	if c.Topic == "" {
		c.Topic = "waitroom.session-events"
	}
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 3
	}
}

func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.ProducerRetries
	// 按 key(user id) 分区，同一用户的事件保持有序
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
