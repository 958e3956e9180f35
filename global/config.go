package global

import (
	"os"
	"strconv"
	"strings"
	"time"

	"waitroom/config"
	"waitroom/module/waitroom"
	"waitroom/service/kafka"
	"waitroom/service/natsx"
	"waitroom/service/storage"
	"waitroom/service/storage/redis"
	"waitroom/tools/errs"

	"gopkg.in/yaml.v3"
)

const envPrefix = "WAITROOM_"

type StoreConf struct {
	Driver         string        `yaml:"driver"` // redis | memory
	KeyPrefix      string        `yaml:"key_prefix"`
	DebugLimit     int           `yaml:"debug_limit"`
	DebugRetention time.Duration `yaml:"debug_retention"`
	Redis          redis.Config  `yaml:"redis"`
	PresenceTTL    time.Duration `yaml:"presence_ttl"`
}

type RelayConf struct {
	natsx.NatsxConfig `yaml:",inline"`
	Subject           string `yaml:"subject"`
}

type AppConfig struct {
	NodeID         string        `yaml:"node_id"`
	SnowNode       int64         `yaml:"snow_node"`
	HTTPAddr       string        `yaml:"http_addr"`
	LogLevel       string        `yaml:"log_level"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Capacity       int           `yaml:"admission_window"`
	Timeout        time.Duration `yaml:"timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`

	Store StoreConf          `yaml:"store"`
	Nats  RelayConf          `yaml:"nats"`
	Kafka kafka.Config       `yaml:"kafka"`
	Nacos config.NacosConfig `yaml:"nacos"`
}

func Default() AppConfig {
	return AppConfig{
		NodeID:        "waitroom-1",
		SnowNode:      1,
		HTTPAddr:      ":5000",
		LogLevel:      "info",
		Capacity:      waitroom.DefaultCapacity,
		Timeout:       waitroom.DefaultTimeout,
		SweepInterval: waitroom.DefaultSweepInterval,
		Store: StoreConf{
			Driver:     storage.DriverRedis,
			DebugLimit: 100,
			Redis:      redis.Config{Addr: "127.0.0.1:6379", PoolSize: 20},
		},
		Nats: RelayConf{Subject: "waitroom.relay"},
	}
}

// StoreConfig projects the store section onto the storage package.
func (c AppConfig) StoreConfig() storage.StoreConfig {
	return storage.StoreConfig{
		Driver:         c.Store.Driver,
		KeyPrefix:      c.Store.KeyPrefix,
		DebugLimit:     c.Store.DebugLimit,
		DebugRetention: c.Store.DebugRetention,
	}
}

// LoadConfig starts from Default, overlays the YAML file at path (skipped
// when path is empty) and then the WAITROOM_* environment.
func LoadConfig(path string) (AppConfig, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, errs.WrapMsg(err, "read config", "path", path)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, errs.ErrArgs.WrapMsg("parse config", "path", path, "err", err)
		}
	}
	if err := applyEnv(&c, os.LookupEnv); err != nil {
		return c, err
	}
	return c, c.validate()
}

func (c AppConfig) validate() error {
	if c.Capacity < 0 {
		return errs.ErrArgs.WrapMsg("admission_window must not be negative")
	}
	if c.Timeout <= 0 {
		return errs.ErrArgs.WrapMsg("timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return errs.ErrArgs.WrapMsg("sweep_interval must be positive")
	}
	switch strings.ToLower(c.Store.Driver) {
	case storage.DriverRedis, storage.DriverMemory, "":
	default:
		return errs.ErrArgs.WrapMsg("unknown store driver", "driver", c.Store.Driver)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(c *AppConfig, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = splitList(v)
		}
	}
	var firstErr error
	num := func(name string, dst *int) {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil && firstErr == nil {
			firstErr = errs.ErrArgs.WrapMsg("bad integer", "env", envPrefix+name, "value", v)
			return
		}
		*dst = n
	}
	dur := func(name string, dst *time.Duration) {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil && firstErr == nil {
			firstErr = errs.ErrArgs.WrapMsg("bad duration", "env", envPrefix+name, "value", v)
			return
		}
		*dst = d
	}

	str("NODE_ID", &c.NodeID)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("LOG_LEVEL", &c.LogLevel)
	list("ALLOWED_ORIGINS", &c.AllowedOrigins)
	num("ADMISSION_WINDOW", &c.Capacity)
	dur("TIMEOUT", &c.Timeout)
	dur("SWEEP_INTERVAL", &c.SweepInterval)

	str("STORE_DRIVER", &c.Store.Driver)
	str("KEY_PREFIX", &c.Store.KeyPrefix)
	num("DEBUG_LIMIT", &c.Store.DebugLimit)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	num("REDIS_DB", &c.Store.Redis.DB)
	num("REDIS_POOL_SIZE", &c.Store.Redis.PoolSize)

	list("NATS_SERVERS", &c.Nats.Servers)
	str("NATS_SUBJECT", &c.Nats.Subject)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	list("NACOS_SERVERS", &c.Nacos.Servers)
	str("NACOS_NAMESPACE", &c.Nacos.Namespace)
	str("NACOS_DATA_ID", &c.Nacos.DataID)
	str("NACOS_GROUP", &c.Nacos.Group)

	if v, ok := lookup(envPrefix + "SNOW_NODE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil && firstErr == nil {
			firstErr = errs.ErrArgs.WrapMsg("bad integer", "env", envPrefix+"SNOW_NODE", "value", v)
		} else if err == nil {
			c.SnowNode = n
		}
	}
	return firstErr
}

// parseDuration takes "20s" style or a bare number of seconds.
func parseDuration(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
