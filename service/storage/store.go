package storage

import (
	"strings"
	"sync"
	"time"

	"waitroom/module/waitroom"
	"waitroom/service/storage/memory"
	"waitroom/tools/errs"

	"github.com/redis/go-redis/v9"
)

const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

type StoreConfig struct {
	Driver         string        // redis | memory
	KeyPrefix      string        // redis only
	DebugLimit     int           // entries kept per user
	DebugRetention time.Duration // redis only, idle debug lists expire after this
}

// Stores bundles the three backends the controller needs. Presence is nil
// for the memory driver: a single instance owns every socket.
type Stores struct {
	Registry   waitroom.Registry
	Heartbeats waitroom.HeartbeatTracker
	DebugLog   waitroom.DebugLog
	Presence   *RedisPresence
}

// NewStores builds the backends for conf.Driver. rdb is required for redis.
func NewStores(conf StoreConfig, rdb redis.UniversalClient) (*Stores, error) {
	switch strings.ToLower(conf.Driver) {
	case DriverMemory:
		return &Stores{
			Registry:   memory.NewRegistry(),
			Heartbeats: memory.NewHeartbeats(),
			DebugLog:   memory.NewDebugLog(conf.DebugLimit),
		}, nil
	case DriverRedis, "":
		if rdb == nil {
			return nil, errs.ErrStoreUnavailable.WrapMsg("redis driver selected without a client")
		}
		return &Stores{
			Registry:   NewRedisRegistry(rdb, conf.KeyPrefix),
			Heartbeats: NewRedisHeartbeats(rdb, conf.KeyPrefix),
			DebugLog:   NewRedisDebugLog(rdb, conf.KeyPrefix, conf.DebugLimit, conf.DebugRetention),
			Presence:   NewRedisPresence(rdb, conf.KeyPrefix),
		}, nil
	default:
		return nil, errs.ErrArgs.WrapMsg("unknown store driver", "driver", conf.Driver)
	}
}

// 全局单例
var (
	stores     *Stores
	storesOnce sync.Once
)

// InitStores builds the global Stores once; later calls return the same one.
func InitStores(conf StoreConfig, rdb redis.UniversalClient) (*Stores, error) {
	var err error
	storesOnce.Do(func() {
		stores, err = NewStores(conf, rdb)
	})
	if stores == nil {
		if err == nil {
			err = errs.New("stores initialization failed")
		}
		return nil, err
	}
	return stores, nil
}
