package redis

import (
	"context"
	"sync"
	"time"

	"waitroom/tools/errs"

	"github.com/redis/go-redis/v9"
)

var (
	redisOnce sync.Once
	redisMgr  *RedisManager
)

type RedisManager struct {
	client *redis.Client
}

// Config 用于初始化 Redis
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// InitRedis 全局单例 + once，创建后立即 ping
func InitRedis(c Config) error {
	var initErr error
	redisOnce.Do(func() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
			PoolSize: c.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			initErr = errs.WrapMsg(err, "redis ping failed", "addr", c.Addr)
			return
		}

		redisMgr = &RedisManager{client: rdb}
	})
	return initErr
}

// GetRedis returns the shared client, or ErrStoreUnavailable before InitRedis
// succeeded.
func GetRedis() (*redis.Client, error) {
	if redisMgr == nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("redis not initialized")
	}
	return redisMgr.client, nil
}

func CloseRedis() error {
	if redisMgr != nil && redisMgr.client != nil {
		return redisMgr.client.Close()
	}
	return nil
}
