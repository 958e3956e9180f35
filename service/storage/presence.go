package storage

import (
	"context"
	"time"

	"waitroom/tools/errs"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisPresence records which gateway instance holds a session's socket.
// presence key: <prefix>presence:<sid>, value: gateway id, TTL bounds staleness.
type RedisPresence struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisPresence(rdb redis.UniversalClient, prefix string) *RedisPresence {
	return &RedisPresence{rdb: rdb, prefix: prefix}
}

func (p *RedisPresence) key(sid string) string { return p.prefix + "presence:" + sid }

// SetOwner marks the session as held by gatewayID and renews the TTL.
func (p *RedisPresence) SetOwner(ctx context.Context, sessionID, gatewayID string, ttl time.Duration) error {
	if err := p.rdb.Set(ctx, p.key(sessionID), gatewayID, ttl).Err(); err != nil {
		return errs.WrapMsg(err, "set presence", "session", sessionID)
	}
	return nil
}

func (p *RedisPresence) Clear(ctx context.Context, sessionID string) error {
	if err := p.rdb.Del(ctx, p.key(sessionID)).Err(); err != nil {
		return errs.WrapMsg(err, "del presence", "session", sessionID)
	}
	return nil
}

// Owner looks up the gateway currently holding the session.
func (p *RedisPresence) Owner(ctx context.Context, sessionID string) (string, bool, error) {
	val, err := p.rdb.Get(ctx, p.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.WrapMsg(err, "get presence", "session", sessionID)
	}
	return val, true, nil
}
