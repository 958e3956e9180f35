package storage

import (
	"context"
	"encoding/json"
	"time"

	"waitroom/module/waitroom"
	"waitroom/tools/errs"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultDebugLimit     = 100
	DefaultDebugRetention = 24 * time.Hour
)

// debugEntry is the stored form: float seconds like the heartbeat keys.
type debugEntry struct {
	Timestamp float64 `json:"timestamp"`
	Status    string  `json:"status"`
}

// RedisDebugLog keeps a rolling window of heartbeat records per user.
type RedisDebugLog struct {
	rdb       redis.UniversalClient
	keys      Keys
	limit     int64
	retention time.Duration
}

var _ waitroom.DebugLog = (*RedisDebugLog)(nil)

func NewRedisDebugLog(rdb redis.UniversalClient, prefix string, limit int, retention time.Duration) *RedisDebugLog {
	if limit <= 0 {
		limit = DefaultDebugLimit
	}
	if retention <= 0 {
		retention = DefaultDebugRetention
	}
	return &RedisDebugLog{rdb: rdb, keys: Keys{Prefix: prefix}, limit: int64(limit), retention: retention}
}

func (d *RedisDebugLog) Append(ctx context.Context, userID string, rec waitroom.HeartbeatRecord) error {
	b, err := json.Marshal(debugEntry{
		Timestamp: float64(rec.At.UnixMicro()) / 1e6,
		Status:    rec.Status,
	})
	if err != nil {
		return errs.WrapMsg(err, "marshal debug entry")
	}
	key := d.keys.Debug(userID)
	// LPUSH + LTRIM keeps the newest limit entries
	pipe := d.rdb.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, d.limit-1)
	pipe.Expire(ctx, key, d.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "append debug entry", "user", userID)
	}
	return nil
}

// List returns the entries oldest first.
func (d *RedisDebugLog) List(ctx context.Context, userID string) ([]waitroom.HeartbeatRecord, error) {
	vals, err := d.rdb.LRange(ctx, d.keys.Debug(userID), 0, -1).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "lrange debug", "user", userID)
	}
	out := make([]waitroom.HeartbeatRecord, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var e debugEntry
		if err := json.Unmarshal([]byte(vals[i]), &e); err != nil {
			continue
		}
		out = append(out, waitroom.HeartbeatRecord{
			At:     time.UnixMicro(int64(e.Timestamp*1e6 + 0.5)),
			Status: e.Status,
		})
	}
	return out, nil
}
