package storage

import (
	"context"
	"math"
	"strconv"
	"time"

	"waitroom/module/waitroom"
	"waitroom/tools/errs"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] = heartbeat:<sid>
// ARGV[1] = now as float seconds
// returns 1 when stored, 0 when the existing record is newer
const luaTouch = `
local cur = redis.call("GET", KEYS[1])
if cur and tonumber(cur) and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`

var scriptTouch = redis.NewScript(luaTouch)

const scanCount = 500

// RedisHeartbeats stores one key per session holding the last-alive time in
// float seconds. Records carry no TTL; the sweeper owns their removal.
type RedisHeartbeats struct {
	rdb  redis.UniversalClient
	keys Keys
}

var _ waitroom.HeartbeatTracker = (*RedisHeartbeats)(nil)

func NewRedisHeartbeats(rdb redis.UniversalClient, prefix string) *RedisHeartbeats {
	return &RedisHeartbeats{rdb: rdb, keys: Keys{Prefix: prefix}}
}

func (h *RedisHeartbeats) Touch(ctx context.Context, sessionID string, now time.Time) error {
	if err := scriptTouch.Run(ctx, h.rdb, []string{h.keys.Heartbeat(sessionID)}, formatSeconds(now)).Err(); err != nil {
		return errs.WrapMsg(err, "touch heartbeat", "session", sessionID)
	}
	return nil
}

func (h *RedisHeartbeats) LastAlive(ctx context.Context, sessionID string) (time.Time, bool, error) {
	v, err := h.rdb.Get(ctx, h.keys.Heartbeat(sessionID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errs.WrapMsg(err, "get heartbeat", "session", sessionID)
	}
	t, ok := parseSeconds(v)
	return t, ok, nil
}

func (h *RedisHeartbeats) Sessions(ctx context.Context) ([]string, error) {
	var out []string
	iter := h.rdb.Scan(ctx, 0, h.keys.HeartbeatPattern(), scanCount).Iterator()
	for iter.Next(ctx) {
		if sid, ok := h.keys.SessionFromHeartbeat(iter.Val()); ok {
			out = append(out, sid)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errs.WrapMsg(err, "scan heartbeats")
	}
	return out, nil
}

func (h *RedisHeartbeats) Expired(ctx context.Context, sessionIDs []string, threshold time.Duration, now time.Time) ([]string, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(sessionIDs))
	for i, sid := range sessionIDs {
		keys[i] = h.keys.Heartbeat(sid)
	}
	vals, err := h.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "mget heartbeats", "count", len(keys))
	}
	var out []string
	for i, v := range vals {
		s, _ := v.(string)
		last, ok := parseSeconds(s)
		if !ok || now.Sub(last) > threshold {
			out = append(out, sessionIDs[i])
		}
	}
	return out, nil
}

func (h *RedisHeartbeats) Delete(ctx context.Context, sessionID string) error {
	if err := h.rdb.Del(ctx, h.keys.Heartbeat(sessionID)).Err(); err != nil {
		return errs.WrapMsg(err, "del heartbeat", "session", sessionID)
	}
	return nil
}

func formatSeconds(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

func parseSeconds(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMicro(int64(math.Round(f * 1e6))), true
}
