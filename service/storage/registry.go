package storage

import (
	"context"

	"waitroom/module/waitroom"
	"waitroom/tools/errs"

	"github.com/redis/go-redis/v9"
)

// ===== Lua scripts =====
// All registry scripts take the same keys:
// KEYS[1] = user_mapping hash (fields user:<uid> / session:<sid>)
// KEYS[2] = connected_users set
// KEYS[3] = user_queue list

// ARGV[1] = userId, ARGV[2] = sessionId
// returns 1 ok; -1 user already mapped; -2 session bound to another user
const luaRegister = `
local ufield = "user:" .. ARGV[1]
local sfield = "session:" .. ARGV[2]
if redis.call("HEXISTS", KEYS[1], ufield) == 1 then
  return -1
end
local owner = redis.call("HGET", KEYS[1], sfield)
if owner and owner ~= ARGV[1] then
  return -2
end
redis.call("HSET", KEYS[1], ufield, ARGV[2], sfield, ARGV[1])
if redis.call("SADD", KEYS[2], ARGV[1]) == 1 then
  redis.call("RPUSH", KEYS[3], ARGV[1])
end
return 1
`

// ARGV[1] = sessionId
// returns {userId, removed(0/1)}
const luaRemoveSession = `
local sfield = "session:" .. ARGV[1]
local uid = redis.call("HGET", KEYS[1], sfield)
if not uid then
  return {"", 0}
end
redis.call("HDEL", KEYS[1], sfield)
local ufield = "user:" .. uid
if redis.call("HGET", KEYS[1], ufield) == ARGV[1] then
  redis.call("HDEL", KEYS[1], ufield)
  redis.call("LREM", KEYS[3], 0, uid)
  redis.call("SREM", KEYS[2], uid)
end
return {uid, 1}
`

// ARGV[1] = userId
// returns {sessionId, removed(0/1)}; an orphaned queue entry alone counts as removed
const luaRemoveUser = `
local ufield = "user:" .. ARGV[1]
local dq = redis.call("SREM", KEYS[2], ARGV[1])
redis.call("LREM", KEYS[3], 0, ARGV[1])
local sid = redis.call("HGET", KEYS[1], ufield)
if not sid then
  return {"", dq}
end
redis.call("HDEL", KEYS[1], ufield)
local sfield = "session:" .. sid
if redis.call("HGET", KEYS[1], sfield) == ARGV[1] then
  redis.call("HDEL", KEYS[1], sfield)
end
return {sid, 1}
`

// returns flat {uid1, sid1, uid2, sid2, ...}; sid is "" when unmapped
const luaSnapshot = `
local q = redis.call("LRANGE", KEYS[3], 0, -1)
local out = {}
for i, uid in ipairs(q) do
  local sid = redis.call("HGET", KEYS[1], "user:" .. uid)
  out[2*i-1] = uid
  out[2*i] = sid or ""
end
return out
`

var (
	scriptRegister      = redis.NewScript(luaRegister)
	scriptRemoveSession = redis.NewScript(luaRemoveSession)
	scriptRemoveUser    = redis.NewScript(luaRemoveUser)
	scriptSnapshot      = redis.NewScript(luaSnapshot)
)

// RedisRegistry keeps the mapping and the queue in Redis so several gateway
// instances share one queue. Each mutation is a single script.
type RedisRegistry struct {
	rdb  redis.UniversalClient
	keys Keys
}

var _ waitroom.Registry = (*RedisRegistry)(nil)

func NewRedisRegistry(rdb redis.UniversalClient, prefix string) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, keys: Keys{Prefix: prefix}}
}

func (r *RedisRegistry) scriptKeys() []string {
	return []string{r.keys.Mapping(), r.keys.Connected(), r.keys.Queue()}
}

func (r *RedisRegistry) RegisterSession(ctx context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return errs.ErrArgs.WrapMsg("empty user or session id")
	}
	res, err := scriptRegister.Run(ctx, r.rdb, r.scriptKeys(), userID, sessionID).Int()
	if err != nil {
		return errs.WrapMsg(err, "register script", "user", userID, "session", sessionID)
	}
	switch res {
	case -1:
		return errs.ErrDuplicateRegistration.WrapMsg("user already has a live session", "user", userID)
	case -2:
		return errs.ErrDuplicateRegistration.WrapMsg("session already bound", "session", sessionID)
	}
	return nil
}

func (r *RedisRegistry) SessionForUser(ctx context.Context, userID string) (string, bool, error) {
	return r.hget(ctx, "user:"+userID)
}

func (r *RedisRegistry) UserForSession(ctx context.Context, sessionID string) (string, bool, error) {
	return r.hget(ctx, "session:"+sessionID)
}

func (r *RedisRegistry) hget(ctx context.Context, field string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, r.keys.Mapping(), field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.WrapMsg(err, "hget mapping", "field", field)
	}
	return v, true, nil
}

func (r *RedisRegistry) RemoveUser(ctx context.Context, userID string) (string, bool, error) {
	vals, err := scriptRemoveUser.Run(ctx, r.rdb, r.scriptKeys(), userID).Slice()
	if err != nil {
		return "", false, errs.WrapMsg(err, "remove user script", "user", userID)
	}
	return pairResult(vals)
}

func (r *RedisRegistry) RemoveSession(ctx context.Context, sessionID string) (string, bool, error) {
	vals, err := scriptRemoveSession.Run(ctx, r.rdb, r.scriptKeys(), sessionID).Slice()
	if err != nil {
		return "", false, errs.WrapMsg(err, "remove session script", "session", sessionID)
	}
	return pairResult(vals)
}

func (r *RedisRegistry) ListQueue(ctx context.Context) ([]string, error) {
	q, err := r.rdb.LRange(ctx, r.keys.Queue(), 0, -1).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "lrange queue")
	}
	return q, nil
}

func (r *RedisRegistry) Snapshot(ctx context.Context) ([]waitroom.QueueEntry, error) {
	vals, err := scriptSnapshot.Run(ctx, r.rdb, r.scriptKeys()).Slice()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "snapshot script")
	}
	out := make([]waitroom.QueueEntry, 0, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		uid, _ := vals[i].(string)
		sid, _ := vals[i+1].(string)
		out = append(out, waitroom.QueueEntry{UserID: uid, SessionID: sid})
	}
	return out, nil
}

func pairResult(vals []any) (string, bool, error) {
	if len(vals) != 2 {
		return "", false, errs.New("unexpected script reply", "len", len(vals))
	}
	id, _ := vals[0].(string)
	n, _ := vals[1].(int64)
	return id, n == 1, nil
}
