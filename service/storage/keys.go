package storage

import "strings"

// Keys builds every Redis key under one prefix. On a cluster the prefix
// should carry a hash tag (e.g. "{wr}:") so the scripts touch one slot.
type Keys struct {
	Prefix string
}

func (k Keys) Mapping() string { return k.Prefix + "user_mapping" }
func (k Keys) Queue() string { return k.Prefix + "user_queue" }
func (k Keys) Connected() string { return k.Prefix + "connected_users" }
func (k Keys) Heartbeat(sid string) string { return k.Prefix + "heartbeat:" + sid }
func (k Keys) HeartbeatPattern() string { return k.Prefix + "heartbeat:*" }
func (k Keys) Debug(uid string) string { return k.Prefix + "debug_heartbeats:" + uid }

// SessionFromHeartbeat strips the heartbeat key down to the session id.
func (k Keys) SessionFromHeartbeat(key string) (string, bool) {
	p := k.Prefix + "heartbeat:"
	if !strings.HasPrefix(key, p) {
		return "", false
	}
	return key[len(p):], true
}
