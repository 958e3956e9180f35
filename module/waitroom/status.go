package waitroom

import (
	"context"
	"time"

	"waitroom/tools/errs"
)

// HeartbeatLayout renders timestamps on the introspection endpoints,
// e.g. "15 October 2026 14:03:07.123".
const HeartbeatLayout = "02 January 2006 15:04:05.000"

const notAvailable = "N/A"

type UserStatus struct {
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id"`
	LastHeartbeat string `json:"last_heartbeat"`
	QueuePosition int    `json:"queue_position"`
}

type SessionActivity struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Active    bool   `json:"active"`
}

type QueueStatus struct {
	InQueue  bool `json:"in_queue"`
	Position *int `json:"position,omitempty"`
}

type DebugHeartbeat struct {
	Timestamp          float64 `json:"timestamp"`
	FormattedTimestamp string  `json:"formatted_timestamp"`
	Status             string  `json:"status"`
}

// StatusReport lists every queued user with its session, last heartbeat and
// derived position.
func (c *Controller) StatusReport(ctx context.Context) ([]UserStatus, error) {
	entries, err := c.conf.Registry.Snapshot(ctx)
	if err != nil {
		return nil, storeErr("snapshot", err)
	}
	capacity := c.conf.Settings.Capacity()
	out := make([]UserStatus, 0, len(entries))
	for i, e := range entries {
		st := UserStatus{
			UserID:        e.UserID,
			SessionID:     notAvailable,
			LastHeartbeat: notAvailable,
			QueuePosition: Position(i+1, capacity),
		}
		if e.SessionID != "" {
			st.SessionID = e.SessionID
			last, ok, err := c.conf.Heartbeats.LastAlive(ctx, e.SessionID)
			if err != nil {
				return nil, storeErr("last alive", err)
			}
			if ok {
				st.LastHeartbeat = last.Local().Format(HeartbeatLayout)
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// SessionActive reports whether the user's session heartbeat is within the
// timeout. It does not evict anything.
func (c *Controller) SessionActive(ctx context.Context, userID string) (SessionActivity, error) {
	res := SessionActivity{UserID: userID, SessionID: notAvailable}
	sid, ok, err := c.conf.Registry.SessionForUser(ctx, userID)
	if err != nil {
		return res, storeErr("session for user", err)
	}
	if !ok {
		return res, nil
	}
	res.SessionID = sid
	last, ok, err := c.conf.Heartbeats.LastAlive(ctx, sid)
	if err != nil {
		return res, storeErr("last alive", err)
	}
	res.Active = ok && c.conf.Clock().Sub(last) <= c.conf.Settings.Timeout()
	return res, nil
}

// QueueStatus reports the current position of the user behind sessionID.
func (c *Controller) QueueStatus(ctx context.Context, sessionID string) (QueueStatus, error) {
	userID, ok, err := c.conf.Registry.UserForSession(ctx, sessionID)
	if err != nil {
		return QueueStatus{}, storeErr("user for session", err)
	}
	if !ok {
		return QueueStatus{}, nil
	}
	queue, err := c.conf.Registry.ListQueue(ctx)
	if err != nil {
		return QueueStatus{}, storeErr("list queue", err)
	}
	for i, uid := range queue {
		if uid == userID {
			pos := c.conf.Settings.Position(i + 1)
			return QueueStatus{InQueue: true, Position: &pos}, nil
		}
	}
	return QueueStatus{}, nil
}

// DebugHeartbeats returns the user's recorded heartbeats, oldest first.
func (c *Controller) DebugHeartbeats(ctx context.Context, userID string) ([]DebugHeartbeat, error) {
	if userID == "" {
		return nil, errs.ErrArgs.WrapMsg("user id not provided")
	}
	recs, err := c.conf.DebugLog.List(ctx, userID)
	if err != nil {
		return nil, storeErr("debug log", err)
	}
	out := make([]DebugHeartbeat, 0, len(recs))
	for _, r := range recs {
		out = append(out, DebugHeartbeat{
			Timestamp:          float64(r.At.UnixMicro()) / float64(time.Second/time.Microsecond),
			FormattedTimestamp: r.At.Local().Format(HeartbeatLayout),
			Status:             r.Status,
		})
	}
	return out, nil
}
