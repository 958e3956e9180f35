package memory

import (
	"context"
	"time"

	"waitroom/module/waitroom"

	"github.com/puzpuzpuz/xsync/v4"
)

// Heartbeats is a per-process tracker; each key is updated atomically, no
// cross-key lock exists. Only valid for single-instance deployments.
type Heartbeats struct {
	m *xsync.Map[string, time.Time]
}

var _ waitroom.HeartbeatTracker = (*Heartbeats)(nil)

func NewHeartbeats() *Heartbeats {
	return &Heartbeats{m: xsync.NewMap[string, time.Time]()}
}

func (h *Heartbeats) Touch(_ context.Context, sessionID string, now time.Time) error {
	h.m.Compute(sessionID, func(old time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
		if loaded && !now.After(old) {
			return old, xsync.CancelOp
		}
		return now, xsync.UpdateOp
	})
	return nil
}

func (h *Heartbeats) LastAlive(_ context.Context, sessionID string) (time.Time, bool, error) {
	t, ok := h.m.Load(sessionID)
	return t, ok, nil
}

func (h *Heartbeats) Sessions(_ context.Context) ([]string, error) {
	out := make([]string, 0, h.m.Size())
	h.m.Range(func(sid string, _ time.Time) bool {
		out = append(out, sid)
		return true
	})
	return out, nil
}

func (h *Heartbeats) Expired(_ context.Context, sessionIDs []string, threshold time.Duration, now time.Time) ([]string, error) {
	var out []string
	for _, sid := range sessionIDs {
		last, ok := h.m.Load(sid)
		if !ok || now.Sub(last) > threshold {
			out = append(out, sid)
		}
	}
	return out, nil
}

func (h *Heartbeats) Delete(_ context.Context, sessionID string) error {
	h.m.Delete(sessionID)
	return nil
}
