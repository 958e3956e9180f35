package memory

import (
	"context"

	"waitroom/module/waitroom"

	"github.com/puzpuzpuz/xsync/v4"
)

const DefaultDebugLimit = 100

// DebugLog keeps the most recent limit heartbeat records per user.
type DebugLog struct {
	limit int
	m     *xsync.Map[string, []waitroom.HeartbeatRecord]
}

var _ waitroom.DebugLog = (*DebugLog)(nil)

func NewDebugLog(limit int) *DebugLog {
	if limit <= 0 {
		limit = DefaultDebugLimit
	}
	return &DebugLog{limit: limit, m: xsync.NewMap[string, []waitroom.HeartbeatRecord]()}
}

func (d *DebugLog) Append(_ context.Context, userID string, rec waitroom.HeartbeatRecord) error {
	d.m.Compute(userID, func(old []waitroom.HeartbeatRecord, _ bool) ([]waitroom.HeartbeatRecord, xsync.ComputeOp) {
		start := 0
		if len(old) >= d.limit {
			start = len(old) - d.limit + 1
		}
		next := make([]waitroom.HeartbeatRecord, 0, len(old)-start+1)
		next = append(next, old[start:]...)
		next = append(next, rec)
		return next, xsync.UpdateOp
	})
	return nil
}

func (d *DebugLog) List(_ context.Context, userID string) ([]waitroom.HeartbeatRecord, error) {
	recs, _ := d.m.Load(userID)
	out := make([]waitroom.HeartbeatRecord, len(recs))
	copy(out, recs)
	return out, nil
}
