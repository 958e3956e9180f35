package waitroom

import (
	"context"
	"time"

	"waitroom/logger"
	"waitroom/tools/errs"

	"go.uber.org/zap"
)

// Broadcaster pushes fresh queue positions after the queue changed.
type Broadcaster interface {
	Broadcast(ctx context.Context, status Status) error
}

// QueueBroadcaster recomputes every position and pushes to every queued user
// on each call. It is O(n) per change; swap it for an incremental Broadcaster
// when rooms grow large.
type QueueBroadcaster struct {
	registry  Registry
	transport Transport
	settings  *Settings
	observer  Observer
}

func NewQueueBroadcaster(registry Registry, transport Transport, settings *Settings, observer Observer) *QueueBroadcaster {
	if observer == nil {
		observer = nopObserver{}
	}
	return &QueueBroadcaster{
		registry:  registry,
		transport: transport,
		settings:  settings,
		observer:  observer,
	}
}

func (b *QueueBroadcaster) Broadcast(ctx context.Context, status Status) error {
	start := time.Now()
	entries, err := b.registry.Snapshot(ctx)
	if err != nil {
		return errs.ErrStoreUnavailable.WrapMsg("queue snapshot", "err", err)
	}
	b.observer.QueueLength(len(entries))

	capacity := b.settings.Capacity()
	sent := 0
	for i, e := range entries {
		if e.SessionID == "" {
			// orphaned queue entry; the next removal or sweep heals it
			logger.Debug("[broadcast] skip user without session", zap.String("user", e.UserID))
			continue
		}
		update := QueueUpdate{Position: Position(i+1, capacity), Status: status}
		if err := b.transport.Deliver(ctx, e.SessionID, update); err != nil {
			logger.Debug("[broadcast] deliver failed",
				zap.String("user", e.UserID), zap.String("session", e.SessionID), zap.Error(err))
			continue
		}
		sent++
	}
	b.observer.Broadcast(sent, time.Since(start))
	return nil
}
