package waitroom

import (
	"context"
	"errors"
	"strings"
	"time"

	"waitroom/logger"
	"waitroom/tools/errs"

	"go.uber.org/zap"
)

const RejectMessage = "Multiple connections are not allowed."

// ===== Config =====

type ControllerConf struct {
	Registry    Registry
	Heartbeats  HeartbeatTracker
	Transport   Transport
	Settings    *Settings
	DebugLog    DebugLog    // nil => disabled
	Broadcaster Broadcaster // nil => QueueBroadcaster
	Events      EventSink   // nil => disabled
	Observer    Observer    // nil => disabled
	Clock       func() time.Time
}

func (c *ControllerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Settings == nil {
		c.Settings = NewSettings(DefaultCapacity, DefaultTimeout)
	}
	if c.DebugLog == nil {
		c.DebugLog = nopDebugLog{}
	}
	if c.Events == nil {
		c.Events = nopSink{}
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	if c.Broadcaster == nil {
		c.Broadcaster = NewQueueBroadcaster(c.Registry, c.Transport, c.Settings, c.Observer)
	}
}

// Controller drives a session through
// connect -> register -> (active | waiting) -> disconnected | expired.
// Every method is safe to call concurrently; consistency comes from the
// atomic Registry operations, not from a lock in here.
type Controller struct {
	conf ControllerConf
}

func NewController(conf ControllerConf) (*Controller, error) {
	if conf.Registry == nil || conf.Heartbeats == nil || conf.Transport == nil {
		return nil, errs.ErrArgs.WrapMsg("registry, heartbeats and transport are required")
	}
	conf.norm()
	return &Controller{conf: conf}, nil
}

func (c *Controller) Settings() *Settings { return c.conf.Settings }

// Connect opens the heartbeat record of a fresh session; no user yet.
func (c *Controller) Connect(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errs.ErrArgs.WrapMsg("empty session id")
	}
	if err := c.conf.Heartbeats.Touch(ctx, sessionID, c.conf.Clock()); err != nil {
		logger.Warn("[lifecycle] connect touch failed", zap.String("session", sessionID), zap.Error(err))
		return storeErr("touch", err)
	}
	return nil
}

// Register binds userID to sessionID and enqueues the user. A user that
// already owns a live session is rejected: the new session gets an error
// message and is closed, the existing mapping stays untouched.
func (c *Controller) Register(ctx context.Context, sessionID, userID string) error {
	userID = strings.TrimSpace(userID)
	if sessionID == "" || userID == "" {
		return errs.ErrArgs.WrapMsg("session and user ids are required", "session", sessionID, "user", userID)
	}
	now := c.conf.Clock()
	if err := c.conf.Heartbeats.Touch(ctx, sessionID, now); err != nil {
		logger.Warn("[lifecycle] register touch failed", zap.String("session", sessionID), zap.Error(err))
		return storeErr("touch", err)
	}

	err := c.conf.Registry.RegisterSession(ctx, userID, sessionID)
	if errors.Is(err, errs.ErrDuplicateRegistration) {
		logger.Info("[lifecycle] reject duplicate registration",
			zap.String("user", userID), zap.String("session", sessionID))
		c.conf.Observer.Rejected()
		if rerr := c.conf.Transport.Reject(ctx, sessionID, RejectMessage); rerr != nil {
			logger.Debug("[lifecycle] reject delivery failed", zap.String("session", sessionID), zap.Error(rerr))
		}
		c.publish(ctx, EventRejected, userID, sessionID, now)
		return err
	}
	if err != nil {
		logger.Warn("[lifecycle] register failed",
			zap.String("user", userID), zap.String("session", sessionID), zap.Error(err))
		return storeErr("register", err)
	}

	c.conf.Observer.Registered()
	c.appendDebug(ctx, userID, now, "registered")
	c.publish(ctx, EventRegistered, userID, sessionID, now)
	c.broadcast(ctx, StatusRegistered)
	return nil
}

// Heartbeat only refreshes the tracker (and the diagnostic log when the
// session belongs to a user).
func (c *Controller) Heartbeat(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errs.ErrArgs.WrapMsg("empty session id")
	}
	now := c.conf.Clock()
	if err := c.conf.Heartbeats.Touch(ctx, sessionID, now); err != nil {
		logger.Warn("[lifecycle] heartbeat touch failed", zap.String("session", sessionID), zap.Error(err))
		return storeErr("touch", err)
	}
	userID, ok, err := c.conf.Registry.UserForSession(ctx, sessionID)
	if err != nil {
		logger.Debug("[lifecycle] heartbeat user lookup failed", zap.String("session", sessionID), zap.Error(err))
		return nil
	}
	if ok {
		c.appendDebug(ctx, userID, now, "received")
	}
	return nil
}

// Disconnect handles a client-initiated close. Calling it for a session that
// is already gone is a no-op.
func (c *Controller) Disconnect(ctx context.Context, sessionID string) error {
	return c.remove(ctx, sessionID, EventDisconnected)
}

// Expire is the sweeper's eviction: same as Disconnect, but the transport is
// told to force-close the session first.
func (c *Controller) Expire(ctx context.Context, sessionID string) error {
	if err := c.conf.Transport.Close(ctx, sessionID, "heartbeat timeout"); err != nil {
		logger.Debug("[lifecycle] force close failed", zap.String("session", sessionID), zap.Error(err))
	}
	return c.remove(ctx, sessionID, EventExpired)
}

// Recompute pushes positions without a triggering event (status null), e.g.
// after the admission window was resized.
func (c *Controller) Recompute(ctx context.Context) error {
	return c.conf.Broadcaster.Broadcast(ctx, StatusNone)
}

// remove drops the mapping and queue entry before the heartbeat record. The
// record is what the sweeper scans, so while the registry removal has not
// committed the session stays visible to the next tick.
func (c *Controller) remove(ctx context.Context, sessionID string, reason EventType) error {
	if sessionID == "" {
		return errs.ErrArgs.WrapMsg("empty session id")
	}
	userID, removed, err := c.conf.Registry.RemoveSession(ctx, sessionID)
	if err != nil {
		logger.Warn("[lifecycle] remove session failed", zap.String("session", sessionID), zap.Error(err))
		return storeErr("remove session", err)
	}
	var delErr error
	if err := c.conf.Heartbeats.Delete(ctx, sessionID); err != nil {
		logger.Warn("[lifecycle] delete heartbeat failed", zap.String("session", sessionID), zap.Error(err))
		delErr = storeErr("delete heartbeat", err)
	}
	if !removed {
		return delErr
	}
	logger.Info("[lifecycle] session removed",
		zap.String("user", userID), zap.String("session", sessionID), zap.String("reason", string(reason)))
	c.conf.Observer.Removed(reason)
	c.publish(ctx, reason, userID, sessionID, c.conf.Clock())
	c.broadcast(ctx, StatusDisconnected)
	return delErr
}

func (c *Controller) broadcast(ctx context.Context, status Status) {
	if err := c.conf.Broadcaster.Broadcast(ctx, status); err != nil {
		logger.Warn("[lifecycle] broadcast failed", zap.String("status", string(status)), zap.Error(err))
	}
}

func (c *Controller) appendDebug(ctx context.Context, userID string, at time.Time, status string) {
	if err := c.conf.DebugLog.Append(ctx, userID, HeartbeatRecord{At: at, Status: status}); err != nil {
		logger.Debug("[lifecycle] debug log append failed", zap.String("user", userID), zap.Error(err))
	}
}

func (c *Controller) publish(ctx context.Context, typ EventType, userID, sessionID string, at time.Time) {
	ev := SessionEvent{Type: typ, UserID: userID, SessionID: sessionID, At: at}
	if err := c.conf.Events.Publish(ctx, ev); err != nil {
		logger.Warn("[lifecycle] publish event failed", zap.String("type", string(typ)), zap.Error(err))
	}
}

func storeErr(op string, err error) error {
	if errs.Code(err) != 0 {
		return err
	}
	return errs.ErrStoreUnavailable.WrapMsg(op, "err", err)
}
