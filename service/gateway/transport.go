package gateway

import (
	"context"

	"waitroom/logger"
	"waitroom/module/waitroom"
	"waitroom/service/natsx"
	"waitroom/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Relayer forwards a transport call to another instance; *natsx.Relay.
type Relayer interface {
	Relay(ctx context.Context, gatewayID string, env natsx.Envelope) error
}

// OwnerLookup resolves the instance holding a session; *storage.RedisPresence.
type OwnerLookup interface {
	Owner(ctx context.Context, sessionID string) (string, bool, error)
}

// CloseRejected is sent when a registration is refused.
const CloseRejected = 4001

// Transport implements waitroom.Transport. Sessions on this instance are
// served from the hub; others go through the relay when one is configured.
type Transport struct {
	hub    *Hub
	relay  Relayer
	owners OwnerLookup
}

var _ waitroom.Transport = (*Transport)(nil)

// NewTransport builds the transport. relay and owners may be nil on a single
// instance; without owners, remote calls are broadcast to every instance.
func NewTransport(hub *Hub, relay Relayer, owners OwnerLookup) *Transport {
	return &Transport{hub: hub, relay: relay, owners: owners}
}

func (t *Transport) Deliver(ctx context.Context, sessionID string, update waitroom.QueueUpdate) error {
	if _, ok := t.hub.Get(sessionID); ok {
		return t.deliverLocal(sessionID, update)
	}
	u := update
	return t.forward(ctx, natsx.Envelope{Kind: natsx.KindUpdate, SessionID: sessionID, Update: &u})
}

func (t *Transport) Reject(ctx context.Context, sessionID, message string) error {
	if _, ok := t.hub.Get(sessionID); ok {
		return t.rejectLocal(sessionID, message)
	}
	return t.forward(ctx, natsx.Envelope{Kind: natsx.KindReject, SessionID: sessionID, Message: message})
}

func (t *Transport) Close(ctx context.Context, sessionID, reason string) error {
	if _, ok := t.hub.Get(sessionID); ok {
		return t.hub.CloseSession(sessionID, websocket.CloseNormalClosure, reason)
	}
	return t.forward(ctx, natsx.Envelope{Kind: natsx.KindClose, SessionID: sessionID, Message: reason})
}

// HandleEnvelope applies a relayed call to a local socket. It never forwards
// again; an unknown session is dropped.
func (t *Transport) HandleEnvelope(_ context.Context, env natsx.Envelope) error {
	if _, ok := t.hub.Get(env.SessionID); !ok {
		logger.Debug("[transport] relayed call for unknown session", zap.String("session", env.SessionID), zap.String("kind", env.Kind))
		return nil
	}
	switch env.Kind {
	case natsx.KindUpdate:
		return t.deliverLocal(env.SessionID, *env.Update)
	case natsx.KindReject:
		return t.rejectLocal(env.SessionID, env.Message)
	case natsx.KindClose:
		return t.hub.CloseSession(env.SessionID, websocket.CloseNormalClosure, env.Message)
	}
	return errs.ErrArgs.WrapMsg("unknown envelope kind", "kind", env.Kind)
}

func (t *Transport) deliverLocal(sessionID string, update waitroom.QueueUpdate) error {
	b, err := BuildFrame(EventQueueUpdate, update)
	if err != nil {
		return err
	}
	return t.hub.Send(sessionID, b)
}

func (t *Transport) rejectLocal(sessionID, message string) error {
	b, err := BuildFrame(EventError, ErrorPayload{Message: message})
	if err != nil {
		return err
	}
	if err := t.hub.Send(sessionID, b); err != nil {
		logger.Debug("[transport] error frame not queued", zap.String("session", sessionID), zap.Error(err))
	}
	return t.hub.CloseSession(sessionID, CloseRejected, message)
}

func (t *Transport) forward(ctx context.Context, env natsx.Envelope) error {
	if t.relay == nil {
		return errs.ErrSessionNotFound.WrapMsg("no local socket", "session", env.SessionID)
	}
	target := ""
	if t.owners != nil {
		owner, ok, err := t.owners.Owner(ctx, env.SessionID)
		if err != nil {
			return err
		}
		if !ok || owner == t.hub.GwID() {
			return errs.ErrSessionNotFound.WrapMsg("session has no owner", "session", env.SessionID)
		}
		target = owner
	}
	return t.relay.Relay(ctx, target, env)
}
