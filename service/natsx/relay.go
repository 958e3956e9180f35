package natsx

import (
	"context"
	"encoding/json"

	"waitroom/module/waitroom"
	"waitroom/tools/errs"
)

// Envelope kinds relayed between gateway instances.
const (
	KindUpdate = "update"
	KindReject = "reject"
	KindClose  = "close"
)

// Broadcast targets every instance instead of one owner.
const Broadcast = "all"

// Envelope carries one transport call for a session held by another
// instance.
type Envelope struct {
	Kind      string                `json:"kind"`
	SessionID string                `json:"session_id"`
	Update    *waitroom.QueueUpdate `json:"update,omitempty"`
	Message   string                `json:"message,omitempty"`
	Origin    string                `json:"origin"`
}

func EncodeEnvelope(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, errs.WrapMsg(err, "encode envelope")
	}
	return b, nil
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, errs.ErrArgs.WrapMsg("decode envelope", "err", err)
	}
	switch env.Kind {
	case KindUpdate:
		if env.Update == nil {
			return env, errs.ErrArgs.WrapMsg("update envelope without payload")
		}
	case KindReject, KindClose:
	default:
		return env, errs.ErrArgs.WrapMsg("unknown envelope kind", "kind", env.Kind)
	}
	if env.SessionID == "" {
		return env, errs.ErrArgs.WrapMsg("envelope without session")
	}
	return env, nil
}

// Relay publishes envelopes on <subject>.<gatewayID> and listens on its own
// instance subject plus <subject>.all.
type Relay struct {
	mgr     *NatsManager
	subject string
	self    string
}

func NewRelay(mgr *NatsManager, subject, self string) *Relay {
	if subject == "" {
		subject = "waitroom.relay"
	}
	return &Relay{mgr: mgr, subject: subject, self: self}
}

func (r *Relay) SubjectFor(gatewayID string) string {
	if gatewayID == "" {
		gatewayID = Broadcast
	}
	return r.subject + "." + gatewayID
}

// Relay sends env to gatewayID, or to every instance when gatewayID is empty.
func (r *Relay) Relay(ctx context.Context, gatewayID string, env Envelope) error {
	env.Origin = r.self
	b, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return r.mgr.PublishSubject(ctx, r.SubjectFor(gatewayID), b, map[string]string{"X-Origin": r.self})
}

// Listen subscribes to this instance's subjects; envelopes this instance sent
// itself are ignored.
func (r *Relay) Listen(h func(ctx context.Context, env Envelope) error) error {
	handler := func(ctx context.Context, msg NatsxMessage) error {
		env, err := DecodeEnvelope(msg.Data)
		if err != nil {
			return err
		}
		if env.Origin == r.self {
			return nil
		}
		return h(ctx, env)
	}
	for _, target := range []string{r.self, Broadcast} {
		biz := "relay." + target
		if err := r.mgr.RegisterRoute(NatsxRoute{Biz: biz, Subject: r.SubjectFor(target)}); err != nil {
			return err
		}
		if err := r.mgr.Subscribe(biz, handler); err != nil {
			return err
		}
	}
	return nil
}
