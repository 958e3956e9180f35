package natsx

import (
	"context"

	"waitroom/tools/errs"

	"github.com/nats-io/nats.go"
)

// NatsManager 对外统一入口
type NatsManager struct {
	client *NatsxClient
	mws    []NatsxMiddleware
}

func NewNatsManager(cfg NatsxConfig, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	return &NatsManager{client: c, mws: middlewares}, nil
}

func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if m == nil || m.client == nil {
		return errs.ErrArgs.WrapMsg("manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

// Publish 按 biz 路由发送
func (m *NatsManager) Publish(_ context.Context, biz string, data []byte, hdr map[string]string) error {
	if m == nil || m.client == nil {
		return errs.ErrArgs.WrapMsg("manager not initialized")
	}
	r, ok := m.client.route(biz)
	if !ok {
		return errs.ErrArgs.WrapMsg("route not found", "biz", biz)
	}
	return m.client.send(r.Subject, data, hdr)
}

// PublishSubject bypasses routing; used for per-instance subjects that are
// only known at send time.
func (m *NatsManager) PublishSubject(_ context.Context, subject string, data []byte, hdr map[string]string) error {
	if m == nil || m.client == nil {
		return errs.ErrArgs.WrapMsg("manager not initialized")
	}
	return m.client.send(subject, data, hdr)
}

// Subscribe attaches h to the route registered for biz. With a queue group
// the messages are shared; without one they fan out.
func (m *NatsManager) Subscribe(biz string, h NatsxHandler) error {
	if m == nil || m.client == nil {
		return errs.ErrArgs.WrapMsg("manager not initialized")
	}
	c := m.client
	r, ok := c.route(biz)
	if !ok {
		return errs.ErrArgs.WrapMsg("route not found", "biz", biz)
	}
	h = NatsxChain(h, m.mws...)

	cb := func(msg *nats.Msg) {
		_ = h(context.Background(), NatsxMessage{
			Subject: msg.Subject,
			Data:    append([]byte(nil), msg.Data...),
			Header:  headerToMap(msg.Header),
		})
	}
	var (
		sub *nats.Subscription
		err error
	)
	if r.Queue == "" {
		sub, err = c.nc.Subscribe(r.Subject, cb)
	} else {
		sub, err = c.nc.QueueSubscribe(r.Subject, r.Queue, cb)
	}
	if err != nil {
		return errs.WrapMsg(err, "subscribe", "subject", r.Subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	c.mu.Lock()
	c.subs[biz] = sub
	c.mu.Unlock()
	return nil
}
