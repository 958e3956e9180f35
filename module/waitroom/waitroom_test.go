package waitroom_test

import (
	"context"
	"sync"
	"time"

	"waitroom/module/waitroom"
	"waitroom/service/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeTransport records everything pushed to sessions.
type fakeTransport struct {
	mu       sync.Mutex
	updates  map[string][]waitroom.QueueUpdate
	rejected map[string]string
	closed   map[string]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		updates:  make(map[string][]waitroom.QueueUpdate),
		rejected: make(map[string]string),
		closed:   make(map[string]string),
	}
}

func (f *fakeTransport) Deliver(_ context.Context, sid string, u waitroom.QueueUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[sid] = append(f.updates[sid], u)
	return nil
}

func (f *fakeTransport) Reject(_ context.Context, sid, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[sid] = msg
	f.closed[sid] = msg
	return nil
}

func (f *fakeTransport) Close(_ context.Context, sid, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[sid] = reason
	return nil
}

func (f *fakeTransport) last(sid string) (waitroom.QueueUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.updates[sid]
	if len(u) == 0 {
		return waitroom.QueueUpdate{}, false
	}
	return u[len(u)-1], true
}

func (f *fakeTransport) count(sid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates[sid])
}

func (f *fakeTransport) closedReason(sid string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.closed[sid]
	return r, ok
}

type recordingSink struct {
	mu     sync.Mutex
	events []waitroom.SessionEvent
}

func (s *recordingSink) Publish(_ context.Context, ev waitroom.SessionEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) types() []waitroom.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]waitroom.EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	ctrl       *waitroom.Controller
	registry   *memory.Registry
	heartbeats *memory.Heartbeats
	debug      *memory.DebugLog
	transport  *fakeTransport
	sink       *recordingSink
	clock      *fakeClock
}

func newHarness(capacity int, timeout time.Duration) *harness {
	h := &harness{
		registry:   memory.NewRegistry(),
		heartbeats: memory.NewHeartbeats(),
		debug:      memory.NewDebugLog(10),
		transport:  newFakeTransport(),
		sink:       &recordingSink{},
		clock:      newFakeClock(time.Unix(1_700_000_000, 0)),
	}
	ctrl, err := waitroom.NewController(waitroom.ControllerConf{
		Registry:   h.registry,
		Heartbeats: h.heartbeats,
		Transport:  h.transport,
		Settings:   waitroom.NewSettings(capacity, timeout),
		DebugLog:   h.debug,
		Events:     h.sink,
		Clock:      h.clock.Now,
	})
	if err != nil {
		panic(err)
	}
	h.ctrl = ctrl
	return h
}

func (h *harness) join(sid, uid string) error {
	ctx := context.Background()
	if err := h.ctrl.Connect(ctx, sid); err != nil {
		return err
	}
	return h.ctrl.Register(ctx, sid, uid)
}
