package waitroom_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"waitroom/module/waitroom"
	"waitroom/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosition(t *testing.T) {
	cases := []struct {
		index, capacity, want int
	}{
		{1, 2, 0},
		{2, 2, 0},
		{3, 2, 1},
		{4, 2, 2},
		{1, 0, 1},
		{5, 5, 0},
		{7, -1, 7},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, waitroom.Position(c.index, c.capacity), "index=%d capacity=%d", c.index, c.capacity)
	}
}

func TestSettings(t *testing.T) {
	s := waitroom.NewSettings(2, 0)
	assert.Equal(t, waitroom.DefaultTimeout, s.Timeout())
	assert.True(t, s.Admitted(2))
	assert.False(t, s.Admitted(3))

	old := s.SetCapacity(3)
	assert.Equal(t, 2, old)
	assert.True(t, s.Admitted(3))
	assert.Equal(t, 1, s.Position(4))
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(waitroom.QueueUpdate{Position: 1, Status: waitroom.StatusNone})
	require.NoError(t, err)
	assert.JSONEq(t, `{"position":1,"status":null}`, string(b))

	b, err = json.Marshal(waitroom.QueueUpdate{Position: 0, Status: waitroom.StatusRegistered})
	require.NoError(t, err)
	assert.JSONEq(t, `{"position":0,"status":"registered"}`, string(b))
}

func TestEndToEndQueue(t *testing.T) {
	h := newHarness(2, 20*time.Second)

	require.NoError(t, h.join("sA", "A"))
	require.NoError(t, h.join("sB", "B"))
	require.NoError(t, h.join("sC", "C"))
	require.NoError(t, h.join("sD", "D"))

	want := map[string]int{"sA": 0, "sB": 0, "sC": 1, "sD": 2}
	for sid, pos := range want {
		u, ok := h.transport.last(sid)
		require.True(t, ok, sid)
		assert.Equal(t, pos, u.Position, sid)
		assert.Equal(t, waitroom.StatusRegistered, u.Status, sid)
	}

	require.NoError(t, h.ctrl.Disconnect(context.Background(), "sA"))

	want = map[string]int{"sB": 0, "sC": 0, "sD": 1}
	for sid, pos := range want {
		u, _ := h.transport.last(sid)
		assert.Equal(t, pos, u.Position, sid)
		assert.Equal(t, waitroom.StatusDisconnected, u.Status, sid)
	}
	q, _ := h.registry.ListQueue(context.Background())
	assert.Equal(t, []string{"B", "C", "D"}, q)
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	h := newHarness(2, 20*time.Second)
	ctx := context.Background()

	require.NoError(t, h.join("s1", "alice"))
	before := h.transport.count("s1")

	err := h.join("s2", "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrDuplicateRegistration)
	assert.Equal(t, errs.DuplicateRegistrationError, errs.Code(err))

	h.transport.mu.Lock()
	msg := h.transport.rejected["s2"]
	h.transport.mu.Unlock()
	assert.Equal(t, waitroom.RejectMessage, msg)

	sid, ok, _ := h.registry.SessionForUser(ctx, "alice")
	assert.True(t, ok)
	assert.Equal(t, "s1", sid)
	_, ok, _ = h.registry.UserForSession(ctx, "s2")
	assert.False(t, ok)
	q, _ := h.registry.ListQueue(ctx)
	assert.Equal(t, []string{"alice"}, q)
	// the live session is not disturbed
	assert.Equal(t, before, h.transport.count("s1"))

	// the rejected socket closes and reports a disconnect: nothing to undo
	require.NoError(t, h.ctrl.Disconnect(ctx, "s2"))
	sid, ok, _ = h.registry.SessionForUser(ctx, "alice")
	assert.True(t, ok)
	assert.Equal(t, "s1", sid)

	assert.Equal(t, []waitroom.EventType{waitroom.EventRegistered, waitroom.EventRejected}, h.sink.types())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newHarness(1, 20*time.Second)
	ctx := context.Background()

	require.NoError(t, h.join("s1", "alice"))
	require.NoError(t, h.ctrl.Disconnect(ctx, "s1"))
	require.NoError(t, h.ctrl.Disconnect(ctx, "s1"))

	_, ok, _ := h.heartbeats.LastAlive(ctx, "s1")
	assert.False(t, ok)
	assert.Equal(t, []waitroom.EventType{waitroom.EventRegistered, waitroom.EventDisconnected}, h.sink.types())
}

func TestHeartbeatAfterRemovalDoesNotResurrect(t *testing.T) {
	h := newHarness(1, 20*time.Second)
	ctx := context.Background()

	require.NoError(t, h.join("s1", "alice"))
	require.NoError(t, h.ctrl.Disconnect(ctx, "s1"))
	require.NoError(t, h.ctrl.Heartbeat(ctx, "s1"))

	_, ok, _ := h.registry.UserForSession(ctx, "s1")
	assert.False(t, ok)
	q, _ := h.registry.ListQueue(ctx)
	assert.Empty(t, q)
}

func TestHeartbeatIsRecorded(t *testing.T) {
	h := newHarness(1, 20*time.Second)
	ctx := context.Background()
	t0 := h.clock.Now()

	require.NoError(t, h.join("s1", "alice"))
	h.clock.Set(t0.Add(3 * time.Second))
	require.NoError(t, h.ctrl.Heartbeat(ctx, "s1"))

	last, ok, _ := h.heartbeats.LastAlive(ctx, "s1")
	require.True(t, ok)
	assert.True(t, last.Equal(t0.Add(3*time.Second)))

	hbs, err := h.ctrl.DebugHeartbeats(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hbs, 2)
	assert.Equal(t, "registered", hbs[0].Status)
	assert.Equal(t, "received", hbs[1].Status)
	assert.InDelta(t, float64(t0.Add(3*time.Second).Unix()), hbs[1].Timestamp, 0.001)
}

func TestExpireClosesAndRemoves(t *testing.T) {
	h := newHarness(1, 20*time.Second)
	ctx := context.Background()

	require.NoError(t, h.join("s1", "alice"))
	require.NoError(t, h.join("s2", "bob"))
	require.NoError(t, h.ctrl.Expire(ctx, "s1"))

	reason, ok := h.transport.closedReason("s1")
	assert.True(t, ok)
	assert.Equal(t, "heartbeat timeout", reason)

	u, _ := h.transport.last("s2")
	assert.Equal(t, 0, u.Position)
	assert.Equal(t, waitroom.StatusDisconnected, u.Status)
	assert.Contains(t, h.sink.types(), waitroom.EventExpired)
}

func TestRegisterValidatesArgs(t *testing.T) {
	h := newHarness(1, 20*time.Second)
	err := h.ctrl.Register(context.Background(), "s1", "  ")
	assert.ErrorIs(t, err, errs.ErrArgs)
	err = h.ctrl.Connect(context.Background(), "")
	assert.ErrorIs(t, err, errs.ErrArgs)
}

func TestRecomputeAfterResize(t *testing.T) {
	h := newHarness(1, 20*time.Second)
	ctx := context.Background()
	require.NoError(t, h.join("s1", "a"))
	require.NoError(t, h.join("s2", "b"))

	u, _ := h.transport.last("s2")
	assert.Equal(t, 1, u.Position)

	h.ctrl.Settings().SetCapacity(2)
	require.NoError(t, h.ctrl.Recompute(ctx))
	u, _ = h.transport.last("s2")
	assert.Equal(t, 0, u.Position)
	assert.Equal(t, waitroom.StatusNone, u.Status)
}

func TestStatusViews(t *testing.T) {
	h := newHarness(1, 20*time.Second)
	ctx := context.Background()
	t0 := h.clock.Now()

	require.NoError(t, h.join("s1", "a"))
	require.NoError(t, h.join("s2", "b"))

	report, err := h.ctrl.StatusReport(ctx)
	require.NoError(t, err)
	require.Len(t, report, 2)
	assert.Equal(t, "a", report[0].UserID)
	assert.Equal(t, 0, report[0].QueuePosition)
	assert.Equal(t, 1, report[1].QueuePosition)
	assert.Equal(t, t0.Local().Format(waitroom.HeartbeatLayout), report[1].LastHeartbeat)

	qs, err := h.ctrl.QueueStatus(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, qs.InQueue)
	require.NotNil(t, qs.Position)
	assert.Equal(t, 1, *qs.Position)

	qs, err = h.ctrl.QueueStatus(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, qs.InQueue)
	assert.Nil(t, qs.Position)

	act, err := h.ctrl.SessionActive(ctx, "a")
	require.NoError(t, err)
	assert.True(t, act.Active)
	assert.Equal(t, "s1", act.SessionID)

	h.clock.Set(t0.Add(21 * time.Second))
	act, _ = h.ctrl.SessionActive(ctx, "a")
	assert.False(t, act.Active)

	act, _ = h.ctrl.SessionActive(ctx, "ghost")
	assert.False(t, act.Active)
	assert.Equal(t, "N/A", act.SessionID)

	_, err = h.ctrl.DebugHeartbeats(ctx, "")
	assert.ErrorIs(t, err, errs.ErrArgs)
}
