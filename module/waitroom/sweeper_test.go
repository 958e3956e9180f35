package waitroom_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"waitroom/module/waitroom"
	"waitroom/service/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	skipped atomic.Int32
	sweeps  atomic.Int32
	evicted atomic.Int32
}

func (o *countingObserver) QueueLength(int) {}
func (o *countingObserver) Registered() {}
func (o *countingObserver) Rejected() {}
func (o *countingObserver) Removed(waitroom.EventType) {}
func (o *countingObserver) Broadcast(int, time.Duration) {}
func (o *countingObserver) SweepSkipped() { o.skipped.Add(1) }
func (o *countingObserver) Sweep(_, e int, _ time.Duration) {
	o.sweeps.Add(1)
	o.evicted.Add(int32(e))
}

func TestSweeperExpiryBoundary(t *testing.T) {
	h := newHarness(2, 20*time.Second)
	ctx := context.Background()
	t0 := h.clock.Now()

	require.NoError(t, h.join("sA", "A"))
	require.NoError(t, h.join("sB", "B"))
	require.NoError(t, h.join("sC", "C"))

	obs := &countingObserver{}
	sw := waitroom.NewSweeper(h.heartbeats, h.ctrl, h.ctrl.Settings(), waitroom.SweeperConf{Clock: h.clock.Now, Observer: obs})
	defer sw.Stop()

	// keep B and C alive, let A go quiet
	h.clock.Set(t0.Add(20 * time.Second))
	require.NoError(t, h.ctrl.Heartbeat(ctx, "sB"))
	require.NoError(t, h.ctrl.Heartbeat(ctx, "sC"))

	assert.False(t, sw.Tick(), "exactly at the threshold is still alive")

	h.clock.Set(t0.Add(20*time.Second + time.Millisecond))
	assert.True(t, sw.Tick())
	sw.Stop()

	reason, ok := h.transport.closedReason("sA")
	assert.True(t, ok)
	assert.Equal(t, "heartbeat timeout", reason)

	q, _ := h.registry.ListQueue(ctx)
	assert.Equal(t, []string{"B", "C"}, q)
	u, _ := h.transport.last("sC")
	assert.Equal(t, 0, u.Position)
	assert.Equal(t, waitroom.StatusDisconnected, u.Status)
	assert.EqualValues(t, 1, obs.evicted.Load())
}

type blockingExpirer struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingExpirer) Expire(context.Context, string) error {
	b.calls.Add(1)
	<-b.release
	return nil
}

func TestSweeperCoalescesOverlappingRuns(t *testing.T) {
	hb := memory.NewHeartbeats()
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	require.NoError(t, hb.Touch(context.Background(), "s1", clock.Now()))
	clock.Set(clock.Now().Add(time.Minute))

	exp := &blockingExpirer{release: make(chan struct{})}
	obs := &countingObserver{}
	sw := waitroom.NewSweeper(hb, exp, waitroom.NewSettings(2, 20*time.Second), waitroom.SweeperConf{Clock: clock.Now, Observer: obs})

	require.True(t, sw.Tick())
	require.Eventually(t, func() bool { return exp.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, sw.Tick())
	assert.False(t, sw.Tick())
	assert.EqualValues(t, 2, obs.skipped.Load())

	close(exp.release)
	sw.Stop()

	// the memory tracker still holds s1 since the expirer was a stub
	assert.True(t, sw.Tick())
	sw.Stop()
	assert.EqualValues(t, 2, exp.calls.Load())
}

// revivingTracker touches the session right after the first scan, so the
// re-check during cleanup finds it fresh again.
type revivingTracker struct {
	*memory.Heartbeats
	once  sync.Once
	clock *fakeClock
}

func (r *revivingTracker) Expired(ctx context.Context, ids []string, threshold time.Duration, now time.Time) ([]string, error) {
	out, err := r.Heartbeats.Expired(ctx, ids, threshold, now)
	r.once.Do(func() { _ = r.Heartbeats.Touch(ctx, "s1", r.clock.Now()) })
	return out, err
}

type recordingExpirer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingExpirer) Expire(_ context.Context, sid string) error {
	r.mu.Lock()
	r.ids = append(r.ids, sid)
	r.mu.Unlock()
	return nil
}

func TestSweeperSkipsRevivedSession(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	tr := &revivingTracker{Heartbeats: memory.NewHeartbeats(), clock: clock}
	require.NoError(t, tr.Touch(context.Background(), "s1", clock.Now()))
	clock.Set(clock.Now().Add(30 * time.Second))

	exp := &recordingExpirer{}
	sw := waitroom.NewSweeper(tr, exp, waitroom.NewSettings(2, 20*time.Second), waitroom.SweeperConf{Clock: clock.Now})

	assert.True(t, sw.Tick())
	sw.Stop()

	exp.mu.Lock()
	defer exp.mu.Unlock()
	assert.Empty(t, exp.ids)
}

func TestSweeperStartStop(t *testing.T) {
	h := newHarness(1, time.Second)
	require.NoError(t, h.join("s1", "a"))

	sw := waitroom.NewSweeper(h.heartbeats, h.ctrl, h.ctrl.Settings(), waitroom.SweeperConf{
		Interval: 10 * time.Millisecond,
		Clock:    h.clock.Now,
	})
	sw.Start()
	sw.Start()

	h.clock.Set(h.clock.Now().Add(2 * time.Second))
	require.Eventually(t, func() bool {
		_, ok := h.transport.closedReason("s1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	sw.Stop()
	sw.Stop()
}
