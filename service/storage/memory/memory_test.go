package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"waitroom/module/waitroom"
	"waitroom/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDuplicateKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	require.NoError(t, r.RegisterSession(ctx, "alice", "s1"))
	err := r.RegisterSession(ctx, "alice", "s2")
	assert.ErrorIs(t, err, errs.ErrDuplicateRegistration)

	sid, ok, _ := r.SessionForUser(ctx, "alice")
	assert.True(t, ok)
	assert.Equal(t, "s1", sid)
	_, ok, _ = r.UserForSession(ctx, "s2")
	assert.False(t, ok)
	q, _ := r.ListQueue(ctx)
	assert.Equal(t, []string{"alice"}, q)
}

func TestRegistryRemoveClearsEverything(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	require.NoError(t, r.RegisterSession(ctx, "alice", "s1"))
	require.NoError(t, r.RegisterSession(ctx, "bob", "s2"))

	uid, removed, err := r.RemoveSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, "alice", uid)

	_, ok, _ := r.SessionForUser(ctx, "alice")
	assert.False(t, ok)
	snap, _ := r.Snapshot(ctx)
	assert.Equal(t, []waitroom.QueueEntry{{UserID: "bob", SessionID: "s2"}}, snap)

	_, removed, _ = r.RemoveSession(ctx, "s1")
	assert.False(t, removed)

	sid, removed, _ := r.RemoveUser(ctx, "bob")
	assert.True(t, removed)
	assert.Equal(t, "s2", sid)
	q, _ := r.ListQueue(ctx)
	assert.Empty(t, q)
}

func TestRegistryConcurrentRegistrations(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.RegisterSession(ctx, fmt.Sprintf("u%d", i), fmt.Sprintf("s%d", i))
		}(i)
	}
	wg.Wait()

	q, _ := r.ListQueue(ctx)
	assert.Len(t, q, n)
}

func TestRegistryConcurrentSameUser(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.RegisterSession(ctx, "alice", fmt.Sprintf("s%d", i)) == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	q, _ := r.ListQueue(ctx)
	assert.Equal(t, []string{"alice"}, q)
}

func TestHeartbeatsMonotonicAndExpiry(t *testing.T) {
	ctx := context.Background()
	h := NewHeartbeats()
	t0 := time.Unix(1_700_000_000, 0)

	require.NoError(t, h.Touch(ctx, "s1", t0))
	require.NoError(t, h.Touch(ctx, "s1", t0.Add(-5*time.Second)))
	last, ok, _ := h.LastAlive(ctx, "s1")
	assert.True(t, ok)
	assert.True(t, last.Equal(t0))

	ids, _ := h.Sessions(ctx)
	assert.Equal(t, []string{"s1"}, ids)

	exp, _ := h.Expired(ctx, []string{"s1"}, 20*time.Second, t0.Add(20*time.Second))
	assert.Empty(t, exp)
	exp, _ = h.Expired(ctx, []string{"s1", "gone"}, 20*time.Second, t0.Add(20*time.Second+time.Millisecond))
	assert.Equal(t, []string{"s1", "gone"}, exp)

	require.NoError(t, h.Delete(ctx, "s1"))
	_, ok, _ = h.LastAlive(ctx, "s1")
	assert.False(t, ok)
}

func TestDebugLogBounded(t *testing.T) {
	ctx := context.Background()
	d := NewDebugLog(2)
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Append(ctx, "alice", waitroom.HeartbeatRecord{At: base.Add(time.Duration(i) * time.Second), Status: fmt.Sprint(i)}))
	}
	recs, _ := d.List(ctx, "alice")
	require.Len(t, recs, 2)
	assert.Equal(t, "2", recs[0].Status)
	assert.Equal(t, "3", recs[1].Status)

	recs, _ = d.List(ctx, "bob")
	assert.Empty(t, recs)
}
