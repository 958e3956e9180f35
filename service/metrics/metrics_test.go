package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"waitroom/module/waitroom"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverCounts(t *testing.T) {
	o := New()
	o.Registered()
	o.Registered()
	o.Rejected()
	o.Removed(waitroom.EventExpired)
	o.Removed(waitroom.EventDisconnected)
	o.Removed(waitroom.EventExpired)
	o.QueueLength(7)
	o.Sweep(3, 2, 10*time.Millisecond)
	o.SweepSkipped()
	o.Broadcast(5, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(o.registered))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.rejected))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.removed.WithLabelValues("expired")))
	assert.Equal(t, 7.0, testutil.ToFloat64(o.queueLength))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.sweepEvicted))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.sweepSkipped))
}

func TestHandlerExposesMetrics(t *testing.T) {
	o := New()
	o.Registered()

	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "waitroom_registrations_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
