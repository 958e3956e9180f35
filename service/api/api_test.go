package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"waitroom/module/waitroom"
	"waitroom/service/storage/memory"
	"waitroom/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTransport struct{}

func (nopTransport) Deliver(context.Context, string, waitroom.QueueUpdate) error { return nil }
func (nopTransport) Reject(context.Context, string, string) error { return nil }
func (nopTransport) Close(context.Context, string, string) error { return nil }

func newRig(t *testing.T, ping Pinger) (*gin.Engine, *waitroom.Controller) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctrl, err := waitroom.NewController(waitroom.ControllerConf{
		Registry:   memory.NewRegistry(),
		Heartbeats: memory.NewHeartbeats(),
		Transport:  nopTransport{},
		Settings:   waitroom.NewSettings(1, 20*time.Second),
		DebugLog:   memory.NewDebugLog(10),
	})
	require.NoError(t, err)
	r := gin.New()
	NewServer(ctrl, "node-1", ping).Register(r)
	return r, ctrl
}

func get(t *testing.T, r http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func join(t *testing.T, ctrl *waitroom.Controller, sid, uid string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ctrl.Connect(ctx, sid))
	require.NoError(t, ctrl.Register(ctx, sid, uid))
}

func TestIndex(t *testing.T) {
	r, _ := newRig(t, nil)
	var body map[string]any
	rec := get(t, r, "/", &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "node-1", body["node"])
	assert.Equal(t, 1.0, body["admission_window"])
	assert.Equal(t, 20.0, body["timeout_seconds"])
}

func TestStatusAndQueue(t *testing.T) {
	r, ctrl := newRig(t, nil)
	join(t, ctrl, "s1", "alice")
	join(t, ctrl, "s2", "bob")

	var list []waitroom.UserStatus
	rec := get(t, r, "/api/status", &list)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].UserID)
	assert.Equal(t, 0, list[0].QueuePosition)
	assert.Equal(t, "bob", list[1].UserID)
	assert.Equal(t, 1, list[1].QueuePosition)
	assert.NotEqual(t, "N/A", list[1].LastHeartbeat)

	var qs waitroom.QueueStatus
	get(t, r, "/api/queue_status/s2", &qs)
	assert.True(t, qs.InQueue)
	require.NotNil(t, qs.Position)
	assert.Equal(t, 1, *qs.Position)

	var missing map[string]any
	get(t, r, "/api/queue_status/nope", &missing)
	assert.Equal(t, false, missing["in_queue"])
	_, hasPos := missing["position"]
	assert.False(t, hasPos)
}

func TestUserSessionActive(t *testing.T) {
	r, ctrl := newRig(t, nil)
	join(t, ctrl, "s1", "alice")

	var act waitroom.SessionActivity
	get(t, r, "/api/user_session_active/alice", &act)
	assert.True(t, act.Active)
	assert.Equal(t, "s1", act.SessionID)

	get(t, r, "/api/user_session_active/ghost", &act)
	assert.False(t, act.Active)
	assert.Equal(t, "N/A", act.SessionID)
}

func TestDebugHeartbeats(t *testing.T) {
	r, ctrl := newRig(t, nil)
	join(t, ctrl, "s1", "alice")
	require.NoError(t, ctrl.Heartbeat(context.Background(), "s1"))

	var list []waitroom.DebugHeartbeat
	rec := get(t, r, "/api/debug_heartbeats?user_id=alice", &list)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, list)
	assert.Equal(t, "received", list[len(list)-1].Status)

	var e map[string]string
	rec = get(t, r, "/api/debug_heartbeats", &e)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User ID not provided", e["error"])
}

func TestHealthz(t *testing.T) {
	r, _ := newRig(t, func(context.Context) error { return nil })
	rec := get(t, r, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	r, _ = newRig(t, func(context.Context) error { return errors.New("dial tcp: refused") })
	var e map[string]string
	rec = get(t, r, "/healthz", &e)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store unavailable", e["error"])
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errs.ErrArgs.WrapMsg("x"), http.StatusBadRequest},
		{errs.ErrSessionNotFound.Wrap(), http.StatusNotFound},
		{errs.ErrStoreUnavailable.WrapMsg("redis"), http.StatusServiceUnavailable},
		{errs.ErrDuplicateRegistration, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		got, _ := httpStatus(c.err)
		assert.Equal(t, c.want, got, c.err.Error())
	}
}
