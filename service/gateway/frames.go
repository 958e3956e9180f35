package gateway

import (
	"encoding/json"
	"strings"

	"waitroom/tools/errs"
)

// Frame events. Inbound: connect, heartbeat, register, disconnect.
// Outbound: queue_update, error.
const (
	EventConnect     = "connect"
	EventHeartbeat   = "heartbeat"
	EventRegister    = "register"
	EventDisconnect  = "disconnect"
	EventQueueUpdate = "queue_update"
	EventError       = "error"
)

// Frame is the JSON text message exchanged on the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type RegisterPayload struct {
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.ErrArgs.WrapMsg("unmarshal frame failed", "err", err)
	}
	f.Event = strings.ToLower(strings.TrimSpace(f.Event))
	if f.Event == "" {
		return nil, errs.ErrArgs.WrapMsg("frame without event")
	}
	return f, nil
}

// ExtractRegisterPayload accepts {"userId": "..."} or a bare JSON string.
func ExtractRegisterPayload(f *Frame) (*RegisterPayload, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, errs.ErrArgs.WrapMsg("register without data")
	}
	p := &RegisterPayload{}
	if err := json.Unmarshal(f.Data, p); err != nil {
		var s string
		if serr := json.Unmarshal(f.Data, &s); serr != nil {
			return nil, errs.ErrArgs.WrapMsg("bad register payload", "err", err)
		}
		p.UserID = s
	}
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return nil, errs.ErrArgs.WrapMsg("register without userId")
	}
	return p, nil
}

// BuildFrame encodes an outbound frame.
func BuildFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal frame data", "event", event)
	}
	b, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal frame", "event", event)
	}
	return b, nil
}
