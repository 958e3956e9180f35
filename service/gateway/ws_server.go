package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"waitroom/logger"
	"waitroom/tools/errs"
	"waitroom/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Lifecycle is the part of *waitroom.Controller the socket handler drives.
type Lifecycle interface {
	Connect(ctx context.Context, sessionID string) error
	Register(ctx context.Context, sessionID, userID string) error
	Heartbeat(ctx context.Context, sessionID string) error
	Disconnect(ctx context.Context, sessionID string) error
}

// PresenceWriter records which instance owns a session; *storage.RedisPresence.
type PresenceWriter interface {
	SetOwner(ctx context.Context, sessionID, gatewayID string, ttl time.Duration) error
	Clear(ctx context.Context, sessionID string) error
}

type ServerConf struct {
	OpTimeout    time.Duration // per lifecycle call
	PresenceTTL  time.Duration
	ReadLimit    int64
	CheckOrigin  func(r *http.Request) bool // nil => allow all
	NewSessionID func() string
}

func (c *ServerConf) norm() {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 2 * time.Second
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = time.Minute
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 4096
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	if c.NewSessionID == nil {
		c.NewSessionID = ids.NewSessionID
	}
}

type Server struct {
	hub      *Hub
	life     Lifecycle
	presence PresenceWriter
	conf     ServerConf
	upgrader websocket.Upgrader
}

// NewServer wires the socket handler. presence may be nil.
func NewServer(hub *Hub, life Lifecycle, presence PresenceWriter, conf ServerConf) *Server {
	conf.norm()
	return &Server{
		hub:      hub,
		life:     life,
		presence: presence,
		conf:     conf,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: conf.CheckOrigin},
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// HandleWS upgrades the request and runs the session until the socket closes.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// not a websocket request or handshake failed; Upgrade already replied
		logger.Info("[ws] upgrade failed", zap.Error(err))
		return
	}

	sid := s.conf.NewSessionID()
	client, err := s.hub.Add(sid, ws)
	if err != nil {
		logger.Warn("[ws] add client failed", zap.String("session", sid), zap.Error(err))
		_ = ws.Close()
		return
	}
	log := logger.Named("ws").With(zap.String("session", sid), zap.Stringer("remote", client.Remote))

	if err := s.call(func(ctx context.Context) error { return s.life.Connect(ctx, sid) }); err != nil {
		log.Warn("[ws] connect failed", zap.Error(err))
		_ = s.hub.CloseSession(sid, websocket.CloseInternalServerErr, "store unavailable")
		<-client.Done()
		return
	}
	s.touchPresence(sid)

	ws.SetReadLimit(s.conf.ReadLimit)
	pongWait := s.hub.Conf().PongWait
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.readLoop(ws, sid, log)

	// exit: registry cleanup first, then the socket
	if err := s.call(func(ctx context.Context) error { return s.life.Disconnect(ctx, sid) }); err != nil {
		log.Warn("[ws] disconnect cleanup failed, sweeper will retry", zap.Error(err))
	}
	if s.presence != nil {
		_ = s.call(func(ctx context.Context) error { return s.presence.Clear(ctx, sid) })
	}
	s.hub.Remove(sid)
	<-client.Done()
}

func (s *Server) readLoop(ws *websocket.Conn, sid string, log *zap.Logger) {
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				log.Info("[ws] peer closed", zap.Error(rerr))
			case errors.As(rerr, &ne) && ne.Timeout():
				log.Info("[ws] read timeout", zap.Error(rerr))
			default:
				log.Debug("[ws] read err", zap.Error(rerr))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.hub.Conf().PongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			log.Info("[ws] bad frame", zap.Error(perr), zap.ByteString("sample", sample), zap.Int("len", len(data)))
			continue
		}

		switch frame.Event {
		case EventHeartbeat:
			if err := s.call(func(ctx context.Context) error { return s.life.Heartbeat(ctx, sid) }); err != nil {
				log.Warn("[ws] heartbeat failed", zap.Error(err))
			}
			s.touchPresence(sid)
		case EventConnect:
			if err := s.call(func(ctx context.Context) error { return s.life.Connect(ctx, sid) }); err != nil {
				log.Warn("[ws] connect failed", zap.Error(err))
			}
		case EventRegister:
			p, err := ExtractRegisterPayload(frame)
			if err != nil {
				s.sendError(sid, err)
				continue
			}
			err = s.call(func(ctx context.Context) error { return s.life.Register(ctx, sid, p.UserID) })
			switch {
			case err == nil:
				log.Info("[ws] registered", zap.String("user", p.UserID))
			case errors.Is(err, errs.ErrDuplicateRegistration):
				// the transport already sent the error and is closing the socket
				log.Info("[ws] duplicate registration", zap.String("user", p.UserID))
			default:
				log.Warn("[ws] register failed", zap.String("user", p.UserID), zap.Error(err))
				s.sendError(sid, err)
			}
		case EventDisconnect:
			return
		default:
			log.Debug("[ws] unknown event", zap.String("event", frame.Event))
		}
	}
}

func (s *Server) call(f func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.OpTimeout)
	defer cancel()
	return f(ctx)
}

func (s *Server) touchPresence(sid string) {
	if s.presence == nil {
		return
	}
	err := s.call(func(ctx context.Context) error {
		return s.presence.SetOwner(ctx, sid, s.hub.GwID(), s.conf.PresenceTTL)
	})
	if err != nil {
		logger.Debug("[ws] presence refresh failed", zap.String("session", sid), zap.Error(err))
	}
}

func (s *Server) sendError(sid string, err error) {
	msg := "internal error"
	var ce *errs.CodeError
	if errors.As(err, &ce) {
		msg = ce.EMsg()
	}
	b, berr := BuildFrame(EventError, ErrorPayload{Message: msg})
	if berr != nil {
		return
	}
	_ = s.hub.Send(sid, b)
}
