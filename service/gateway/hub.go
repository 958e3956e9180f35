package gateway

import (
	"net"
	"sync"
	"time"

	"waitroom/logger"
	"waitroom/tools/errs"
	"waitroom/tools/safe"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ===== 配置 =====

type HubConf struct {
	SendBuffer     int           // per-connection outbound queue
	WriteWait      time.Duration // deadline for one write
	PingInterval   time.Duration
	FirstPingDelay time.Duration // first ping is delayed so a fresh socket is not hit right away
	PongWait       time.Duration // read deadline, renewed by every pong or frame
	Clock          func() time.Time
}

func (c *HubConf) norm() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.FirstPingDelay <= 0 {
		c.FirstPingDelay = 5 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 3 * c.PingInterval
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// ===== Client =====

type closeReq struct {
	code int
	text string
}

// Client is one live socket. Only its write pump writes to Conn.
type Client struct {
	SessionID string
	Conn      *websocket.Conn
	Remote    net.Addr
	CreatedAt time.Time

	send      chan []byte
	closeCh   chan closeReq
	closeOnce sync.Once
	done      chan struct{}
}

// Done is closed once the write pump has closed the socket.
func (c *Client) Done() <-chan struct{} { return c.done }

// shutdown asks the write pump to flush pending frames, send a close frame
// and close the socket. Only the first call wins.
func (c *Client) shutdown(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCh <- closeReq{code: code, text: text}
		close(c.closeCh)
	})
}

// ===== Hub =====

// Hub indexes this instance's sockets by session id.
type Hub struct {
	mu        sync.RWMutex
	bySession map[string]*Client
	conf      HubConf
	gwID      string
}

func NewHub(conf HubConf, gwID string) *Hub {
	conf.norm()
	return &Hub{
		bySession: make(map[string]*Client),
		conf:      conf,
		gwID:      gwID,
	}
}

func (h *Hub) GwID() string { return h.gwID }

func (h *Hub) Conf() HubConf { return h.conf }

// Add registers conn under sessionID and starts its write pump.
func (h *Hub) Add(sessionID string, conn *websocket.Conn) (*Client, error) {
	if sessionID == "" || conn == nil {
		return nil, errs.ErrArgs.WrapMsg("session id or conn empty")
	}
	c := &Client{
		SessionID: sessionID,
		Conn:      conn,
		Remote:    conn.RemoteAddr(),
		CreatedAt: h.conf.Clock(),
		send:      make(chan []byte, h.conf.SendBuffer),
		closeCh:   make(chan closeReq, 1),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	if _, exists := h.bySession[sessionID]; exists {
		h.mu.Unlock()
		return nil, errs.ErrArgs.WrapMsg("session id exists", "session", sessionID)
	}
	h.bySession[sessionID] = c
	h.mu.Unlock()

	safe.Go("gateway.writePump", func() { h.writePump(c) })
	return c, nil
}

func (h *Hub) Get(sessionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.bySession[sessionID]
	return c, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySession)
}

// Send queues data for the session. A full queue means the peer stopped
// reading; the frame is dropped rather than blocking the caller.
func (h *Hub) Send(sessionID string, data []byte) error {
	c, ok := h.Get(sessionID)
	if !ok {
		return errs.ErrSessionNotFound.WrapMsg("no local socket", "session", sessionID)
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errs.ErrSessionNotFound.WrapMsg("socket closed", "session", sessionID)
	default:
		logger.Warn("[hub] send queue full, drop frame", zap.String("session", sessionID))
		return errs.New("send queue full", "session", sessionID)
	}
}

// CloseSession flushes what is queued, sends a close frame and drops the
// session from the index.
func (h *Hub) CloseSession(sessionID string, code int, text string) error {
	h.mu.Lock()
	c, ok := h.bySession[sessionID]
	delete(h.bySession, sessionID)
	h.mu.Unlock()
	if !ok {
		return errs.ErrSessionNotFound.WrapMsg("no local socket", "session", sessionID)
	}
	c.shutdown(code, text)
	return nil
}

// Remove 读循环结束后移除连接
func (h *Hub) Remove(sessionID string) {
	_ = h.CloseSession(sessionID, websocket.CloseNormalClosure, "")
}

// Close shuts every socket down.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.bySession
	h.bySession = make(map[string]*Client)
	h.mu.Unlock()
	for _, c := range all {
		c.shutdown(websocket.CloseGoingAway, "server shutdown")
	}
}

// ===== write pump =====

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(h.conf.PingInterval)
	first := time.NewTimer(h.conf.FirstPingDelay)
	req := closeReq{code: websocket.CloseNormalClosure}
	defer func() {
		ticker.Stop()
		first.Stop()
		_ = c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(req.code, req.text), time.Now().Add(h.conf.WriteWait))
		_ = c.Conn.Close()
		close(c.done)
		logger.Debug("[hub] socket closed", zap.String("session", c.SessionID), zap.Int("code", req.code))
	}()

	for {
		select {
		case payload := <-c.send:
			if err := h.write(c, payload); err != nil {
				return
			}
		case r, ok := <-c.closeCh:
			if ok {
				req = r
			}
			h.drain(c)
			return
		case <-first.C:
			if err := h.ping(c); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.ping(c); err != nil {
				return
			}
		}
	}
}

// drain writes whatever is still queued so an error frame lands before the
// close frame.
func (h *Hub) drain(c *Client) {
	for {
		select {
		case payload := <-c.send:
			if err := h.write(c, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *Hub) write(c *Client, payload []byte) error {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(h.conf.WriteWait))
	if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		logger.Info("[hub] write err", zap.String("session", c.SessionID), zap.Error(err))
		return err
	}
	return nil
}

func (h *Hub) ping(c *Client) error {
	if err := c.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(h.conf.WriteWait)); err != nil {
		logger.Info("[hub] ping err", zap.String("session", c.SessionID), zap.Error(err))
		return err
	}
	return nil
}
