package api

import (
	"context"
	"errors"
	"net/http"

	"waitroom/logger"
	"waitroom/module/waitroom"
	"waitroom/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Room is the read side of the controller the endpoints need.
type Room interface {
	StatusReport(ctx context.Context) ([]waitroom.UserStatus, error)
	SessionActive(ctx context.Context, userID string) (waitroom.SessionActivity, error)
	QueueStatus(ctx context.Context, sessionID string) (waitroom.QueueStatus, error)
	DebugHeartbeats(ctx context.Context, userID string) ([]waitroom.DebugHeartbeat, error)
	Settings() *waitroom.Settings
}

// Pinger reports store health for /healthz; nil means always healthy.
type Pinger func(ctx context.Context) error

type Server struct {
	room   Room
	nodeID string
	ping   Pinger
}

func NewServer(room Room, nodeID string, ping Pinger) *Server {
	return &Server{room: room, nodeID: nodeID, ping: ping}
}

// HandlerFunc is a gin handler that reports failure through its return value.
type HandlerFunc func(c *gin.Context) error

// Wrap turns a HandlerFunc into a gin handler, mapping error codes to
// HTTP statuses.
func Wrap(h HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h(c); err != nil {
			status, msg := httpStatus(err)
			if status >= http.StatusInternalServerError {
				logger.Error("[api] request failed", zap.String("path", c.FullPath()), zap.Error(err))
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
		}
	}
}

func httpStatus(err error) (int, string) {
	var ce *errs.CodeError
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError, "internal error"
	}
	switch ce.Code {
	case errs.ArgsError:
		if ce.Detail != "" {
			return http.StatusBadRequest, ce.Detail
		}
		return http.StatusBadRequest, ce.Msg
	case errs.SessionNotFoundError:
		return http.StatusNotFound, ce.Msg
	case errs.StoreUnavailableError:
		return http.StatusServiceUnavailable, ce.Msg
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// Index is the room banner.
func (s *Server) Index(c *gin.Context) error {
	set := s.room.Settings()
	c.JSON(http.StatusOK, gin.H{
		"service":          "waitroom",
		"node":             s.nodeID,
		"admission_window": set.Capacity(),
		"timeout_seconds":  set.Timeout().Seconds(),
		"socket":           "/ws",
	})
	return nil
}

// Status lists every queued user.
func (s *Server) Status(c *gin.Context) error {
	list, err := s.room.StatusReport(c.Request.Context())
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, list)
	return nil
}

func (s *Server) UserSessionActive(c *gin.Context) error {
	res, err := s.room.SessionActive(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, res)
	return nil
}

func (s *Server) QueueStatus(c *gin.Context) error {
	res, err := s.room.QueueStatus(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, res)
	return nil
}

// DebugHeartbeats needs ?user_id=; without it the answer is 400.
func (s *Server) DebugHeartbeats(c *gin.Context) error {
	userID := c.Query("user_id")
	if userID == "" {
		return errs.ErrArgs.WithDetail("User ID not provided")
	}
	list, err := s.room.DebugHeartbeats(c.Request.Context(), userID)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, list)
	return nil
}

func (s *Server) Healthz(c *gin.Context) error {
	if s.ping != nil {
		if err := s.ping(c.Request.Context()); err != nil {
			return errs.ErrStoreUnavailable.WrapMsg("healthz", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
	return nil
}
