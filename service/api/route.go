package api

import (
	"waitroom/middleware"

	"github.com/gin-gonic/gin"
)

// Register mounts the HTTP endpoints on r.
func (s *Server) Register(r gin.IRoutes) {
	middleware.GET(r, "/", Wrap(s.Index), middleware.RouteOpt{})
	middleware.GET(r, "/healthz", Wrap(s.Healthz), middleware.RouteOpt{NoStore: true})
	middleware.GET(r, "/api/status", Wrap(s.Status), middleware.RouteOpt{NoStore: true})
	middleware.GET(r, "/api/user_session_active/:user_id", Wrap(s.UserSessionActive), middleware.RouteOpt{NoStore: true})
	middleware.GET(r, "/api/queue_status/:session_id", Wrap(s.QueueStatus), middleware.RouteOpt{NoStore: true})
	middleware.GET(r, "/api/debug_heartbeats", Wrap(s.DebugHeartbeats), middleware.RouteOpt{NoStore: true})
}
