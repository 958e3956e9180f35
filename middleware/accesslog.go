package middleware

import (
	"time"

	"waitroom/logger"
	"waitroom/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLog logs one line per request through zap.
func AccessLog() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("client", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("[http] request", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("[http] request", fields...)
		default:
			log.Debug("[http] request", fields...)
		}
	}
}

// Recovery answers 500 instead of dropping the connection when a handler
// panics.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := errs.ErrPanic(r)
				logger.Error("[http] panic", zap.String("path", c.Request.URL.Path), zap.Error(err))
				c.AbortWithStatusJSON(500, gin.H{"code": errs.ServerInternalError, "msg": "internal error"})
			}
		}()
		c.Next()
	}
}
