package natsx

import (
	"context"
	"time"

	"waitroom/logger"
	"waitroom/tools/errs"

	"go.uber.org/zap"
)

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// NatsxHandler 业务处理函数
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware wraps a handler (logging, recovery, ...).
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain applies mws so that mws[0] runs outermost.
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover turns a handler panic into an error so one bad message cannot
// kill the subscription goroutine.
func Recover() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.ErrPanic(r)
					logger.Error("[natsx] handler panic", zap.String("subject", msg.Subject), zap.Any("panic", r))
				}
			}()
			return next(ctx, msg)
		}
	}
}

// LogErrors logs failed and slow handler calls.
func LogErrors(slow time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			start := time.Now()
			err := next(ctx, msg)
			if err != nil {
				logger.Warn("[natsx] handler failed", zap.String("subject", msg.Subject), zap.Error(err))
			} else if took := time.Since(start); slow > 0 && took > slow {
				logger.Info("[natsx] slow handler", zap.String("subject", msg.Subject), zap.Duration("took", took))
			}
			return err
		}
	}
}
