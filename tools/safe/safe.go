package safe

import (
	"waitroom/logger"
	"waitroom/tools/errs"

	"go.uber.org/zap"
)

// Go starts f on a new goroutine that recovers from panic, so a bug in a
// background task never takes the process down.
func Go(name string, f func()) {
	go Run(name, f)
}

// Run calls f on the current goroutine and converts a panic into a logged
// error, which is also returned.
func Run(name string, f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
			logger.Error("panic recovered", zap.String("task", name), zap.Error(err))
		}
	}()
	f()
	return nil
}
