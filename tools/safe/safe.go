package safe

import (
	errs "HDProject/tools/errs"
	"HDProject/logger"
)

// SafeGo starts a new goroutine that recovers from panic,
// so a single connection's handler can never crash the process.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[SafeGo] panic recovered: %v", errs.ErrPanic(r))
			}
		}()
		f()
	}()
}

// Recover is the deferred form for goroutines that need their own loop body.
func Recover(where string) {
	if r := recover(); r != nil {
		logger.Errorf("[%s] panic recovered: %v", where, errs.ErrPanic(r))
	}
}
