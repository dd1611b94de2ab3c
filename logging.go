package msgloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// loopLogger wraps the loop's optional logiface logger. All methods are
// safe on the zero value: a nil underlying logger disables everything.
type loopLogger struct {
	logger *logiface.Logger[logiface.Event]
}

func (x loopLogger) loopStarted(loopID uint64) {
	x.logger.Info().
		Uint64("loop", loopID).
		Log("message loop started")
}

func (x loopLogger) loopShutdown(loopID uint64) {
	x.logger.Info().
		Uint64("loop", loopID).
		Log("message loop shutting down")
}

func (x loopLogger) loopStopped(loopID uint64) {
	x.logger.Info().
		Uint64("loop", loopID).
		Log("message loop stopped")
}

func (x loopLogger) taskPanicked(loopID uint64, recovered any) {
	x.logger.Err().
		Uint64("loop", loopID).
		Str("panic", fmt.Sprint(recovered)).
		Log("task panicked")
}

func (x loopLogger) reactorError(loopID uint64, e Error) {
	x.logger.Err().
		Uint64("loop", loopID).
		Str("error", e.Details()).
		Log("reactor poll failed")
}

func (x loopLogger) timerScheduled(loopID uint64, delay time.Duration) {
	x.logger.Debug().
		Uint64("loop", loopID).
		Dur("delay", delay).
		Log("timer scheduled")
}

func (x loopLogger) dispatchDropped(loopID uint64) {
	x.logger.Warning().
		Uint64("loop", loopID).
		Log("dispatch to a stopped loop dropped")
}
