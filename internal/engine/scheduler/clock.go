package scheduler

import "time"

type (
	// Clock reports the current time. The scheduler calls it whenever it
	// needs to compute how long to sleep before the next due task
	Clock func() time.Time

	// Timer is the waitable alarm the scheduler arms between tasks. The
	// system implementation wraps time.Timer; tests substitute their own
	Timer interface {
		Channel() <-chan time.Time
		Reset(delay time.Duration) bool
		Stop() bool
	}

	// TimerConstructor creates a Timer armed with an initial delay
	TimerConstructor func(delay time.Duration) Timer

	wallTimer struct {
		inner *time.Timer
	}
)

// NewTimer is the TimerConstructor backed by the runtime timer
func NewTimer(delay time.Duration) Timer {
	return &wallTimer{
		inner: time.NewTimer(delay),
	}
}

func (t *wallTimer) Channel() <-chan time.Time {
	return t.inner.C
}

func (t *wallTimer) Reset(delay time.Duration) bool {
	return t.inner.Reset(delay)
}

func (t *wallTimer) Stop() bool {
	return t.inner.Stop()
}
