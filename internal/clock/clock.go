package clock

import "time"

// Clock is injected wherever code waits or stamps times, so tests can drive it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
