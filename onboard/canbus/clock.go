package canbus

import "time"

// Clock is the time source for frame ages and protocol deadlines.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
