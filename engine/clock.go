package engine

import "time"

// Clock abstracts time so scheduling arithmetic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock uses the system time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
