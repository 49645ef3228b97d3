package redrive

import "time"

// Clock provides deterministic time for the retry controller and the dead-letter router.
type Clock interface {
	Now() time.Time
}

// RealClock uses time.Now in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
