// Package retrypolicy maps attempt numbers to backoff delays. It is a
// pure lookup table so the schedule can be unit-tested and swapped
// without touching the delivery log store.
package retrypolicy

import "time"

// Schedule is an exponential backoff table with a capped number of
// automatic attempts. Once the requested attempt number runs past the
// table the budget is exhausted and no further automatic retry is
// scheduled.
type Schedule struct {
	delays []time.Duration
}

// Default returns the standard schedule: 1h, 4h, 24h, then exhausted.
func Default() *Schedule {
	return &Schedule{
		delays: []time.Duration{
			1 * time.Hour,
			4 * time.Hour,
			24 * time.Hour,
		},
	}
}

// NewSchedule builds a schedule from an explicit delay table.
func NewSchedule(delays ...time.Duration) *Schedule {
	return &Schedule{delays: delays}
}

// NextDelay returns the backoff for the given attempt number and whether
// the automatic retry budget still covers it. ok=false means exhausted.
func (s *Schedule) NextDelay(attempt int) (time.Duration, bool) {
	idx := attempt - 1
	if idx < 0 || idx >= len(s.delays) {
		return 0, false
	}
	return s.delays[idx], true
}
