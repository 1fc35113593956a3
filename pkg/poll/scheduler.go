// Package poll implements the adaptive delay schedule between session
// polls. Delays grow along a bounded Fibonacci progression while a chat
// is idle and snap back to the minimum on any activity, so idle accounts
// stop burning CPU without giving up low-latency pickup.
package poll

import "time"

const (
	DefaultMinDelay = 500 * time.Millisecond
	DefaultMaxDelay = 30 * time.Second
)

// Scheduler holds per-worker delay state. It is not safe for concurrent
// use; each worker owns exactly one.
type Scheduler struct {
	delays []time.Duration
	index  int
}

// NewScheduler precomputes the delay sequence d[0]=min, d[1]=min,
// d[n]=min(d[n-1]+d[n-2], max). Non-positive bounds fall back to the
// defaults; max below min is clamped to min.
func NewScheduler(min, max time.Duration) *Scheduler {
	if min <= 0 {
		min = DefaultMinDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < min {
		max = min
	}

	delays := []time.Duration{min, min}
	for {
		next := delays[len(delays)-1] + delays[len(delays)-2]
		if next >= max {
			delays = append(delays, max)
			break
		}
		delays = append(delays, next)
	}
	return &Scheduler{delays: delays}
}

// OnEmptyPoll advances the sequence one step, saturating at max.
func (s *Scheduler) OnEmptyPoll() {
	if s.index < len(s.delays)-1 {
		s.index++
	}
}

// OnActivity resets the delay to the minimum.
func (s *Scheduler) OnActivity() {
	s.index = 0
}

// CurrentDelay returns the delay for the current sequence position.
func (s *Scheduler) CurrentDelay() time.Duration {
	return s.delays[s.index]
}
