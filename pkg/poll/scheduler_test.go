package poll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFibonacciProgression(t *testing.T) {
	s := NewScheduler(100*time.Millisecond, 2*time.Second)

	want := []time.Duration{
		100 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		500 * time.Millisecond,
		800 * time.Millisecond,
		1300 * time.Millisecond,
		2 * time.Second, // 2100ms clamps to max
	}
	for i, d := range want {
		assert.Equal(t, d, s.CurrentDelay(), "step %d", i)
		s.OnEmptyPoll()
	}
}

func TestDelayNeverExceedsMax(t *testing.T) {
	s := NewScheduler(time.Second, 10*time.Second)
	for i := 0; i < 1000; i++ {
		s.OnEmptyPoll()
		assert.LessOrEqual(t, s.CurrentDelay(), 10*time.Second)
	}
	assert.Equal(t, 10*time.Second, s.CurrentDelay())
}

func TestActivityResetsFromAnyDepth(t *testing.T) {
	s := NewScheduler(50*time.Millisecond, 5*time.Second)
	for i := 0; i < 100; i++ {
		s.OnEmptyPoll()
	}
	s.OnActivity()
	assert.Equal(t, 50*time.Millisecond, s.CurrentDelay())
}

func TestBoundsFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		min, max time.Duration
		first    time.Duration
		ceiling  time.Duration
	}{
		{"zero min and max", 0, 0, DefaultMinDelay, DefaultMaxDelay},
		{"max below min clamps", time.Second, 100 * time.Millisecond, time.Second, time.Second},
		{"equal bounds", time.Second, time.Second, time.Second, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(tt.min, tt.max)
			assert.Equal(t, tt.first, s.CurrentDelay())
			for i := 0; i < 50; i++ {
				s.OnEmptyPoll()
			}
			assert.Equal(t, tt.ceiling, s.CurrentDelay())
		})
	}
}
