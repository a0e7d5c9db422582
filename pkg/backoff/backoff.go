// Package backoff provides exponential backoff calculation and poll schedules.
package backoff

import (
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial    time.Duration // default: 100ms
	Max        time.Duration // default: 5s
	Multiplier float64       // default: 2
}

func (c *Config) resolve() (initial, maxDelay time.Duration, multiplier float64) {
	initial = 100 * time.Millisecond
	maxDelay = 5 * time.Second
	multiplier = 2.0
	if c != nil {
		if c.Initial > 0 {
			initial = c.Initial
		}
		if c.Max > 0 {
			maxDelay = c.Max
		}
		if c.Multiplier > 1 {
			multiplier = c.Multiplier
		}
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return initial, maxDelay, multiplier
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*multiplier, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, maxDelay, multiplier := cfg.resolve()

	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}
	return time.Duration(backoff)
}

// Schedule hands out successive delays for a polling loop.
// A Schedule is not safe for concurrent use; each poller owns one.
type Schedule struct {
	cfg     Config
	attempt int
}

// NewSchedule creates a schedule starting at attempt 1.
func NewSchedule(cfg *Config) *Schedule {
	s := &Schedule{}
	if cfg != nil {
		s.cfg = *cfg
	}
	return s
}

// Next returns the delay before the next poll and advances the schedule.
func (s *Schedule) Next() time.Duration {
	s.attempt++
	return Exponential(s.attempt, &s.cfg)
}

// Reset restarts the schedule at the initial delay, for example after
// observing progress.
func (s *Schedule) Reset() {
	s.attempt = 0
}

// Attempts returns how many delays have been handed out since the last reset.
func (s *Schedule) Attempts() int {
	return s.attempt
}
