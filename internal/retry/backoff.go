package retry

import (
	"context"
	"math/rand"
	"time"
)

// Jitter produces short random waits inside a fixed window.
// Connect retries use 1–5 ms and lock contention uses 0.1–3 ms; the waits
// exist to de-synchronise competing callers, not to wait out an outage.
type Jitter struct {
	// min and max bound the wait (inclusive).
	min time.Duration
	max time.Duration

	// randFunc provides random values in [0, 1) (defaults to math/rand).
	randFunc func() float64

	// sleepFunc blocks for d or until ctx is done (defaults to a timer).
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// JitterOption is a functional option for configuring Jitter.
type JitterOption func(*Jitter)

// WithRandFunc sets a custom source of random values in [0, 1).
func WithRandFunc(f func() float64) JitterOption {
	return func(j *Jitter) {
		j.randFunc = f
	}
}

// WithSleepFunc replaces the blocking wait. Tests use it to record delays.
func WithSleepFunc(f func(ctx context.Context, d time.Duration) error) JitterOption {
	return func(j *Jitter) {
		j.sleepFunc = f
	}
}

// NewJitter creates a Jitter for the window [min, max].
// A max below min is raised to min.
func NewJitter(min, max time.Duration, opts ...JitterOption) *Jitter {
	if max < min {
		max = min
	}
	j := &Jitter{
		min:       min,
		max:       max,
		randFunc:  rand.Float64,
		sleepFunc: sleepContext,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Next returns a random duration within the window.
func (j *Jitter) Next() time.Duration {
	span := j.max - j.min
	if span <= 0 {
		return j.min
	}
	return j.min + time.Duration(j.randFunc()*float64(span+1))
}

// Sleep waits for a random duration within the window.
// Returns ctx.Err() if the context ends first.
func (j *Jitter) Sleep(ctx context.Context) error {
	return j.sleepFunc(ctx, j.Next())
}

// Min returns the lower bound for tests and debugging.
func (j *Jitter) Min() time.Duration {
	return j.min
}

// Max returns the upper bound for tests and debugging.
func (j *Jitter) Max() time.Duration {
	return j.max
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
