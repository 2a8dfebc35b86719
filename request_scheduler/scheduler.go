// Package request_scheduler provides a bounded-concurrency FIFO scheduler
// for outbound portal calls. The portal applies its own throttling and
// rejects bursts, so admission is spaced by a randomized delay in addition
// to the concurrency ceiling.
package request_scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Default scheduler parameters. Three overlapping calls with 30-500ms
// spacing is the fastest cadence the portal tolerates without tripping
// its request filter.
const (
	DefaultCeiling  = 3
	DefaultMinDelay = 30 * time.Millisecond
	DefaultMaxDelay = 500 * time.Millisecond
)

// sleeper abstracts time.Sleep so tests can observe delays without waiting.
type sleeper interface {
	Sleep(d time.Duration)
}

type defaultSleeper struct{}

func (defaultSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Scheduler admits units of work in FIFO order, runs at most `ceiling` of
// them concurrently, and keeps each slot occupied for a randomized delay
// after its work completes. Errors from a unit of work are returned to its
// caller only; they never affect other queued or in-flight work.
type Scheduler struct {
	slots    *semaphore.Weighted
	minDelay time.Duration
	maxDelay time.Duration
	sleep    sleeper

	mu  sync.Mutex
	rng *rand.Rand
}

// NewScheduler creates a Scheduler with the given concurrency ceiling and
// jitter bounds. Non-positive or inverted arguments fall back to the
// package defaults.
func NewScheduler(ceiling int, minDelay, maxDelay time.Duration) *Scheduler {
	if ceiling < 1 {
		ceiling = DefaultCeiling
	}
	if minDelay < 0 {
		minDelay = DefaultMinDelay
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Scheduler{
		slots:    semaphore.NewWeighted(int64(ceiling)),
		minDelay: minDelay,
		maxDelay: maxDelay,
		sleep:    defaultSleeper{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewDefaultScheduler creates a Scheduler with the package defaults.
func NewDefaultScheduler() *Scheduler {
	return NewScheduler(DefaultCeiling, DefaultMinDelay, DefaultMaxDelay)
}

// Do runs work once a slot is free, in the order Do was called.
// The context is consulted only while waiting for a slot; once admitted,
// work runs to completion or failure. The error returned by work is
// propagated untouched.
func (s *Scheduler) Do(ctx context.Context, work func() error) error {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	err := work()
	// The slot stays occupied for the jitter delay so the next admission
	// is spaced out, without making the finished caller wait for it.
	go func() {
		s.sleep.Sleep(s.jitter())
		s.slots.Release(1)
	}()
	return err
}

// Schedule runs work through s and returns its typed result.
func Schedule[T any](ctx context.Context, s *Scheduler, work func() (T, error)) (T, error) {
	var result T
	err := s.Do(ctx, func() error {
		var werr error
		result, werr = work()
		return werr
	})
	return result, err
}

// jitter returns a uniformly distributed delay in [minDelay, maxDelay).
func (s *Scheduler) jitter() time.Duration {
	if s.maxDelay <= s.minDelay {
		return s.minDelay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minDelay + time.Duration(s.rng.Int63n(int64(s.maxDelay-s.minDelay)))
}
