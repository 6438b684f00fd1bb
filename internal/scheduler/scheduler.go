// Package scheduler drives polls on wall-clock aligned five-minute boundaries.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/surgewatch/internal/logger"
)

const (
	// Interval is the cadence of aligned triggers.
	Interval = 5 * time.Minute
	// Offset is the second within the boundary minute at which a poll fires,
	// leaving the exchange time to close the previous candle.
	Offset = 3 * time.Second
)

// PollFunc runs one cycle.
type PollFunc func(ctx context.Context) error

// NextDelay returns the wait from now until the next trigger instant: the
// next multiple-of-five minute mark at Offset seconds.
func NextDelay(now time.Time) time.Duration {
	minute := (now.Minute() + 4) / 5 * 5
	next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute,
		int(Offset/time.Second), 0, now.Location())
	if !next.After(now) {
		next = next.Add(Interval)
	}
	return next.Sub(now)
}

// Scheduler repeatedly waits for the next trigger and runs a poll.
type Scheduler struct {
	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

// New creates a Scheduler on the real clock.
func New() *Scheduler {
	return &Scheduler{now: time.Now, after: afterTimer}
}

func afterTimer(d time.Duration) <-chan time.Time {
	return time.NewTimer(d).C
}

// Run loops until ctx is cancelled. Errors and panics from poll are logged
// and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, poll PollFunc) {
	for {
		if ctx.Err() != nil {
			logger.Info("Scheduler stopped")
			return
		}

		now := s.now()
		delay := NextDelay(now)
		logger.Info("Next check at %s", now.Add(delay).Format("2006-01-02 15:04:05"))

		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped")
			return
		case <-s.after(delay):
		}

		if err := runSafely(ctx, poll); err != nil {
			logger.Error("Poll failed: %v", err)
		}
	}
}

func runSafely(ctx context.Context, poll PollFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll panicked: %v", r)
		}
	}()
	return poll(ctx)
}
