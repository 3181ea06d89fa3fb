// Package scheduler drives collection cycles on a fixed, optionally
// bucket-aligned interval.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CycleFunc runs one collection cycle for the given bucket instant.
type CycleFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval      time.Duration
	AlignToBucket bool
	StartupDelay  time.Duration
}

// Scheduler repeatedly invokes a cycle function until its context is
// cancelled. Cycle errors are logged, never fatal: a failed pull should not
// stop the collector.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking cycle at each interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, cycle CycleFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleepCtx(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		next := s.next(time.Now().UTC())
		s.logger.Debug().Time("next_cycle", next).Msg("waiting for next cycle")

		if err := sleepCtx(ctx, time.Until(next)); err != nil {
			return err
		}

		bucket := next
		if s.opts.AlignToBucket {
			bucket = next.Truncate(s.opts.Interval)
		}
		s.logger.Info().Time("bucket", bucket).Msg("starting collection cycle")

		if err := cycle(ctx, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("collection cycle failed")
		}
	}
}

// next returns the wall-clock instant of the upcoming cycle. When aligned,
// cycles land on interval boundaries so samples bucket cleanly across
// restarts and replicas.
func (s *Scheduler) next(now time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval).Add(s.opts.Interval)
	return bucket
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
