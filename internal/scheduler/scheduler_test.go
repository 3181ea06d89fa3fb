package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0
	err := s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		ticks++
		if ticks >= 3 {
			cancel()
		}
		return nil
	})

	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ticks < 3 {
		t.Fatalf("expected at least 3 cycles, got %d", ticks)
	}
}

func TestNextAligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToBucket: true}, zerolog.Nop())

	now := time.Date(2025, 6, 1, 10, 2, 30, 0, time.UTC)
	next := s.next(now)
	want := time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNewPanicsOnBadInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive interval")
		}
	}()
	New(Options{}, zerolog.Nop())
}
