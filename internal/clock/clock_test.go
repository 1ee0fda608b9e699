package clock

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	clock := &RealClock{}

	t.Run("returns current time", func(t *testing.T) {
		before := time.Now()
		actual := clock.Now()
		after := time.Now()

		if actual.Before(before) || actual.After(after) {
			t.Errorf("RealClock.Now() returned time outside expected range: got %v, expected between %v and %v", actual, before, after)
		}
	})

	t.Run("since is non-negative", func(t *testing.T) {
		start := clock.Now()
		time.Sleep(1 * time.Millisecond)
		if d := clock.Since(start); d <= 0 {
			t.Errorf("Since() = %v, want > 0", d)
		}
	})
}

func TestFakeClock(t *testing.T) {
	fixedTime := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	t.Run("frozen clock returns fixed time", func(t *testing.T) {
		clock := NewFakeClock(fixedTime)
		if first, second := clock.Now(), clock.Now(); !first.Equal(second) || !first.Equal(fixedTime) {
			t.Errorf("FakeClock.Now() = %v then %v, want %v", first, second, fixedTime)
		}
	})

	t.Run("advance moves time forward", func(t *testing.T) {
		clock := NewFakeClock(fixedTime)
		clock.Advance(2 * time.Hour)
		if got := clock.Since(fixedTime); got != 2*time.Hour {
			t.Errorf("Since() = %v, want 2h", got)
		}
	})

	t.Run("set replaces time", func(t *testing.T) {
		clock := NewFakeClock(fixedTime)
		newTime := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		clock.Set(newTime)
		if !clock.Now().Equal(newTime) {
			t.Errorf("Set() did not update the time")
		}
	})

	t.Run("stepping clock measures one step per read", func(t *testing.T) {
		clock := NewSteppingClock(fixedTime, 250*time.Millisecond)
		start := clock.Now()
		if got := clock.Since(start); got != 250*time.Millisecond {
			t.Errorf("Since() = %v, want 250ms", got)
		}
	})
}
