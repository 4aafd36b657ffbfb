package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestElapsedSeconds(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		to   time.Time
		want float64
	}{
		{"forward", base.Add(1500 * time.Millisecond), 1.5},
		{"same instant", base, 0},
		{"backwards", base.Add(-time.Second), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ElapsedSeconds(base, tt.to); got != tt.want {
				t.Errorf("ElapsedSeconds() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMockClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Advance(2 * time.Second)
	if got := clock.Since(start); got != 2*time.Second {
		t.Errorf("Since() = %v, want 2s", got)
	}

	clock.Set(start.Add(-time.Second))
	if got := clock.Now(); !got.Equal(start.Add(-time.Second)) {
		t.Errorf("Now() after Set = %v", got)
	}
}

func TestMockTicker_FiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(20 * time.Millisecond)

	clock.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(10 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if !got.Equal(start.Add(20 * time.Millisecond)) {
			t.Errorf("tick time = %v", got)
		}
	default:
		t.Fatal("ticker did not fire at its interval")
	}

	if n := clock.Tickers(); n != 1 {
		t.Errorf("Tickers() = %d, want 1", n)
	}
	ticker.Stop()
	if n := clock.Tickers(); n != 0 {
		t.Errorf("Tickers() after Stop = %d, want 0", n)
	}
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTicker_CoalescesMissedTicks(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	clock.Advance(70 * time.Millisecond)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("missed periods produced more than one tick")
	default:
	}

	// next tick stays on the 20ms grid: 80ms, not 70ms+20ms
	clock.Advance(10 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if !got.Equal(start.Add(80 * time.Millisecond)) {
			t.Errorf("tick time = %v", got)
		}
	default:
		t.Fatal("ticker did not fire on its grid")
	}
}
