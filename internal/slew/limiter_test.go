package slew

import (
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func mustNew(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	l, err := New(cfg, t0)
	if err != nil {
		t.Fatalf("New(%+v): %v", cfg, err)
	}
	return l
}

func TestCalculate_BoundsChangePerSecond(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		target  float64
		elapsed time.Duration
		want    float64
	}{
		{"increase capped", Config{MaxIncreasePerSecond: 30, MaxDecreasePerSecond: 30}, 1000, time.Second, 30},
		{"increase within budget", Config{MaxIncreasePerSecond: 30, MaxDecreasePerSecond: 30}, 10, time.Second, 10},
		{"half second", Config{MaxIncreasePerSecond: 30, MaxDecreasePerSecond: 30}, 1000, 500 * time.Millisecond, 15},
		{"decrease capped", Config{MaxIncreasePerSecond: 30, MaxDecreasePerSecond: 5, Initial: 100}, 0, 2 * time.Second, 90},
		{"asymmetric increase", Config{MaxIncreasePerSecond: 1, MaxDecreasePerSecond: 50}, 100, 3 * time.Second, 3},
		{"zero elapsed does nothing", Config{MaxIncreasePerSecond: 30, MaxDecreasePerSecond: 30, Initial: 7}, 1000, 0, 7},
		{"zero rate holds", Config{Initial: 42}, 0, time.Hour, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := mustNew(t, tt.cfg)
			got := l.Calculate(tt.target, t0.Add(tt.elapsed))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Calculate(%v) after %v = %v, want %v", tt.target, tt.elapsed, got, tt.want)
			}
			if l.Value() != got {
				t.Errorf("Value() = %v, want %v", l.Value(), got)
			}
		})
	}
}

func TestCalculate_ConvergesAndStays(t *testing.T) {
	l := mustNew(t, Config{MaxIncreasePerSecond: 30, MaxDecreasePerSecond: 30})
	now := t0
	var got float64
	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		got = l.Calculate(180, now)
	}
	if got != 180 {
		t.Fatalf("after 10s at 30/s got %v, want 180", got)
	}
	now = now.Add(time.Second)
	if got := l.Calculate(180, now); got != 180 {
		t.Errorf("at target, Calculate = %v, want 180", got)
	}
}

func TestCalculate_NeverExceedsRate(t *testing.T) {
	l := mustNew(t, Config{MaxIncreasePerSecond: 20, MaxDecreasePerSecond: 40})
	targets := []float64{500, -500, 3, 3, 180, 0, -1e6, 1e6}
	steps := []time.Duration{10 * time.Millisecond, 250 * time.Millisecond, time.Second, 0, 3 * time.Second, 20 * time.Millisecond, time.Second, 2 * time.Second}

	now := t0
	prev := l.Value()
	for i, target := range targets {
		now = now.Add(steps[i])
		got := l.Calculate(target, now)
		limit := 40 * steps[i].Seconds()
		if math.Abs(got-prev) > limit+1e-9 {
			t.Fatalf("step %d: moved %v in %v, limit %v", i, got-prev, steps[i], limit)
		}
		prev = got
	}
}

func TestCalculate_BackwardsTimestamp(t *testing.T) {
	l := mustNew(t, Config{MaxIncreasePerSecond: 10, MaxDecreasePerSecond: 10})
	l.Calculate(100, t0.Add(2*time.Second)) // 20

	if got := l.Calculate(100, t0.Add(time.Second)); got != 20 {
		t.Fatalf("backwards timestamp moved output to %v", got)
	}
	// the time base stayed at t0+2s, so one more second allows 10 more
	if got := l.Calculate(100, t0.Add(3*time.Second)); got != 30 {
		t.Errorf("Calculate after backwards step = %v, want 30", got)
	}
}

func TestSetRates(t *testing.T) {
	l := mustNew(t, Config{MaxIncreasePerSecond: 10, MaxDecreasePerSecond: 10})
	l.Calculate(100, t0.Add(time.Second)) // 10

	if err := l.SetRates(50, 5); err != nil {
		t.Fatalf("SetRates: %v", err)
	}
	if inc, dec := l.Rates(); inc != 50 || dec != 5 {
		t.Errorf("Rates() = %v, %v", inc, dec)
	}
	if got := l.Value(); got != 10 {
		t.Errorf("SetRates changed output to %v", got)
	}
	if got := l.Calculate(100, t0.Add(2*time.Second)); got != 60 {
		t.Errorf("Calculate with new rate = %v, want 60", got)
	}
	if got := l.Calculate(0, t0.Add(3*time.Second)); got != 55 {
		t.Errorf("Calculate decreasing = %v, want 55", got)
	}

	if err := l.SetRate(-1); !errors.Is(err, ErrNegativeRate) {
		t.Errorf("SetRate(-1) err = %v, want ErrNegativeRate", err)
	}
	if inc, dec := l.Rates(); inc != 50 || dec != 5 {
		t.Errorf("failed SetRate changed rates to %v, %v", inc, dec)
	}
}

func TestNew_RejectsNegativeRates(t *testing.T) {
	if _, err := New(Config{MaxIncreasePerSecond: -1}, t0); !errors.Is(err, ErrNegativeRate) {
		t.Errorf("New negative increase err = %v", err)
	}
	if _, err := NewSymmetric(-0.5, t0); !errors.Is(err, ErrNegativeRate) {
		t.Errorf("NewSymmetric negative err = %v", err)
	}
	l, err := NewSymmetric(30, t0)
	if err != nil {
		t.Fatal(err)
	}
	if l.Value() != 0 {
		t.Errorf("NewSymmetric initial = %v, want 0", l.Value())
	}
}
