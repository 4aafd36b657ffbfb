// Package slew bounds how fast a scalar output may change per second.
package slew

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/rcdrive/internal/timeutil"
)

// ErrNegativeRate is returned for a negative per-second rate.
var ErrNegativeRate = errors.New("slew rate must not be negative")

// Config holds the limiter's rates in units per second. Initial seeds the
// first output.
type Config struct {
	MaxIncreasePerSecond float64
	MaxDecreasePerSecond float64
	Initial              float64
}

// Validate rejects negative rates.
func (c Config) Validate() error {
	if c.MaxIncreasePerSecond < 0 || c.MaxDecreasePerSecond < 0 {
		return fmt.Errorf("%w: increase %v, decrease %v", ErrNegativeRate, c.MaxIncreasePerSecond, c.MaxDecreasePerSecond)
	}
	return nil
}

// Limiter moves its output toward a target by at most the configured rate
// times the time elapsed since the previous call. It keeps no lock; a single
// control loop owns it.
type Limiter struct {
	maxIncrease float64
	maxDecrease float64

	lastValue     float64
	lastTimestamp time.Time
}

// New returns a limiter whose time base starts at start.
func New(cfg Config, start time.Time) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		maxIncrease:   cfg.MaxIncreasePerSecond,
		maxDecrease:   cfg.MaxDecreasePerSecond,
		lastValue:     cfg.Initial,
		lastTimestamp: start,
	}, nil
}

// NewSymmetric returns a limiter with the same rate in both directions,
// starting from zero.
func NewSymmetric(rate float64, start time.Time) (*Limiter, error) {
	return New(Config{MaxIncreasePerSecond: rate, MaxDecreasePerSecond: rate}, start)
}

// Calculate advances the output toward target and returns it. A timestamp at
// or before the previous one produces no movement and does not move the time
// base backwards.
func (l *Limiter) Calculate(target float64, now time.Time) float64 {
	elapsed := timeutil.ElapsedSeconds(l.lastTimestamp, now)

	delta := target - l.lastValue
	if up := l.maxIncrease * elapsed; delta > up {
		delta = up
	}
	if down := -l.maxDecrease * elapsed; delta < down {
		delta = down
	}
	l.lastValue += delta

	if now.After(l.lastTimestamp) {
		l.lastTimestamp = now
	}
	return l.lastValue
}

// SetRate sets both rates for subsequent calls.
func (l *Limiter) SetRate(rate float64) error {
	return l.SetRates(rate, rate)
}

// SetRates sets the increase and decrease rates for subsequent calls. The
// current output is kept.
func (l *Limiter) SetRates(increase, decrease float64) error {
	if err := (Config{MaxIncreasePerSecond: increase, MaxDecreasePerSecond: decrease}).Validate(); err != nil {
		return err
	}
	l.maxIncrease = increase
	l.maxDecrease = decrease
	return nil
}

// Value returns the most recent output.
func (l *Limiter) Value() float64 {
	return l.lastValue
}

// Rates returns the increase and decrease rates.
func (l *Limiter) Rates() (increase, decrease float64) {
	return l.maxIncrease, l.maxDecrease
}
