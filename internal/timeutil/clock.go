// Package timeutil provides the monotonic clock used by the control loop and
// a manually driven clock for tests.
//
// All elapsed-time arithmetic in rcdrive goes through ElapsedSeconds so the
// unit conversion (time.Duration to float seconds) happens in one place.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source for the loop, limiter, receiver and plant.
type Clock interface {
	// Now returns the current time. Values returned by RealClock carry a
	// monotonic reading, so differences are immune to wall-clock steps.
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks at a fixed period. Ticks are dropped while the
// previous one is unread.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// ElapsedSeconds returns to-from in seconds. Zero or negative spans (repeated
// or out-of-order timestamps) return 0.
func ElapsedSeconds(from, to time.Time) float64 {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// MockClock only moves when Advance or Set is called. Tickers created from
// it fire during Advance.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[*MockTicker]struct{}
}

// NewMockClock returns a clock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t, tickers: make(map[*MockTicker]struct{})}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set jumps to t without firing tickers. Going backwards is allowed so
// tests can feed out-of-order timestamps.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and fires every ticker that is due.
// A ticker that missed several periods fires once, like time.Ticker.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	due := make([]*MockTicker, 0, len(c.tickers))
	for t := range c.tickers {
		due = append(due, t)
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fire(now)
	}
}

// Tickers reports how many tickers are running. Tests use it to wait until
// a goroutine has started its loop.
func (c *MockClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{
		clock:    c,
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     c.now.Add(d),
	}
	c.tickers[t] = struct{}{}
	return t
}

func (c *MockClock) remove(t *MockTicker) {
	c.mu.Lock()
	delete(c.tickers, t)
	c.mu.Unlock()
}

// MockTicker is a Ticker driven by a MockClock.
type MockTicker struct {
	clock    *MockClock
	ch       chan time.Time
	interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

// Stop detaches the ticker from its clock. Pending ticks stay readable.
func (t *MockTicker) Stop() { t.clock.remove(t) }

func (t *MockTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	for !t.next.After(now) {
		t.next = t.next.Add(t.interval)
	}
}
