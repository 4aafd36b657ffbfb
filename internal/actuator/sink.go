// Package actuator drives the motor controller and status indicator.
package actuator

import (
	"fmt"
	"sync"
)

// Servo angle range accepted by ESCs and hobby servos.
const (
	MinAngle = 0
	MaxAngle = 180
)

// Sink accepts motor commands.
type Sink interface {
	Write(value int) error
}

// Indicator is a single on/off status output.
type Indicator interface {
	Set(on bool) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(int) error

func (f SinkFunc) Write(v int) error { return f(v) }

// Clamped bounds values to [Min, Max] before writing them to Sink.
type Clamped struct {
	Sink Sink
	Min  int
	Max  int
}

// NewClamped clamps to the servo angle range.
func NewClamped(s Sink) *Clamped {
	return &Clamped{Sink: s, Min: MinAngle, Max: MaxAngle}
}

func (c *Clamped) Write(v int) error {
	if v < c.Min {
		v = c.Min
	}
	if v > c.Max {
		v = c.Max
	}
	return c.Sink.Write(v)
}

// Recorder is a Sink and Indicator that keeps everything written to it.
type Recorder struct {
	mu     sync.Mutex
	values []int
	states []bool
	limit  int
}

// NewRecorder keeps at most limit writes of each kind; zero keeps all.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Write(v int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = appendBounded(r.values, v, r.limit)
	return nil
}

func (r *Recorder) Set(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = appendBounded(r.states, on, r.limit)
	return nil
}

// Values returns the recorded motor commands.
func (r *Recorder) Values() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.values...)
}

// States returns the recorded indicator states.
func (r *Recorder) States() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

// Last returns the most recent motor command.
func (r *Recorder) Last() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return 0, false
	}
	return r.values[len(r.values)-1], true
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

// Multi writes to every sink and returns the first error.
type Multi []Sink

func (m Multi) Write(v int) error {
	var first error
	for i, s := range m {
		if err := s.Write(v); err != nil && first == nil {
			first = fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return first
}
