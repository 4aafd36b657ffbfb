// Package pid implements a closed-loop PID command over externally owned
// input, setpoint and output values, with an emergency-stop latch.
package pid

import (
	"math"
	"time"

	"github.com/banshee-data/rcdrive/internal/timeutil"
)

// Default output range, in percent.
const (
	DefaultOutputMin = -100.0
	DefaultOutputMax = 100.0
)

// Gains are the proportional, integral and derivative constants.
type Gains struct {
	P float64
	I float64
	D float64
}

// Binding connects a controller to values owned elsewhere. Input and
// Setpoint are read on every Calculate; Output receives the clamped result.
type Binding struct {
	Input    func() float64
	Setpoint func() float64
	Output   func(float64)
}

// BindCells returns a Binding over plain variables.
func BindCells(input, output, setpoint *float64) Binding {
	return Binding{
		Input:    func() float64 { return *input },
		Setpoint: func() float64 { return *setpoint },
		Output:   func(v float64) { *output = v },
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithOutputRange clamps the output to [min, max].
func WithOutputRange(min, max float64) Option {
	return func(c *Controller) {
		if min > max {
			min, max = max, min
		}
		c.outMin, c.outMax = min, max
	}
}

// WithIntegrationLimit only accumulates the integral while |error| is below
// limit. The default is +Inf.
func WithIntegrationLimit(limit float64) Option {
	return func(c *Controller) { c.integrationLimit = limit }
}

// WithFinishedValue sets the AtSetpoint threshold.
func WithFinishedValue(v float64) Option {
	return func(c *Controller) { c.finishedValue = v }
}

// WithDisplay enables per-calculation diagnostics to d.
func WithDisplay(d Display) Option {
	return func(c *Controller) {
		c.display = d
		c.displayOn = d != nil
	}
}

// Controller is a PID command. It is driven by a single loop and has no
// internal locking.
type Controller struct {
	id      int64
	binding Binding
	gains   Gains

	outMin, outMax   float64
	integrationLimit float64
	finishedValue    float64

	err           float64
	errorSum      float64
	errorRate     float64
	lastError     float64
	lastTimestamp time.Time
	started       bool
	output        float64

	stopped bool

	display   Display
	displayOn bool
}

// New returns a running controller with the next identifier from seq.
func New(seq *Sequence, b Binding, g Gains, opts ...Option) *Controller {
	c := &Controller{
		id:               seq.Next(),
		binding:          b,
		gains:            g,
		outMin:           DefaultOutputMin,
		outMax:           DefaultOutputMax,
		integrationLimit: math.Inf(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate runs one iteration at time now and writes the output. deltaT is
// the time since the previous Calculate; on the first call, or when now does
// not advance, deltaT is zero and the derivative term is zero.
//
// Once stopped, Calculate writes 0 and leaves all state untouched.
func (c *Controller) Calculate(now time.Time) {
	if c.stopped {
		c.output = 0
		c.binding.Output(0)
		c.show()
		return
	}

	var deltaT float64
	if c.started {
		deltaT = timeutil.ElapsedSeconds(c.lastTimestamp, now)
	}

	c.err = c.binding.Setpoint() - c.binding.Input()

	if math.Abs(c.err) < c.integrationLimit {
		c.errorSum += c.err * deltaT
	} else {
		c.errorSum = 0
	}

	if deltaT > 0 {
		c.errorRate = (c.err - c.lastError) / deltaT
	} else {
		c.errorRate = 0
	}

	c.lastError = c.err
	if !c.started || now.After(c.lastTimestamp) {
		c.lastTimestamp = now
	}
	c.started = true

	u := c.gains.P*c.err + c.gains.I*c.errorSum + c.gains.D*c.errorRate
	c.output = clamp(u, c.outMin, c.outMax)
	c.binding.Output(c.output)
	c.show()
}

func (c *Controller) show() {
	if !c.displayOn || c.display == nil {
		return
	}
	c.display.Display(c.Terms())
}

// EStop latches the controller stopped and writes 0 immediately. There is
// no way to resume.
func (c *Controller) EStop() {
	c.stopped = true
	c.output = 0
	c.binding.Output(0)
}

// AtSetpoint reports errorRate <= the finished value.
//
// This compares the signed derivative of the error, not the error itself,
// so it is also true whenever the error is momentarily constant or
// shrinking, wherever it is.
func (c *Controller) AtSetpoint() bool {
	return c.AtSetpointWithin(c.finishedValue)
}

// AtSetpointWithin is AtSetpoint with an explicit threshold.
func (c *Controller) AtSetpointWithin(threshold float64) bool {
	return c.errorRate <= threshold
}

func (c *Controller) ID() int64          { return c.id }
func (c *Controller) Error() float64     { return c.err }
func (c *Controller) ErrorSum() float64  { return c.errorSum }
func (c *Controller) ErrorRate() float64 { return c.errorRate }
func (c *Controller) Output() float64    { return c.output }
func (c *Controller) Stopped() bool      { return c.stopped }
func (c *Controller) Gains() Gains       { return c.gains }

// SetIntegrationLimit changes the integration limit for later iterations.
func (c *Controller) SetIntegrationLimit(limit float64) {
	c.integrationLimit = limit
}

// SetFinishedValue changes the AtSetpoint threshold.
func (c *Controller) SetFinishedValue(v float64) {
	c.finishedValue = v
}

// EnableDisplay turns diagnostics on. A nil d keeps the current sink.
func (c *Controller) EnableDisplay(d Display) {
	if d != nil {
		c.display = d
	}
	c.displayOn = true
}

// DisableDisplay turns diagnostics off.
func (c *Controller) DisableDisplay() {
	c.displayOn = false
}

// Terms returns the values shown by a Display. Error, ErrorSum and
// ErrorRate are weighted by their gains.
func (c *Controller) Terms() Terms {
	return Terms{
		ID:        c.id,
		Setpoint:  c.binding.Setpoint(),
		Error:     c.err * c.gains.P,
		ErrorSum:  c.errorSum * c.gains.I,
		ErrorRate: c.errorRate * c.gains.D,
		Input:     c.binding.Input(),
		Output:    c.output,
		Stopped:   c.stopped,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
