// Package control runs the motor control loop: it samples the receiver,
// decides enable and rate limiting from switches, and drives the motor and
// status LED.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/rcdrive/internal/actuator"
	"github.com/banshee-data/rcdrive/internal/monitoring"
	"github.com/banshee-data/rcdrive/internal/pid"
	"github.com/banshee-data/rcdrive/internal/rc"
	"github.com/banshee-data/rcdrive/internal/slew"
	"github.com/banshee-data/rcdrive/internal/timeutil"
)

var logf = monitoring.Prefixed("control")

// Defaults match the runway rig.
const (
	DefaultSampleRate   = 5.0
	DefaultLEDFrequency = 1.0
	DefaultLoopInterval = 20 * time.Millisecond
	DefaultMotorRate    = 30.0
)

// Config selects channels and timing.
type Config struct {
	EnableChannel  int
	LimiterChannel int
	CommandChannel int

	// SampleRate is how many times per second the receiver is read.
	SampleRate float64
	// LEDFrequency is the blink rate, in blinks per second, while enabled.
	LEDFrequency float64
	LoopInterval time.Duration

	MaxIncreasePerSecond float64
	MaxDecreasePerSecond float64

	// PID, when set together with a Feedback, closes the loop on position.
	PID *PIDConfig
}

// PIDConfig configures the optional position controller.
type PIDConfig struct {
	Gains            pid.Gains
	OutputMin        float64
	OutputMax        float64
	IntegrationLimit float64
	FinishedValue    float64
}

// DefaultConfig returns the FS-i6X wiring: SWD enables the motor, SWA
// selects rate limiting and SWC commands the speed.
func DefaultConfig() Config {
	return Config{
		EnableChannel:        rc.SWD,
		LimiterChannel:       rc.SWA,
		CommandChannel:       rc.SWC,
		SampleRate:           DefaultSampleRate,
		LEDFrequency:         DefaultLEDFrequency,
		LoopInterval:         DefaultLoopInterval,
		MaxIncreasePerSecond: DefaultMotorRate,
		MaxDecreasePerSecond: DefaultMotorRate,
	}
}

// Feedback reports the mechanism's measured position in command units.
type Feedback interface {
	Position() (float64, error)
}

// Recorder persists loop status, e.g. to the telemetry store.
type Recorder interface {
	Record(Status) error
}

// Deps are the loop's collaborators. Source, Mapper and Motor are
// required.
type Deps struct {
	Source    rc.Source
	Mapper    *rc.Mapper
	Motor     actuator.Sink
	Indicator actuator.Indicator
	Clock     timeutil.Clock
	Feedback  Feedback
	Recorder  Recorder
	Sequence  *pid.Sequence
	Display   pid.Display
}

// Loop is the control loop. Step and Run must be called from one
// goroutine; EStop and Status are safe from any goroutine.
type Loop struct {
	cfg    Config
	deps   Deps
	motor  actuator.Sink
	clock  timeutil.Clock
	sample time.Duration
	blink  time.Duration

	limiter *slew.Limiter
	pid     *pid.Controller

	snapshot   rc.Snapshot
	lastSample time.Time
	sampled    bool
	ledOn      bool
	lastBlink  time.Time

	setpoint float64
	position float64
	pidOut   float64

	stopped atomic.Bool

	mu     sync.Mutex
	status Status
}

// New validates cfg and returns a loop whose motor starts at zero.
func New(cfg Config, deps Deps) (*Loop, error) {
	if deps.Source == nil || deps.Mapper == nil || deps.Motor == nil {
		return nil, errors.New("control loop needs a source, a mapper and a motor")
	}
	n := deps.Mapper.Channels()
	for name, ch := range map[string]int{"enable": cfg.EnableChannel, "limiter": cfg.LimiterChannel, "command": cfg.CommandChannel} {
		if ch < 0 || ch >= n {
			return nil, fmt.Errorf("%s channel: %w: %d not in [0, %d)", name, rc.ErrInvalidChannel, ch, n)
		}
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %v", cfg.SampleRate)
	}
	if cfg.LEDFrequency <= 0 {
		return nil, fmt.Errorf("led frequency must be positive, got %v", cfg.LEDFrequency)
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = DefaultLoopInterval
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}

	l := &Loop{
		cfg:    cfg,
		deps:   deps,
		motor:  actuator.NewClamped(deps.Motor),
		clock:  deps.Clock,
		sample: time.Duration(float64(time.Second) / cfg.SampleRate),
		blink:  time.Duration(float64(500*time.Millisecond) / cfg.LEDFrequency),
		ledOn:  true,
	}

	now := l.clock.Now()
	lim, err := slew.New(slew.Config{
		MaxIncreasePerSecond: cfg.MaxIncreasePerSecond,
		MaxDecreasePerSecond: cfg.MaxDecreasePerSecond,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("motor rate limit: %w", err)
	}
	l.limiter = lim
	l.lastBlink = now

	if cfg.PID != nil && deps.Feedback != nil {
		seq := deps.Sequence
		if seq == nil {
			seq = pid.NewSequence()
		}
		opts := []pid.Option{pid.WithFinishedValue(cfg.PID.FinishedValue)}
		if cfg.PID.OutputMin < cfg.PID.OutputMax {
			opts = append(opts, pid.WithOutputRange(cfg.PID.OutputMin, cfg.PID.OutputMax))
		}
		if cfg.PID.IntegrationLimit > 0 {
			opts = append(opts, pid.WithIntegrationLimit(cfg.PID.IntegrationLimit))
		}
		if deps.Display != nil {
			opts = append(opts, pid.WithDisplay(deps.Display))
		}
		l.pid = pid.New(seq, pid.Binding{
			Input:    func() float64 { return l.position },
			Setpoint: func() float64 { return l.setpoint },
			Output:   func(v float64) { l.pidOut = v },
		}, cfg.PID.Gains, opts...)
	}

	l.snapshot = make(rc.Snapshot, n)
	for i := range l.snapshot {
		l.snapshot[i] = deps.Mapper.Range().Min
	}
	return l, nil
}

// EStop latches the loop stopped: the motor is held at zero and the
// position controller is stopped for good.
func (l *Loop) EStop() {
	if l.stopped.Swap(true) {
		return
	}
	logf("emergency stop")
}

// Stopped reports whether EStop has been called.
func (l *Loop) Stopped() bool {
	return l.stopped.Load()
}

// PID returns the position controller, or nil when the loop is open.
func (l *Loop) PID() *pid.Controller {
	return l.pid
}

// Status returns a copy of the most recent step's status.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.status
	s.Channels = s.Channels.Clone()
	return s
}

// Step runs one iteration at now. Output errors are returned after both
// outputs have been written.
func (l *Loop) Step(now time.Time) error {
	if !l.sampled || now.Sub(l.lastSample) >= l.sample {
		s, err := rc.Capture(l.deps.Source, l.deps.Mapper.Channels())
		if err != nil {
			logf("sample receiver: %v", err)
		} else {
			l.snapshot = s
		}
		l.lastSample = now
		l.sampled = true
	}

	m := l.deps.Mapper
	enabled, err := m.Bool(l.snapshot, l.cfg.EnableChannel)
	if err != nil {
		return fmt.Errorf("enable channel: %w", err)
	}
	limiterOn, err := m.Bool(l.snapshot, l.cfg.LimiterChannel)
	if err != nil {
		return fmt.Errorf("limiter channel: %w", err)
	}
	limited := !limiterOn
	command, err := m.Value(l.snapshot, l.cfg.CommandChannel, true)
	if err != nil {
		return fmt.Errorf("command channel: %w", err)
	}

	stopped := l.stopped.Load()
	if stopped && l.pid != nil && !l.pid.Stopped() {
		l.pid.EStop()
	}

	var motor int
	switch {
	case stopped:
		motor = 0
	case enabled:
		target := float64(command)
		if l.pid != nil {
			target = l.closeLoop(float64(command), now)
		}
		if limited {
			target = l.limiter.Calculate(target, now)
		}
		motor = int(target)
		monitoring.Debugf("Motor Output - %d units\t| %d%%", motor, rc.Linear(motor, actuator.MinAngle, actuator.MaxAngle, 0, 100))
	default:
		if l.pid != nil {
			l.holdLoop(now)
		}
		if limited {
			motor = int(l.limiter.Calculate(0, now))
		}
	}

	switch {
	case stopped:
		l.ledOn = false
	case enabled:
		if now.Sub(l.lastBlink) >= l.blink {
			l.ledOn = !l.ledOn
			l.lastBlink = now
		}
	default:
		l.ledOn = true
	}

	var errs []error
	if l.deps.Indicator != nil {
		if err := l.deps.Indicator.Set(l.ledOn); err != nil {
			errs = append(errs, fmt.Errorf("set indicator: %w", err))
		}
	}
	if err := l.motor.Write(motor); err != nil {
		errs = append(errs, fmt.Errorf("write motor: %w", err))
	}

	st := Status{
		Time:        now,
		Enabled:     enabled && !stopped,
		RateLimited: limited,
		Command:     command,
		Motor:       clampAngle(motor),
		LED:         l.ledOn,
		Stopped:     stopped,
		Channels:    l.snapshot.Clone(),
	}
	if l.pid != nil {
		st.PID = &PIDStatus{
			ID:        l.pid.ID(),
			Setpoint:  l.setpoint,
			Position:  l.position,
			Output:    l.pidOut,
			Error:     l.pid.Error(),
			ErrorSum:  l.pid.ErrorSum(),
			ErrorRate: l.pid.ErrorRate(),
			Settled:   l.pid.AtSetpoint(),
		}
	}
	l.mu.Lock()
	l.status = st
	l.mu.Unlock()

	if l.deps.Recorder != nil {
		if err := l.deps.Recorder.Record(st); err != nil {
			logf("record status: %v", err)
		}
	}
	return errors.Join(errs...)
}

func (l *Loop) readPosition() {
	if pos, err := l.deps.Feedback.Position(); err != nil {
		logf("read position: %v", err)
	} else {
		l.position = pos
	}
}

// closeLoop runs the position controller toward setpoint and returns its
// output scaled onto the motor range. The motor only drives forward, so
// output at or below zero idles it.
func (l *Loop) closeLoop(setpoint float64, now time.Time) float64 {
	l.setpoint = setpoint
	l.readPosition()
	l.pid.Calculate(now)

	lo, hi := pid.DefaultOutputMin, pid.DefaultOutputMax
	if c := l.cfg.PID; c.OutputMin < c.OutputMax {
		lo, hi = c.OutputMin, c.OutputMax
	}
	base := math.Max(lo, 0)
	if hi <= base || l.pidOut <= base {
		return actuator.MinAngle
	}
	span := float64(actuator.MaxAngle - actuator.MinAngle)
	return float64(actuator.MinAngle) + (l.pidOut-base)*span/(hi-base)
}

// holdLoop steps the controller while the motor is disabled so its time
// base follows the loop. The setpoint tracks the position, so nothing
// integrates and re-enabling does not start from a wound-up sum.
func (l *Loop) holdLoop(now time.Time) {
	l.readPosition()
	l.setpoint = l.position
	l.pid.Calculate(now)
}

// Run steps the loop every LoopInterval until ctx is done, then writes a
// zero motor command.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.cfg.LoopInterval)
	defer ticker.Stop()

	logf("control loop running every %v, sampling at %v Hz", l.cfg.LoopInterval, l.cfg.SampleRate)
	for {
		select {
		case <-ctx.Done():
			if err := l.motor.Write(0); err != nil {
				logf("zero motor on shutdown: %v", err)
			}
			return ctx.Err()
		case <-ticker.C():
			if err := l.Step(l.clock.Now()); err != nil {
				logf("step: %v", err)
			}
		}
	}
}

func clampAngle(v int) int {
	return int(math.Max(actuator.MinAngle, math.Min(actuator.MaxAngle, float64(v))))
}
