package actuator

import (
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/rcdrive/internal/serialport"
)

// Pololu Maestro compact protocol commands.
const (
	cmdSetTarget = 0x84
	cmdSetSpeed  = 0x87
	cmdGoHome    = 0xa2
)

// Pulse widths, in microseconds, for MinAngle and MaxAngle.
const (
	DefaultMinPulse = 1000
	DefaultMaxPulse = 2000
)

// Digital output targets, in quarter-microseconds. The Maestro drives an
// output channel high for targets of 1500us and above.
const (
	targetHigh = 8000
	targetLow  = 4000
)

// Maestro drives a Pololu Maestro servo controller over its serial
// command port using the compact protocol.
type Maestro struct {
	mu       sync.Mutex
	w        io.Writer
	minPulse int
	maxPulse int
}

// NewMaestro writes commands to w with the default 1000..2000us pulse
// range.
func NewMaestro(w io.Writer) *Maestro {
	return &Maestro{w: w, minPulse: DefaultMinPulse, maxPulse: DefaultMaxPulse}
}

// OpenMaestro opens the controller's command port.
func OpenMaestro(path string, opts serialport.PortOptions) (*Maestro, serialport.Port, error) {
	port, err := serialport.Open(path, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("servo controller: %w", err)
	}
	return NewMaestro(port), port, nil
}

// SetPulseRange changes the pulse widths used for MinAngle and MaxAngle.
func (m *Maestro) SetPulseRange(minUs, maxUs int) error {
	if minUs <= 0 || maxUs <= minUs {
		return fmt.Errorf("invalid pulse range %d..%d us", minUs, maxUs)
	}
	m.mu.Lock()
	m.minPulse, m.maxPulse = minUs, maxUs
	m.mu.Unlock()
	return nil
}

// SetTarget sends a raw target in quarter-microseconds.
func (m *Maestro) SetTarget(channel uint8, target uint16) error {
	if channel > 0x7f {
		return fmt.Errorf("maestro channel %d out of range", channel)
	}
	return m.send(cmdSetTarget, channel, target)
}

// SetSpeed limits the rate a channel's output may change, in units of
// 0.25us per 10ms. Zero is unlimited.
func (m *Maestro) SetSpeed(channel uint8, speed uint16) error {
	return m.send(cmdSetSpeed, channel, speed)
}

// GoHome sends every channel to its configured home position.
func (m *Maestro) GoHome() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.w.Write([]byte{cmdGoHome})
	return err
}

func (m *Maestro) send(cmd, channel uint8, v uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.w.Write([]byte{cmd, channel, byte(v & 0x7f), byte((v >> 7) & 0x7f)})
	if err != nil {
		return fmt.Errorf("maestro command %#x: %w", cmd, err)
	}
	return nil
}

// AngleTarget converts an angle in [MinAngle, MaxAngle] to a target in
// quarter-microseconds. Angles outside the range are clamped.
func (m *Maestro) AngleTarget(angle int) uint16 {
	if angle < MinAngle {
		angle = MinAngle
	}
	if angle > MaxAngle {
		angle = MaxAngle
	}
	m.mu.Lock()
	lo, hi := m.minPulse, m.maxPulse
	m.mu.Unlock()
	us := lo + (angle-MinAngle)*(hi-lo)/(MaxAngle-MinAngle)
	return uint16(us * 4)
}

// Servo returns a Sink that writes angles to a channel.
func (m *Maestro) Servo(channel uint8) Sink {
	return SinkFunc(func(angle int) error {
		return m.SetTarget(channel, m.AngleTarget(angle))
	})
}

// Output returns an Indicator on a channel configured as a digital output.
func (m *Maestro) Output(channel uint8) Indicator {
	return maestroOutput{m: m, channel: channel}
}

type maestroOutput struct {
	m       *Maestro
	channel uint8
}

func (o maestroOutput) Set(on bool) error {
	if on {
		return o.m.SetTarget(o.channel, targetHigh)
	}
	return o.m.SetTarget(o.channel, targetLow)
}
