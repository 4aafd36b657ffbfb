package control

import (
	"sync"
	"time"

	"github.com/banshee-data/rcdrive/internal/actuator"
	"github.com/banshee-data/rcdrive/internal/timeutil"
)

// SimulatedPlant stands in for the runway carriage in development mode.
// It models a one-directional ESC like the loop drives: a drive of 0 holds
// still and MaxAngle moves forward at Speed units per second. Position is
// bounded to [Min, Max].
type SimulatedPlant struct {
	Speed float64
	Min   float64
	Max   float64

	clock timeutil.Clock

	mu       sync.Mutex
	drive    int
	position float64
	last     time.Time
}

// NewSimulatedPlant starts at position start with the motor idle.
func NewSimulatedPlant(clock timeutil.Clock, start float64) *SimulatedPlant {
	return &SimulatedPlant{
		Speed:    60,
		Min:      actuator.MinAngle,
		Max:      actuator.MaxAngle,
		clock:    clock,
		drive:    actuator.MinAngle,
		position: start,
		last:     clock.Now(),
	}
}

// Write sets the drive angle.
func (p *SimulatedPlant) Write(v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	p.drive = v
	return nil
}

// Position implements Feedback.
func (p *SimulatedPlant) Position() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	return p.position, nil
}

func (p *SimulatedPlant) advance() {
	now := p.clock.Now()
	dt := timeutil.ElapsedSeconds(p.last, now)
	if now.After(p.last) {
		p.last = now
	}
	span := float64(actuator.MaxAngle - actuator.MinAngle)
	p.position += float64(p.drive-actuator.MinAngle) / span * p.Speed * dt
	if p.position < p.Min {
		p.position = p.Min
	}
	if p.position > p.Max {
		p.position = p.Max
	}
}
