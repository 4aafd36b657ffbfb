package control

import (
	"time"

	"github.com/banshee-data/rcdrive/internal/rc"
)

// Status is the outcome of one loop step.
type Status struct {
	Time        time.Time   `json:"time"`
	Enabled     bool        `json:"enabled"`
	RateLimited bool        `json:"rate_limited"`
	Command     int         `json:"command"`
	Motor       int         `json:"motor"`
	LED         bool        `json:"led"`
	Stopped     bool        `json:"stopped"`
	Channels    rc.Snapshot `json:"channels"`
	PID         *PIDStatus  `json:"pid,omitempty"`
}

// PIDStatus is the position controller's state after a step.
type PIDStatus struct {
	ID        int64   `json:"id"`
	Setpoint  float64 `json:"setpoint"`
	Position  float64 `json:"position"`
	Output    float64 `json:"output"`
	Error     float64 `json:"error"`
	ErrorSum  float64 `json:"error_sum"`
	ErrorRate float64 `json:"error_rate"`
	Settled   bool    `json:"settled"`
}
