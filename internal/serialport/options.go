// Package serialport opens serial devices with validated line settings and
// provides an in-memory port for tests.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the FlySky iBus line rate, also accepted by Pololu
// Maestro controllers.
const DefaultBaudRate = 115200

// Port is the subset of a serial port the receiver and servo controller use.
// go.bug.st/serial ports satisfy it.
type Port interface {
	io.ReadWriter
	io.Closer
}

// PortOptions describes the serial connection parameters.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// ErrInvalidOptions wraps every Normalize failure.
var ErrInvalidOptions = errors.New("invalid serial options")

var parities = map[string]string{
	"": "N", "N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

// Normalize validates the options and fills unset fields with 115200 8N1.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}

	switch {
	case o.DataBits < 5 || o.DataBits > 8:
		return o, fmt.Errorf("%w: data bits %d not in 5..8", ErrInvalidOptions, o.DataBits)
	case o.StopBits != 1 && o.StopBits != 2:
		return o, fmt.Errorf("%w: stop bits %d, want 1 or 2", ErrInvalidOptions, o.StopBits)
	}

	parity, ok := parities[strings.ToUpper(strings.TrimSpace(o.Parity))]
	if !ok {
		return o, fmt.Errorf("%w: parity %q, want N, E or O", ErrInvalidOptions, o.Parity)
	}
	o.Parity = parity
	return o, nil
}

// SerialMode converts the options to a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	} else {
		mode.StopBits = serial.OneStopBit
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// Open opens a serial port at path.
func Open(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}
