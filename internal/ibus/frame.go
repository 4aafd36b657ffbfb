// Package ibus reads FlySky iBus servo frames from a serial receiver and
// exposes them as an rc.Source.
package ibus

import "encoding/binary"

// Frame layout: length byte, command byte, 14 little-endian channel words,
// little-endian checksum.
const (
	FrameLength  = 0x20
	CommandServo = 0x40
	NumChannels  = 14

	checksumOffset = FrameLength - 2
)

// Frame holds the channel values of one valid servo frame.
type Frame [NumChannels]uint16

// Checksum returns 0xFFFF minus the sum of b.
func Checksum(b []byte) uint16 {
	sum := uint16(0xFFFF)
	for _, v := range b {
		sum -= uint16(v)
	}
	return sum
}

// Encode serialises a frame as a receiver would send it.
func Encode(f Frame) [FrameLength]byte {
	var b [FrameLength]byte
	b[0] = FrameLength
	b[1] = CommandServo
	for i, v := range f {
		binary.LittleEndian.PutUint16(b[2+2*i:], v)
	}
	binary.LittleEndian.PutUint16(b[checksumOffset:], Checksum(b[:checksumOffset]))
	return b
}

type decodeState int

const (
	waitLength decodeState = iota
	waitCommand
	readBody
)

// Decoder is a byte-at-a-time iBus state machine. The zero value is ready
// to use.
type Decoder struct {
	state decodeState
	buf   [FrameLength]byte
	n     int

	frames int
	errors int
}

// Feed consumes one byte. It returns a frame and true when b completes a
// frame whose checksum matches.
func (d *Decoder) Feed(b byte) (Frame, bool) {
	switch d.state {
	case waitLength:
		if b == FrameLength {
			d.buf[0] = b
			d.state = waitCommand
		}
	case waitCommand:
		switch b {
		case CommandServo:
			d.buf[1] = b
			d.n = 2
			d.state = readBody
		case FrameLength:
			// still a candidate start of frame
		default:
			d.state = waitLength
		}
	case readBody:
		d.buf[d.n] = b
		d.n++
		if d.n < FrameLength {
			return Frame{}, false
		}
		d.state = waitLength
		want := binary.LittleEndian.Uint16(d.buf[checksumOffset:])
		if Checksum(d.buf[:checksumOffset]) != want {
			d.errors++
			return Frame{}, false
		}
		var f Frame
		for i := range f {
			f[i] = binary.LittleEndian.Uint16(d.buf[2+2*i:])
		}
		d.frames++
		return f, true
	}
	return Frame{}, false
}

// Stats returns the number of valid frames and checksum failures seen.
func (d *Decoder) Stats() (frames, checksumErrors int) {
	return d.frames, d.errors
}
