package ibus

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/rcdrive/internal/timeutil"
)

// DefaultFrameInterval is the FS-iA6B frame period.
const DefaultFrameInterval = 7 * time.Millisecond

// Transmitter writes iBus frames carrying settable channel values. It stands
// in for a receiver in development mode.
type Transmitter struct {
	mu    sync.Mutex
	frame Frame
}

// NewTransmitter returns a transmitter with every channel at v.
func NewTransmitter(v uint16) *Transmitter {
	t := &Transmitter{}
	for i := range t.frame {
		t.frame[i] = v
	}
	return t
}

// Set changes one channel for subsequent frames.
func (t *Transmitter) Set(ch int, v uint16) error {
	if ch < 0 || ch >= NumChannels {
		return fmt.Errorf("channel %d not in [0, %d)", ch, NumChannels)
	}
	t.mu.Lock()
	t.frame[ch] = v
	t.mu.Unlock()
	return nil
}

// Frame returns the frame that will be sent next.
func (t *Transmitter) Frame() Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frame
}

// Run writes one frame per interval to w until ctx is done.
func (t *Transmitter) Run(ctx context.Context, w io.Writer, clock timeutil.Clock, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			b := Encode(t.Frame())
			if _, err := w.Write(b[:]); err != nil {
				return fmt.Errorf("write ibus frame: %w", err)
			}
		}
	}
}
