package ibus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/rcdrive/internal/monitoring"
	"github.com/banshee-data/rcdrive/internal/rc"
	"github.com/banshee-data/rcdrive/internal/timeutil"
)

// DefaultFailsafeTimeout is how long the receiver may go without a valid
// frame before Refresh switches to failsafe values.
const DefaultFailsafeTimeout = 500 * time.Millisecond

var logf = monitoring.Prefixed("ibus")

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Channels is the number of channels exposed, at most NumChannels.
	Channels int
	Range    rc.Range
	// FailsafeTimeout of zero uses DefaultFailsafeTimeout.
	FailsafeTimeout time.Duration
	// Failsafe values per channel. Missing entries default to Range.Min so
	// every switch reads as off.
	Failsafe []int
	Clock    timeutil.Clock
}

// Receiver implements rc.Source over an iBus byte stream. Monitor decodes
// frames in the background; Refresh publishes the latest one.
type Receiver struct {
	r       io.Reader
	raw     rc.Range
	timeout time.Duration
	clock   timeutil.Clock

	mu        sync.Mutex
	decoder   Decoder
	latest    Frame
	haveFrame bool
	lastFrame time.Time

	failsafe []int
	current  []int
	inFail   bool
}

// NewReceiver returns a receiver reading from r. It starts in failsafe.
func NewReceiver(r io.Reader, cfg ReceiverConfig) (*Receiver, error) {
	if cfg.Channels <= 0 || cfg.Channels > NumChannels {
		return nil, fmt.Errorf("%w: ibus carries 1..%d channels, got %d", rc.ErrConfiguration, NumChannels, cfg.Channels)
	}
	if err := cfg.Range.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Failsafe) > cfg.Channels {
		return nil, fmt.Errorf("%w: %d failsafe values for %d channels", rc.ErrConfiguration, len(cfg.Failsafe), cfg.Channels)
	}
	if cfg.FailsafeTimeout <= 0 {
		cfg.FailsafeTimeout = DefaultFailsafeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	failsafe := make([]int, cfg.Channels)
	for i := range failsafe {
		failsafe[i] = cfg.Range.Min
		if i < len(cfg.Failsafe) {
			failsafe[i] = cfg.Range.Clamp(cfg.Failsafe[i])
		}
	}
	current := make([]int, cfg.Channels)
	copy(current, failsafe)

	return &Receiver{
		r:        r,
		raw:      cfg.Range,
		timeout:  cfg.FailsafeTimeout,
		clock:    cfg.Clock,
		failsafe: failsafe,
		current:  current,
		inFail:   true,
	}, nil
}

// Monitor reads from the port until ctx is cancelled or the reader fails.
// It returns nil at end of stream.
func (r *Receiver) Monitor(ctx context.Context) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	// The blocking Read must not hold up cancellation.
	go func() {
		defer close(chunks)
		buf := make([]byte, 64)
		for {
			n, err := r.r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("read ibus: %w", err)
		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					return fmt.Errorf("read ibus: %w", err)
				default:
					return nil
				}
			}
			r.feed(chunk)
		}
	}
}

func (r *Receiver) feed(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range chunk {
		if f, ok := r.decoder.Feed(b); ok {
			r.latest = f
			r.haveFrame = true
			r.lastFrame = r.clock.Now()
		}
	}
}

// Write feeds raw bytes to the decoder, as Monitor does. It lets callers
// push data from a source they read themselves.
func (r *Receiver) Write(p []byte) (int, error) {
	r.feed(p)
	return len(p), nil
}

// Refresh publishes the most recent valid frame, or the failsafe values
// when none has arrived within the failsafe timeout.
func (r *Receiver) Refresh() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale := !r.haveFrame || r.clock.Since(r.lastFrame) > r.timeout
	if stale {
		if !r.inFail {
			logf("no valid frame for %v, using failsafe values", r.timeout)
		}
		r.inFail = true
		copy(r.current, r.failsafe)
		return nil
	}
	if r.inFail {
		logf("receiving frames")
		monitoring.Debugf("ibus frame: %v", r.latest[:len(r.current)])
	}
	r.inFail = false
	for i := range r.current {
		r.current[i] = int(r.latest[i])
	}
	return nil
}

// Read returns the last refreshed value of a channel within the raw range.
func (r *Receiver) Read(ch int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch < 0 || ch >= len(r.current) {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", rc.ErrInvalidChannel, ch, len(r.current))
	}
	return r.raw.Clamp(r.current[ch]), nil
}

// Failsafe reports whether the last Refresh used failsafe values.
func (r *Receiver) Failsafe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFail
}

// Stats returns decoder counters.
func (r *Receiver) Stats() (frames, checksumErrors int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decoder.Stats()
}
