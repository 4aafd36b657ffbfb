package rc

import (
	"fmt"
	"sync"
)

// Source supplies the latest raw value of each channel. Refresh pulls new
// values from the receiver; Read returns the most recently refreshed value,
// bounded to the receiver's raw range.
type Source interface {
	Refresh() error
	Read(ch int) (int, error)
}

// Snapshot is one control-loop iteration's view of every channel. Take it
// once per sample interval so the whole iteration decides on the same data.
type Snapshot []int

// Raw returns the raw value of a channel.
func (s Snapshot) Raw(ch int) (int, error) {
	if ch < 0 || ch >= len(s) {
		return 0, channelError(ch, len(s))
	}
	return s[ch], nil
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	copy(out, s)
	return out
}

// Capture refreshes src and reads n channels into a new Snapshot.
func Capture(src Source, n int) (Snapshot, error) {
	if err := src.Refresh(); err != nil {
		return nil, fmt.Errorf("refresh channels: %w", err)
	}
	s := make(Snapshot, n)
	for i := range s {
		v, err := src.Read(i)
		if err != nil {
			return nil, err
		}
		s[i] = v
	}
	return s, nil
}

// StaticSource is a Source whose values are set directly. Set values become
// visible to Read after the next Refresh, like a receiver. It is safe for
// concurrent Set and Refresh.
type StaticSource struct {
	mu      sync.Mutex
	raw     Range
	pending []int
	current []int
}

// NewStaticSource returns n channels, all at the raw minimum.
func NewStaticSource(n int, raw Range) *StaticSource {
	s := &StaticSource{
		raw:     raw,
		pending: make([]int, n),
		current: make([]int, n),
	}
	for i := range s.pending {
		s.pending[i] = raw.Min
		s.current[i] = raw.Min
	}
	return s
}

// Set stages a raw value for a channel.
func (s *StaticSource) Set(ch, v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch < 0 || ch >= len(s.pending) {
		return channelError(ch, len(s.pending))
	}
	s.pending[ch] = v
	return nil
}

// Refresh publishes staged values.
func (s *StaticSource) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.current, s.pending)
	return nil
}

// Read returns the last refreshed value, clamped to the raw range.
func (s *StaticSource) Read(ch int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch < 0 || ch >= len(s.current) {
		return 0, channelError(ch, len(s.current))
	}
	return s.raw.Clamp(s.current[ch]), nil
}
