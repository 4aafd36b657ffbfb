package pid

import "sync/atomic"

// Sequence hands out controller identifiers. The first is 1 and each call
// returns a strictly larger value, including under concurrent use.
type Sequence struct {
	last atomic.Int64
}

// NewSequence returns a sequence whose first identifier is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next identifier.
func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}
