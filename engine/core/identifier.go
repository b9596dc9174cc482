package core

import (
	"fmt"
	"sync/atomic"
)

// Sequence hands out increasing identifiers starting at 1. Components that need unique
// ids or debug names own one instead of sharing process-wide counters, so tests can
// isolate them.
type Sequence struct {
	last atomic.Uint64
}

func NewSequence() *Sequence {
	return &Sequence{}
}

// Next never returns 0, which callers use as "no id".
func (s *Sequence) Next() uint64 {
	return s.last.Add(1)
}

// Last returns the most recently issued id, or 0.
func (s *Sequence) Last() uint64 {
	return s.last.Load()
}

// Reset restarts the sequence. Only meaningful before any id is in use.
func (s *Sequence) Reset() {
	s.last.Store(0)
}

// Labeler builds debug names like "UploadBuffer#3" from its own sequence.
type Labeler struct {
	prefix string
	seq    *Sequence
}

func NewLabeler(prefix string, seq *Sequence) *Labeler {
	if seq == nil {
		seq = NewSequence()
	}
	return &Labeler{prefix: prefix, seq: seq}
}

// Label returns name untouched when set, otherwise a generated one.
func (l *Labeler) Label(name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%s#%d", l.prefix, l.seq.Next())
}
