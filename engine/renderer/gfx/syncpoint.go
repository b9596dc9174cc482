package gfx

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// Timeline is a queue's fence together with the highest value observed completed.
type Timeline struct {
	id    uuid.UUID
	name  string
	fence driver.Fence

	lastCompleted atomic.Uint64
}

func newTimeline(name string, fence driver.Fence) *Timeline {
	return &Timeline{id: uuid.New(), name: name, fence: fence}
}

func (t *Timeline) ID() uuid.UUID { return t.id }

func (t *Timeline) Name() string { return t.name }

// LastCompleted is the cached completed value; it may lag behind the fence.
func (t *Timeline) LastCompleted() uint64 {
	return t.lastCompleted.Load()
}

func (t *Timeline) observe(v uint64) uint64 {
	for {
		cur := t.lastCompleted.Load()
		if v <= cur {
			return cur
		}
		if t.lastCompleted.CompareAndSwap(cur, v) {
			return v
		}
	}
}

func (t *Timeline) isCompleted(v uint64) bool {
	if v <= t.lastCompleted.Load() {
		return true
	}
	return v <= t.observe(t.fence.CompletedValue())
}

func (t *Timeline) wait(ctx context.Context, v uint64) error {
	if t.isCompleted(v) {
		return nil
	}
	if err := t.fence.Wait(ctx, v); err != nil {
		return err
	}
	t.observe(v)
	return nil
}

// SyncPoint marks the moment a timeline reaches a value. The zero SyncPoint is
// always satisfied. SyncPoints are plain values and safe to share between goroutines.
type SyncPoint struct {
	timeline *Timeline
	value    uint64
}

func (p SyncPoint) IsZero() bool {
	return p.timeline == nil
}

func (p SyncPoint) Value() uint64 {
	return p.value
}

func (p SyncPoint) Timeline() *Timeline {
	return p.timeline
}

// Poll never blocks. Once it returned true it keeps returning true.
func (p SyncPoint) Poll() bool {
	if p.timeline == nil {
		return true
	}
	return p.timeline.isCompleted(p.value)
}

// Wait blocks the calling goroutine until the work is complete.
func (p SyncPoint) Wait() {
	core.Check(p.WaitContext(context.Background()), "wait for %s", p)
}

func (p SyncPoint) WaitContext(ctx context.Context) error {
	if p.timeline == nil {
		return nil
	}
	return p.timeline.wait(ctx, p.value)
}

// WaitOn makes work submitted to q after this call wait on the GPU, leaving the CPU
// free.
func (p SyncPoint) WaitOn(q *CommandQueue) {
	q.WaitForSyncPoint(p)
}

// AssertSatisfied is a debug check that the work is no longer in flight.
func (p SyncPoint) AssertSatisfied() {
	if !core.DebugChecks {
		return
	}
	core.Assert(p.Poll(), "%s is still in flight", p)
}

// Later returns whichever of p and o is further along. Both must be on the same
// timeline unless one of them is zero.
func (p SyncPoint) Later(o SyncPoint) SyncPoint {
	switch {
	case p.timeline == nil:
		return o
	case o.timeline == nil:
		return p
	}
	core.Assert(p.timeline == o.timeline, "comparing %s with %s across timelines", p, o)
	if o.value > p.value {
		return o
	}
	return p
}

func (p SyncPoint) String() string {
	if p.timeline == nil {
		return "SyncPoint(satisfied)"
	}
	return fmt.Sprintf("SyncPoint(%s@%d)", p.timeline.name, p.value)
}
