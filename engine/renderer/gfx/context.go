package gfx

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// BarrierBatchSize is how many barriers a context holds before flushing them on its own.
const BarrierBatchSize = 16

type contextState uint8

const (
	contextIdle contextState = iota
	contextActive
)

func (s contextState) String() string {
	if s == contextActive {
		return "active"
	}
	return "idle"
}

// CommandContext pairs a command list with a rented allocator. Contexts are owned by
// their queue's pool while idle and by exactly one caller while active.
type CommandContext struct {
	id    uint64
	label string
	queue *CommandQueue

	list  driver.CommandList
	alloc driver.CommandAllocator
	state contextState

	barriers []driver.Barrier
	touched  []*Resource
}

func newCommandContext(q *CommandQueue, id uint64, label string) *CommandContext {
	return &CommandContext{
		id:       id,
		label:    label,
		queue:    q,
		barriers: make([]driver.Barrier, 0, BarrierBatchSize),
	}
}

func (c *CommandContext) ID() uint64               { return c.id }
func (c *CommandContext) Label() string            { return c.label }
func (c *CommandContext) Queue() *CommandQueue     { return c.queue }
func (c *CommandContext) IsActive() bool           { return c.state == contextActive }
func (c *CommandContext) PendingBarriers() int     { return len(c.barriers) }
func (c *CommandContext) List() driver.CommandList { return c.list }

// Begin rents an allocator and opens the list for recording.
func (c *CommandContext) Begin(pso driver.PipelineState) {
	core.Assert(c.state == contextIdle, "context %s begun while %s", c.label, c.state)
	c.alloc = c.queue.RentAllocator()
	if c.list == nil {
		list, err := c.queue.device.CreateCommandList(c.queue.kind, c.alloc, pso)
		core.Check(err, "create command list for %s", c.label)
		c.list = list
	} else {
		core.Check(c.list.Reset(c.alloc, pso), "reset command list of %s", c.label)
	}
	c.state = contextActive
	c.bindHeap()
}

func (c *CommandContext) bindHeap() {
	if c.queue.descriptors != nil && c.queue.kind.SupportsCompute() {
		c.list.SetDescriptorHeap(c.queue.descriptors.Heap())
	}
}

func (c *CommandContext) assertActive(op string) bool {
	if c.state != contextActive {
		core.ContractViolation("%s on %s context %s", op, c.state, c.label)
		return false
	}
	return true
}

// RecordTransition moves res to state. Nothing is recorded when res is already in
// state. With immediate the batch is flushed right away.
func (c *CommandContext) RecordTransition(res *Resource, state driver.ResourceState, immediate bool) {
	if !c.assertActive("RecordTransition") {
		return
	}
	if res.state != state {
		c.reserveBarrier()
		c.claim(res)
		c.barriers = append(c.barriers, driver.TransitionBarrier(res.alloc, res.state, state))
		res.state = state
	}
	if immediate {
		c.FlushBarriers()
	}
}

// RecordUAVBarrier orders unordered-access work on res without changing its state.
func (c *CommandContext) RecordUAVBarrier(res *Resource, immediate bool) {
	if !c.assertActive("RecordUAVBarrier") {
		return
	}
	c.reserveBarrier()
	c.claim(res)
	c.barriers = append(c.barriers, driver.UAVBarrier(res.alloc))
	if immediate {
		c.FlushBarriers()
	}
}

func (c *CommandContext) reserveBarrier() {
	if len(c.barriers) == BarrierBatchSize {
		c.FlushBarriers()
	}
}

func (c *CommandContext) claim(res *Resource) {
	res.claimOwnership(c.id)
	for _, t := range c.touched {
		if t == res {
			return
		}
	}
	c.touched = append(c.touched, res)
}

// FlushBarriers records the pending batch. An empty batch records nothing.
func (c *CommandContext) FlushBarriers() {
	if len(c.barriers) == 0 {
		return
	}
	c.list.ResourceBarrier(c.barriers)
	for i := range c.barriers {
		c.barriers[i] = driver.Barrier{}
	}
	c.barriers = c.barriers[:0]
	for i, res := range c.touched {
		res.releaseOwnership(c.id)
		c.touched[i] = nil
	}
	c.touched = c.touched[:0]
}

// Flush submits what was recorded so far and keeps recording into the same allocator.
func (c *CommandContext) Flush(pso driver.PipelineState) SyncPoint {
	if !c.assertActive("Flush") {
		return SyncPoint{}
	}
	c.FlushBarriers()
	core.Check(c.list.Close(), "close command list of %s", c.label)
	sp := c.queue.Submit(c.list)
	core.Check(c.list.Reset(c.alloc, pso), "reopen command list of %s", c.label)
	c.bindHeap()
	return sp
}

// Finish submits the recording, hands the allocator back to the queue and returns the
// context to its pool. The context must not be used afterwards.
func (c *CommandContext) Finish() SyncPoint {
	if !c.assertActive("Finish") {
		return SyncPoint{}
	}
	c.FlushBarriers()
	core.Check(c.list.Close(), "close command list of %s", c.label)
	sp := c.queue.SubmitAndReturnAllocator(c.list, c.alloc)
	c.alloc = nil
	c.state = contextIdle
	c.queue.returnContext(c)
	return sp
}

// Close finishes a context that is still active. Leaving a context active is a bug;
// this only keeps the queue consistent after it happened.
func (c *CommandContext) Close() {
	if c.state != contextActive {
		return
	}
	core.LogError("context %s abandoned while active, finishing it", c.label)
	c.Finish()
}

func (c *CommandContext) release() {
	if c.state == contextActive {
		core.LogWarn("context %s still active at queue shutdown", c.label)
	}
	if c.list != nil {
		c.list.Release()
		c.list = nil
	}
}
