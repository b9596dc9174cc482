package gfx

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/kiln/engine/containers"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type QueueOptions struct {
	Name string
	// Descriptors is bound by every compute and graphics context. Optional.
	Descriptors *DescriptorManager
	// ContextIDs numbers contexts for ownership tracking. Queues of one device should
	// share it so ids never collide.
	ContextIDs *core.Sequence
}

type QueueStats struct {
	Submissions       uint64
	LastSubmitted     uint64
	LastCompleted     uint64
	AllocatorsCreated int
	AllocatorsPooled  int
	ContextsCreated   int
	ContextsPooled    int
}

type pooledAllocator struct {
	sp    SyncPoint
	alloc driver.CommandAllocator
}

// CommandQueue owns a hardware queue, its timeline and the pools of allocators and
// contexts recorded for it.
type CommandQueue struct {
	device      driver.Device
	kind        driver.QueueKind
	name        string
	hw          driver.Queue
	timeline    *Timeline
	descriptors *DescriptorManager

	// held across submit and signal so values follow submission order
	submitMu    sync.Mutex
	nextValue   uint64
	submissions atomic.Uint64

	// oldest first: allocators become eligible in fence order
	allocMu   sync.Mutex
	available *containers.RingQueue[pooledAllocator]

	// most recently returned first
	contextMu sync.Mutex
	idle      *containers.Stack[*CommandContext]

	registryMu  sync.Mutex
	allocators  []driver.CommandAllocator
	contexts    []*CommandContext
	contextIDs  *core.Sequence
	allocLabels *core.Labeler

	closed atomic.Bool
}

func NewCommandQueue(device driver.Device, kind driver.QueueKind, opts QueueOptions) *CommandQueue {
	if opts.Name == "" {
		opts.Name = kind.String()
	}
	if opts.ContextIDs == nil {
		opts.ContextIDs = core.NewSequence()
	}
	hw, err := device.CreateQueue(kind)
	core.Check(err, "create %s queue", opts.Name)
	fence, err := device.CreateFence(0)
	core.Check(err, "create fence for %s queue", opts.Name)

	q := &CommandQueue{
		device:      device,
		kind:        kind,
		name:        opts.Name,
		hw:          hw,
		timeline:    newTimeline(opts.Name, fence),
		descriptors: opts.Descriptors,
		available:   containers.NewGrowableRingQueue[pooledAllocator](8),
		idle:        containers.NewStack[*CommandContext](8),
		contextIDs:  opts.ContextIDs,
		allocLabels: core.NewLabeler(opts.Name+"-allocator", nil),
	}
	core.LogInfo("%s queue created on %s (timeline %s)", opts.Name, device.Name(), q.timeline.ID())
	return q
}

func (q *CommandQueue) Kind() driver.QueueKind { return q.kind }
func (q *CommandQueue) Name() string           { return q.name }
func (q *CommandQueue) Timeline() *Timeline    { return q.timeline }
func (q *CommandQueue) Hardware() driver.Queue { return q.hw }
func (q *CommandQueue) Device() driver.Device  { return q.device }

// RentAllocator hands out the oldest pooled allocator if its work is complete, or a
// new one otherwise.
func (q *CommandQueue) RentAllocator() driver.CommandAllocator {
	q.allocMu.Lock()
	if front, err := q.available.Peek(); err == nil && front.sp.Poll() {
		_, _ = q.available.Dequeue()
		q.allocMu.Unlock()
		core.Check(front.alloc.Reset(), "reset allocator of %s queue", q.name)
		return front.alloc
	}
	q.allocMu.Unlock()

	alloc, err := q.device.CreateCommandAllocator(q.kind)
	core.Check(err, "create allocator for %s queue", q.name)
	q.registryMu.Lock()
	q.allocators = append(q.allocators, alloc)
	n := len(q.allocators)
	q.registryMu.Unlock()
	core.LogDebug("%s queue created %s (%d total)", q.name, q.allocLabels.Label(""), n)
	return alloc
}

// ReturnAllocator pools alloc until sp is satisfied.
func (q *CommandQueue) ReturnAllocator(sp SyncPoint, alloc driver.CommandAllocator) {
	q.allocMu.Lock()
	defer q.allocMu.Unlock()
	if err := q.available.Enqueue(pooledAllocator{sp: sp, alloc: alloc}); err != nil {
		core.Check(err, "pool allocator of %s queue", q.name)
	}
}

// RentContext returns an idle context, creating one when the pool is empty.
func (q *CommandQueue) RentContext() *CommandContext {
	q.contextMu.Lock()
	c, ok := q.idle.Pop()
	q.contextMu.Unlock()
	if ok {
		return c
	}

	id := q.contextIDs.Next()
	c = newCommandContext(q, id, fmt.Sprintf("%s-context#%d", q.name, id))
	q.registryMu.Lock()
	q.contexts = append(q.contexts, c)
	q.registryMu.Unlock()
	core.LogDebug("%s queue created %s", q.name, c.label)
	return c
}

func (q *CommandQueue) returnContext(c *CommandContext) {
	q.contextMu.Lock()
	q.idle.Push(c)
	q.contextMu.Unlock()
}

// Submit executes a closed list and returns the point its work completes.
func (q *CommandQueue) Submit(list driver.CommandList) SyncPoint {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()
	return q.submitLocked(list)
}

func (q *CommandQueue) submitLocked(lists ...driver.CommandList) SyncPoint {
	if q.closed.Load() {
		core.Check(fmt.Errorf("%s queue: %w", q.name, core.ErrQueueClosed), "submit")
	}
	if len(lists) > 0 {
		core.Check(q.hw.Submit(lists...), "submit to %s queue", q.name)
		q.submissions.Add(1)
	}
	q.nextValue++
	core.Check(q.hw.Signal(q.timeline.fence, q.nextValue), "signal %s timeline at %d", q.name, q.nextValue)
	return SyncPoint{timeline: q.timeline, value: q.nextValue}
}

// SubmitAndReturnAllocator submits list and pools alloc behind the returned SyncPoint.
func (q *CommandQueue) SubmitAndReturnAllocator(list driver.CommandList, alloc driver.CommandAllocator) SyncPoint {
	sp := q.Submit(list)
	q.ReturnAllocator(sp, alloc)
	return sp
}

// QueueSyncPoint signals the timeline without work, a checkpoint for everything
// submitted so far.
func (q *CommandQueue) QueueSyncPoint() SyncPoint {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()
	return q.submitLocked()
}

// WaitForSyncPoint makes work submitted afterwards wait on the GPU for sp. Points on
// this queue's own timeline are already ordered and need no wait.
func (q *CommandQueue) WaitForSyncPoint(sp SyncPoint) {
	if sp.IsZero() || sp.timeline == q.timeline || sp.Poll() {
		return
	}
	q.submitMu.Lock()
	defer q.submitMu.Unlock()
	core.Check(q.hw.Wait(sp.timeline.fence, sp.value), "%s queue waiting for %s", q.name, sp)
}

// BeginCopy rents a context recording copies.
func (q *CommandQueue) BeginCopy() *CopyContext {
	c := q.RentContext()
	c.Begin(nil)
	return &CopyContext{CommandContext: c}
}

func (q *CommandQueue) BeginCompute(pso driver.PipelineState) *ComputeContext {
	core.Assert(q.kind.SupportsCompute(), "compute context on %s queue", q.name)
	c := q.RentContext()
	c.Begin(pso)
	return &ComputeContext{CopyContext: CopyContext{CommandContext: c}}
}

func (q *CommandQueue) BeginGraphics(pso driver.PipelineState) *GraphicsContext {
	core.Assert(q.kind.SupportsGraphics(), "graphics context on %s queue", q.name)
	c := q.RentContext()
	c.Begin(pso)
	return &GraphicsContext{ComputeContext: ComputeContext{CopyContext: CopyContext{CommandContext: c}}}
}

func (q *CommandQueue) Stats() QueueStats {
	q.submitMu.Lock()
	last := q.nextValue
	q.submitMu.Unlock()
	q.allocMu.Lock()
	pooledAllocators := q.available.Len()
	q.allocMu.Unlock()
	q.contextMu.Lock()
	pooledContexts := q.idle.Len()
	q.contextMu.Unlock()
	q.registryMu.Lock()
	defer q.registryMu.Unlock()
	return QueueStats{
		Submissions:       q.submissions.Load(),
		LastSubmitted:     last,
		LastCompleted:     q.timeline.observe(q.timeline.fence.CompletedValue()),
		AllocatorsCreated: len(q.allocators),
		AllocatorsPooled:  pooledAllocators,
		ContextsCreated:   len(q.contexts),
		ContextsPooled:    pooledContexts,
	}
}

// Shutdown waits for a final checkpoint and releases everything the queue created.
func (q *CommandQueue) Shutdown() {
	if q.closed.Load() {
		return
	}
	final := q.QueueSyncPoint()
	final.Wait()
	q.closed.Store(true)

	q.registryMu.Lock()
	for _, c := range q.contexts {
		c.release()
	}
	for _, a := range q.allocators {
		a.Release()
	}
	q.contexts, q.allocators = nil, nil
	q.registryMu.Unlock()

	q.hw.Release()
	q.timeline.fence.Release()
	core.LogInfo("%s queue shut down at %s", q.name, final)
}
