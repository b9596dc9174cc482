package software

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaghettifunk/kiln/engine/containers"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type recording struct {
	cmds  []command
	alloc *CommandAllocator
}

type work struct {
	lists []recording
	fence *Fence
	value uint64
	// wait blocks the queue until fence reaches value instead of signaling it
	wait bool
}

// Queue executes work on its own goroutine in submission order.
type Queue struct {
	dev  *Device
	kind driver.QueueKind

	mu      sync.Mutex
	cond    *sync.Cond
	pending *containers.RingQueue[work]
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	submissions int
}

func newQueue(dev *Device, kind driver.QueueKind) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		dev:     dev,
		kind:    kind,
		pending: containers.NewGrowableRingQueue[work](16),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *Queue) Kind() driver.QueueKind { return q.kind }

func (q *Queue) Submit(lists ...driver.CommandList) error {
	if err := q.dev.faulted(); err != nil {
		return fmt.Errorf("software: submit to %s queue: %w", q.kind, err)
	}
	recs := make([]recording, 0, len(lists))
	for _, dl := range lists {
		l, ok := dl.(*CommandList)
		if !ok {
			return fmt.Errorf("software: foreign command list %T: %w", dl, core.ErrContractViolation)
		}
		if l.open {
			q.dev.report("submission of an open command list")
			return fmt.Errorf("software: submit of an open command list: %w", core.ErrContractViolation)
		}
		if !compatible(q.kind, l.kind) {
			return fmt.Errorf("software: %s list on a %s queue: %w", l.kind, q.kind, core.ErrContractViolation)
		}
		recs = append(recs, recording{cmds: l.cmds, alloc: l.alloc})
	}
	for _, r := range recs {
		r.alloc.inFlight.Add(1)
	}
	if err := q.push(work{lists: recs}); err != nil {
		for _, r := range recs {
			r.alloc.inFlight.Add(-1)
		}
		return err
	}
	return nil
}

// compatible follows the usual queue hierarchy: graphics queues run everything,
// compute queues run compute and copy lists.
func compatible(queue, list driver.QueueKind) bool {
	switch queue {
	case driver.QueueGraphics:
		return true
	case driver.QueueCompute:
		return list != driver.QueueGraphics
	}
	return list == driver.QueueCopy
}

func (q *Queue) Signal(f driver.Fence, value uint64) error {
	return q.push(work{fence: f.(*Fence), value: value})
}

func (q *Queue) Wait(f driver.Fence, value uint64) error {
	return q.push(work{fence: f.(*Fence), value: value, wait: true})
}

func (q *Queue) push(w work) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("software: %s queue: %w", q.kind, core.ErrQueueClosed)
	}
	if w.lists != nil {
		q.submissions++
	}
	if err := q.pending.Enqueue(w); err != nil {
		return err
	}
	q.cond.Signal()
	return nil
}

// Submissions counts accepted Submit calls.
func (q *Queue) Submissions() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submissions
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) next() (work, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending.IsEmpty() && !q.closed {
		q.cond.Wait()
	}
	w, err := q.pending.Dequeue()
	if err != nil {
		return work{}, false
	}
	return w, true
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		w, ok := q.next()
		if !ok {
			return
		}
		if w.wait {
			if err := w.fence.Wait(q.ctx, w.value); err != nil {
				core.LogDebug("software %s queue stopped waiting: %v", q.kind, err)
			}
			continue
		}
		q.dev.gate.RLock()
		for _, r := range w.lists {
			e := newExecutor(q.dev)
			for _, c := range r.cmds {
				c(e)
			}
			r.alloc.inFlight.Add(-1)
		}
		if w.fence != nil {
			w.fence.Signal(w.value)
		}
		q.dev.gate.RUnlock()
	}
}

// Release drains the queue and stops its goroutine. GPU-side waits still pending are
// abandoned.
func (q *Queue) Release() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.cancel()
	<-q.done
	q.dev.live.Add(-1)
}
