package vulkan

import (
	"context"
	"fmt"
	"sync/atomic"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// Queue is the first hardware queue of a family. Queues of different kinds that share
// a family submit under the same lock.
type Queue struct {
	dev    *Device
	kind   driver.QueueKind
	family uint32
	handle vk.Queue
	closed atomic.Bool
}

func (q *Queue) Kind() driver.QueueKind { return q.kind }

func (q *Queue) Submit(lists ...driver.CommandList) error {
	if q.closed.Load() {
		return fmt.Errorf("vulkan: %s queue: %w", q.kind, core.ErrQueueClosed)
	}
	buffers := make([]vk.CommandBuffer, 0, len(lists))
	for _, dl := range lists {
		l, ok := dl.(*CommandList)
		if !ok {
			return fmt.Errorf("vulkan: foreign command list %T: %w", dl, core.ErrContractViolation)
		}
		if l.state != stateRecordingEnded && l.state != stateSubmitted {
			return fmt.Errorf("vulkan: submit of an open command list: %w", core.ErrContractViolation)
		}
		if l.alloc.family != q.family {
			return fmt.Errorf("vulkan: %s list recorded for family %d on a %s queue of family %d: %w",
				l.kind, l.alloc.family, q.kind, q.family, core.ErrContractViolation)
		}
		buffers = append(buffers, l.handle)
	}
	if len(buffers) == 0 {
		return nil
	}
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
		PCommandBuffers:    buffers,
	}
	err := q.dev.locks.SafeQueueCall(q.family, func() error {
		return newError("vkQueueSubmit", vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence))
	})
	if err != nil {
		return err
	}
	for _, dl := range lists {
		dl.(*CommandList).state = stateSubmitted
	}
	return nil
}

func (q *Queue) Signal(f driver.Fence, value uint64) error {
	if q.closed.Load() {
		return fmt.Errorf("vulkan: %s queue: %w", q.kind, core.ErrQueueClosed)
	}
	fence := f.(*Fence)
	return q.dev.locks.SafeQueueCall(q.family, func() error {
		return fence.signal(q, value)
	})
}

// Wait blocks the calling goroutine until the fence reaches value. Binary fences
// cannot be waited on by a queue, so the ordering is enforced before later
// submissions are made.
func (q *Queue) Wait(f driver.Fence, value uint64) error {
	if q.closed.Load() {
		return fmt.Errorf("vulkan: %s queue: %w", q.kind, core.ErrQueueClosed)
	}
	return f.(*Fence).Wait(context.Background(), value)
}

func (q *Queue) Release() {
	q.closed.Store(true)
}
