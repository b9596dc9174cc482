package vulkan

import (
	"context"
	"fmt"
	"sync"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
)

const (
	// fenceWaitSlice bounds one vkWaitForFences call so context cancellation is noticed.
	fenceWaitSlice = 2 * time.Millisecond
	// fencePollInterval is used while no submitted signal reaches the awaited value.
	fencePollInterval = 500 * time.Microsecond
)

type pendingSignal struct {
	value  uint64
	handle vk.Fence
}

// Fence emulates a timeline counter with one binary VkFence per queued signal. The
// completed value advances as those fences are observed signaled.
type Fence struct {
	dev *Device

	mu        sync.Mutex
	completed uint64
	pending   []pendingSignal
	free      []vk.Fence
	released  bool
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poll()
	return f.completed
}

// poll retires signaled fences in submission order. Callers hold f.mu.
func (f *Fence) poll() {
	for len(f.pending) > 0 {
		p := f.pending[0]
		if vk.GetFenceStatus(f.dev.handle, p.handle) != vk.Success {
			return
		}
		if p.value > f.completed {
			f.completed = p.value
		}
		if res := vk.ResetFences(f.dev.handle, 1, []vk.Fence{p.handle}); res != vk.Success {
			core.LogWarn("vulkan: failed to reset fence: %s", resultString(res))
			vk.DestroyFence(f.dev.handle, p.handle, nil)
		} else {
			f.free = append(f.free, p.handle)
		}
		f.pending = f.pending[1:]
	}
}

func (f *Fence) Wait(ctx context.Context, value uint64) error {
	for {
		f.mu.Lock()
		f.poll()
		if f.completed >= value {
			f.mu.Unlock()
			return nil
		}
		target := vk.NullFence
		for _, p := range f.pending {
			if p.value >= value {
				target = p.handle
				break
			}
		}
		f.mu.Unlock()

		if target == vk.NullFence {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fencePollInterval):
			}
			continue
		}
		res := vk.WaitForFences(f.dev.handle, 1, []vk.Fence{target}, vk.True, uint64(fenceWaitSlice.Nanoseconds()))
		switch res {
		case vk.Success, vk.Timeout:
		default:
			return newError("vkWaitForFences", res)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// signal queues a signal of value behind all work submitted to q so far. The caller
// holds the queue family lock.
func (f *Fence) signal(q *Queue, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return fmt.Errorf("vulkan: signal of a released fence: %w", core.ErrContractViolation)
	}

	var handle vk.Fence
	if n := len(f.free); n > 0 {
		handle = f.free[n-1]
		f.free = f.free[:n-1]
	} else {
		createInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
		if err := newError("vkCreateFence", vk.CreateFence(f.dev.handle, &createInfo, nil, &handle)); err != nil {
			return err
		}
	}
	if err := newError("vkQueueSubmit", vk.QueueSubmit(q.handle, 0, nil, handle)); err != nil {
		f.free = append(f.free, handle)
		return err
	}
	f.pending = append(f.pending, pendingSignal{value: value, handle: handle})
	return nil
}

func (f *Fence) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return
	}
	f.released = true
	if len(f.pending) > 0 {
		handles := make([]vk.Fence, len(f.pending))
		for i, p := range f.pending {
			handles[i] = p.handle
		}
		vk.WaitForFences(f.dev.handle, uint32(len(handles)), handles, vk.True, vk.MaxUint64)
	}
	for _, p := range f.pending {
		vk.DestroyFence(f.dev.handle, p.handle, nil)
	}
	for _, h := range f.free {
		vk.DestroyFence(f.dev.handle, h, nil)
	}
	f.pending, f.free = nil, nil
}
