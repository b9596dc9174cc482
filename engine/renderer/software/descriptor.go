package software

import (
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type descriptor struct {
	res  *Allocation
	view driver.ViewDesc
}

type DescriptorHeap struct {
	dev           *Device
	shaderVisible bool

	mu       sync.RWMutex
	slots    []descriptor
	released atomic.Bool
}

func (h *DescriptorHeap) Capacity() uint32    { return uint32(len(h.slots)) }
func (h *DescriptorHeap) ShaderVisible() bool { return h.shaderVisible }

func (h *DescriptorHeap) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.dev.live.Add(-1)
	}
}

func (h *DescriptorHeap) write(slot uint32, d descriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(slot) >= len(h.slots) {
		h.dev.report("descriptor write at slot %d past capacity %d", slot, len(h.slots))
		return
	}
	h.slots[slot] = d
}

func (h *DescriptorHeap) read(slot uint32) (descriptor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if int(slot) >= len(h.slots) {
		return descriptor{}, false
	}
	d := h.slots[slot]
	return d, d.res != nil
}

func copyDescriptors(dst *DescriptorHeap, dstSlot uint32, src *DescriptorHeap, srcSlot uint32, count uint32) {
	if uint64(dstSlot)+uint64(count) > uint64(len(dst.slots)) || uint64(srcSlot)+uint64(count) > uint64(len(src.slots)) {
		dst.dev.report("descriptor copy of %d slots out of range (%d -> %d)", count, srcSlot, dstSlot)
		return
	}
	if dst == src {
		dst.mu.Lock()
		copy(dst.slots[dstSlot:dstSlot+count], dst.slots[srcSlot:srcSlot+count])
		dst.mu.Unlock()
		return
	}
	src.mu.RLock()
	tmp := append([]descriptor(nil), src.slots[srcSlot:srcSlot+count]...)
	src.mu.RUnlock()

	dst.mu.Lock()
	copy(dst.slots[dstSlot:dstSlot+count], tmp)
	dst.mu.Unlock()
}
