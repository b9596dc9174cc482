package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// maxHeapSlots is the largest shader-visible heap the bindless layout accepts.
const maxHeapSlots = 1 << 17

// descriptorClass selects one of the bindless sets. Slot n of a heap is array element
// n of whichever set matches the view written there.
type descriptorClass int

const (
	classStorageBuffer descriptorClass = iota
	classSampledImage
	classStorageImage
	classUniformBuffer
	descriptorClasses
)

var classTypes = [descriptorClasses]vk.DescriptorType{
	classStorageBuffer: vk.DescriptorTypeStorageBuffer,
	classSampledImage:  vk.DescriptorTypeSampledImage,
	classStorageImage:  vk.DescriptorTypeStorageImage,
	classUniformBuffer: vk.DescriptorTypeUniformBuffer,
}

// bindlessLayout is shared by every pipeline: one variable-sized array per set and the
// root push-constant block.
type bindlessLayout struct {
	setLayouts     [descriptorClasses]vk.DescriptorSetLayout
	pipelineLayout vk.PipelineLayout
}

func newBindlessLayout(dev vk.Device) (*bindlessLayout, error) {
	l := &bindlessLayout{}
	bindingFlags := vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingUpdateAfterBindBit |
		vk.DescriptorBindingUpdateUnusedWhilePendingBit | vk.DescriptorBindingVariableDescriptorCountBit
	for c := range classTypes {
		flagsInfo := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
			SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
			BindingCount:  1,
			PBindingFlags: []vk.DescriptorBindingFlags{vk.DescriptorBindingFlags(bindingFlags)},
		}
		flagsRef, _ := flagsInfo.PassRef()
		createInfo := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			PNext:        unsafe.Pointer(flagsRef),
			Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit),
			BindingCount: 1,
			PBindings: []vk.DescriptorSetLayoutBinding{{
				Binding:         0,
				DescriptorType:  classTypes[c],
				DescriptorCount: maxHeapSlots,
				StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAll),
			}},
		}
		if err := newError("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(dev, &createInfo, nil, &l.setLayouts[c])); err != nil {
			l.destroy(dev)
			return nil, err
		}
	}

	layoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(l.setLayouts)),
		PSetLayouts:            l.setLayouts[:],
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			Size:       rootDwords * 4,
		}},
	}
	if err := newError("vkCreatePipelineLayout", vk.CreatePipelineLayout(dev, &layoutCreateInfo, nil, &l.pipelineLayout)); err != nil {
		l.destroy(dev)
		return nil, err
	}
	return l, nil
}

func (l *bindlessLayout) destroy(dev vk.Device) {
	if l.pipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(dev, l.pipelineLayout, nil)
		l.pipelineLayout = vk.NullPipelineLayout
	}
	for i, sl := range l.setLayouts {
		if sl != vk.NullDescriptorSetLayout {
			vk.DestroyDescriptorSetLayout(dev, sl, nil)
			l.setLayouts[i] = vk.NullDescriptorSetLayout
		}
	}
}

type descriptor struct {
	res  *Allocation
	view driver.ViewDesc
}

// DescriptorHeap keeps every view on the CPU. A shader-visible heap also owns one
// descriptor set per class that CopyDescriptors writes through to.
type DescriptorHeap struct {
	dev           *Device
	shaderVisible bool

	mu       sync.RWMutex
	slots    []descriptor
	pool     vk.DescriptorPool
	sets     [descriptorClasses]vk.DescriptorSet
	released bool
}

func (d *Device) CreateDescriptorHeap(capacity uint32, shaderVisible bool) (driver.DescriptorHeap, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("vulkan: empty descriptor heap: %w", core.ErrContractViolation)
	}
	h := &DescriptorHeap{dev: d, shaderVisible: shaderVisible, slots: make([]descriptor, capacity)}
	if !shaderVisible {
		return h, nil
	}
	if capacity > maxHeapSlots {
		return nil, fmt.Errorf("vulkan: shader-visible heap of %d slots exceeds %d: %w", capacity, maxHeapSlots, core.ErrUnsupported)
	}

	poolSizes := make([]vk.DescriptorPoolSize, len(classTypes))
	for c, t := range classTypes {
		poolSizes[c] = vk.DescriptorPoolSize{Type: t, DescriptorCount: capacity}
	}
	poolCreateInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit),
		MaxSets:       uint32(len(classTypes)),
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if err := newError("vkCreateDescriptorPool", vk.CreateDescriptorPool(d.handle, &poolCreateInfo, nil, &h.pool)); err != nil {
		return nil, err
	}
	for c := range classTypes {
		countInfo := vk.DescriptorSetVariableDescriptorCountAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetVariableDescriptorCountAllocateInfo,
			DescriptorSetCount: 1,
			PDescriptorCounts:  []uint32{capacity},
		}
		countRef, _ := countInfo.PassRef()
		allocateInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			PNext:              unsafe.Pointer(countRef),
			DescriptorPool:     h.pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{d.layout.setLayouts[c]},
		}
		if err := newError("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(d.handle, &allocateInfo, &h.sets[c])); err != nil {
			vk.DestroyDescriptorPool(d.handle, h.pool, nil)
			return nil, err
		}
	}
	return h, nil
}

func (h *DescriptorHeap) Capacity() uint32    { return uint32(len(h.slots)) }
func (h *DescriptorHeap) ShaderVisible() bool { return h.shaderVisible }

func (h *DescriptorHeap) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	if h.pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(h.dev.handle, h.pool, nil)
		h.pool = vk.NullDescriptorPool
	}
}

func (d *Device) CreateView(heap driver.DescriptorHeap, slot uint32, res driver.Allocation, view driver.ViewDesc) {
	h := heap.(*DescriptorHeap)
	var a *Allocation
	if res != nil {
		a = res.(*Allocation)
	}
	if int(slot) >= len(h.slots) {
		core.LogError("vulkan: descriptor write at slot %d past capacity %d", slot, len(h.slots))
		return
	}
	h.mu.Lock()
	h.slots[slot] = descriptor{res: a, view: view}
	h.mu.Unlock()
	if h.shaderVisible {
		core.LogWarn("vulkan: view created directly in a shader-visible heap at slot %d", slot)
		h.writeThrough(slot, 1)
	}
}

func (d *Device) CopyDescriptors(dst driver.DescriptorHeap, dstSlot uint32, src driver.DescriptorHeap, srcSlot uint32, count uint32) {
	dh, sh := dst.(*DescriptorHeap), src.(*DescriptorHeap)
	if uint64(dstSlot)+uint64(count) > uint64(len(dh.slots)) || uint64(srcSlot)+uint64(count) > uint64(len(sh.slots)) {
		core.LogError("vulkan: descriptor copy of %d slots out of range (%d -> %d)", count, srcSlot, dstSlot)
		return
	}
	sh.mu.RLock()
	tmp := append([]descriptor(nil), sh.slots[srcSlot:srcSlot+count]...)
	sh.mu.RUnlock()

	dh.mu.Lock()
	copy(dh.slots[dstSlot:dstSlot+count], tmp)
	dh.mu.Unlock()

	if dh.shaderVisible {
		dh.writeThrough(dstSlot, count)
	}
}

// writeThrough mirrors slots [first, first+count) into the descriptor sets. Empty
// slots keep whatever the set held; partially bound arrays allow stale entries that
// shaders never read.
func (h *DescriptorHeap) writeThrough(first, count uint32) {
	h.mu.RLock()
	writes := make([]vk.WriteDescriptorSet, 0, count)
	for slot := first; slot < first+count; slot++ {
		e := h.slots[slot]
		if e.res == nil {
			continue
		}
		w, ok := h.write(slot, e)
		if !ok {
			core.LogError("vulkan: %s view of %q at slot %d has no descriptor type", e.view.Type, e.res.Label(), slot)
			continue
		}
		writes = append(writes, w)
	}
	h.mu.RUnlock()
	if len(writes) == 0 {
		return
	}
	h.dev.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(h.dev.handle, uint32(len(writes)), writes, 0, nil)
		return nil
	})
}

func (h *DescriptorHeap) write(slot uint32, e descriptor) (vk.WriteDescriptorSet, bool) {
	w := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      0,
		DstArrayElement: slot,
		DescriptorCount: 1,
	}
	var class descriptorClass
	if e.res.desc.IsBuffer() {
		class = classStorageBuffer
		if e.view.Type == driver.ViewConstantBuffer {
			class = classUniformBuffer
		}
		elem := e.view.ElementSize()
		offset := e.view.FirstElement * elem
		size := uint64(e.view.NumElements) * elem
		if e.view.NumElements == 0 {
			size = e.res.Size() - offset
		}
		w.PBufferInfo = []vk.DescriptorBufferInfo{{
			Buffer: e.res.buffer,
			Offset: vk.DeviceSize(offset),
			Range:  vk.DeviceSize(size),
		}}
	} else {
		switch e.view.Type {
		case driver.ViewShaderResource:
			class = classSampledImage
			w.PImageInfo = []vk.DescriptorImageInfo{{
				ImageView:   e.res.view,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}}
		case driver.ViewUnorderedAccess:
			class = classStorageImage
			w.PImageInfo = []vk.DescriptorImageInfo{{
				ImageView:   e.res.view,
				ImageLayout: vk.ImageLayoutGeneral,
			}}
		default:
			return w, false
		}
	}
	w.DstSet = h.sets[class]
	w.DescriptorType = classTypes[class]
	return w, true
}
