package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// rootDwords is the push-constant block every pipeline layout declares. Root
// parameter p is dword p: tables push their base slot, constants push their values.
const rootDwords = 32

type commandBufferState int

const (
	stateReady commandBufferState = iota
	stateRecording
	stateRecordingEnded
	stateSubmitted
)

// CommandAllocator is a command pool. Command buffers handed out since the last Reset
// return to the free list when the pool is reset.
type CommandAllocator struct {
	dev    *Device
	kind   driver.QueueKind
	family uint32
	pool   vk.CommandPool

	mu       sync.Mutex
	free     []vk.CommandBuffer
	used     []vk.CommandBuffer
	released bool
}

func (d *Device) CreateCommandAllocator(kind driver.QueueKind) (driver.CommandAllocator, error) {
	a := &CommandAllocator{dev: d, kind: kind, family: d.physical.families.forKind(kind)}
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: a.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	if err := newError("vkCreateCommandPool", vk.CreateCommandPool(d.handle, &poolCreateInfo, nil, &a.pool)); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *CommandAllocator) Kind() driver.QueueKind { return a.kind }

func (a *CommandAllocator) acquire() (vk.CommandBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		cb := a.free[n-1]
		a.free = a.free[:n-1]
		a.used = append(a.used, cb)
		return cb, nil
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        a.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if err := newError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(a.dev.handle, &allocateInfo, buffers)); err != nil {
		return nil, err
	}
	a.used = append(a.used, buffers[0])
	return buffers[0], nil
}

// Reset recycles every command buffer of the pool. Work recorded into them must have
// completed.
func (a *CommandAllocator) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := newError("vkResetCommandPool", vk.ResetCommandPool(a.dev.handle, a.pool, 0)); err != nil {
		return err
	}
	a.free = append(a.free, a.used...)
	a.used = a.used[:0]
	return nil
}

func (a *CommandAllocator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return
	}
	a.released = true
	vk.DestroyCommandPool(a.dev.handle, a.pool, nil)
	a.free, a.used = nil, nil
}

// CommandList records straight into a command buffer taken from its allocator.
type CommandList struct {
	dev    *Device
	kind   driver.QueueKind
	alloc  *CommandAllocator
	handle vk.CommandBuffer
	state  commandBufferState
	err    error

	pipeline *Pipeline
	root     [rootDwords]uint32
}

func (d *Device) CreateCommandList(kind driver.QueueKind, alloc driver.CommandAllocator, pso driver.PipelineState) (driver.CommandList, error) {
	a, ok := alloc.(*CommandAllocator)
	if !ok || a == nil {
		return nil, fmt.Errorf("vulkan: command list needs a vulkan allocator: %w", core.ErrContractViolation)
	}
	if a.kind != kind {
		return nil, fmt.Errorf("vulkan: %s allocator used for a %s list: %w", a.kind, kind, core.ErrContractViolation)
	}
	l := &CommandList{dev: d, kind: kind}
	if err := l.begin(a, pso); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *CommandList) Kind() driver.QueueKind { return l.kind }

func (l *CommandList) begin(a *CommandAllocator, pso driver.PipelineState) error {
	cb, err := a.acquire()
	if err != nil {
		return err
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := newError("vkBeginCommandBuffer", vk.BeginCommandBuffer(cb, &beginInfo)); err != nil {
		return err
	}
	l.alloc = a
	l.handle = cb
	l.state = stateRecording
	l.err = nil
	l.pipeline = nil
	l.root = [rootDwords]uint32{}
	if pso != nil {
		l.SetPipelineState(pso)
	}
	return nil
}

func (l *CommandList) Reset(alloc driver.CommandAllocator, pso driver.PipelineState) error {
	if l.state == stateRecording {
		return fmt.Errorf("vulkan: reset of an open command list: %w", core.ErrContractViolation)
	}
	a, ok := alloc.(*CommandAllocator)
	if !ok || a == nil || a.kind != l.kind {
		return fmt.Errorf("vulkan: reset with an incompatible allocator: %w", core.ErrContractViolation)
	}
	return l.begin(a, pso)
}

func (l *CommandList) Close() error {
	if l.state != stateRecording {
		return fmt.Errorf("vulkan: close of a closed command list: %w", core.ErrContractViolation)
	}
	l.state = stateRecordingEnded
	if err := newError("vkEndCommandBuffer", vk.EndCommandBuffer(l.handle)); err != nil && l.err == nil {
		l.err = err
	}
	return l.err
}

// Release drops the list. Its command buffer belongs to the allocator's pool.
func (l *CommandList) Release() {
	l.handle = nil
	l.state = stateReady
}

// fail makes Close return err; the first failure wins.
func (l *CommandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
	core.LogError("%v", err)
}

func (l *CommandList) recording() bool {
	if l.state != stateRecording {
		l.fail(fmt.Errorf("vulkan: recording into a closed command list: %w", core.ErrContractViolation))
		return false
	}
	return true
}

func (l *CommandList) ResourceBarrier(barriers []driver.Barrier) {
	if !l.recording() || len(barriers) == 0 {
		return
	}
	b := newBarrierBatch(l.kind)
	for _, br := range barriers {
		b.add(br)
	}
	b.record(l.handle)
}

func (l *CommandList) CopyBufferRegion(dst driver.Allocation, dstOffset uint64, src driver.Allocation, srcOffset, size uint64) {
	if !l.recording() {
		return
	}
	d, s := dst.(*Allocation), src.(*Allocation)
	if dstOffset+size > d.Size() || srcOffset+size > s.Size() {
		l.fail(fmt.Errorf("vulkan: buffer copy of %d bytes out of range: %w", size, core.ErrContractViolation))
		return
	}
	vk.CmdCopyBuffer(l.handle, s.buffer, d.buffer, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

func (l *CommandList) CopyTextureFromBuffer(dst driver.Allocation, src driver.Allocation, layout driver.CopyableLayout) {
	if !l.recording() {
		return
	}
	d, s := dst.(*Allocation), src.(*Allocation)
	fp := layout.Footprint
	if d.desc.IsBuffer() || uint64(fp.Width) != d.desc.Width || fp.Height != d.desc.Height {
		l.fail(fmt.Errorf("vulkan: texture copy footprint does not match %q: %w", d.Label(), core.ErrContractViolation))
		return
	}
	if fp.Offset+layout.TotalBytes > s.Size() {
		l.fail(fmt.Errorf("vulkan: texture copy reads past the staging buffer: %w", core.ErrContractViolation))
		return
	}
	vk.CmdCopyBufferToImage(l.handle, s.buffer, d.image, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
		BufferOffset:      vk.DeviceSize(fp.Offset),
		BufferRowLength:   fp.RowPitch / fp.Format.BytesPerPixel(),
		BufferImageHeight: fp.Height,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(aspectFor(d.desc.Format)),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: fp.Width, Height: fp.Height, Depth: 1},
	}})
}

func (l *CommandList) SetPipelineState(pso driver.PipelineState) {
	if !l.recording() {
		return
	}
	p, ok := pso.(*Pipeline)
	if !ok {
		l.fail(fmt.Errorf("vulkan: foreign pipeline state %T: %w", pso, core.ErrContractViolation))
		return
	}
	l.pipeline = p
	vk.CmdBindPipeline(l.handle, vk.PipelineBindPointCompute, p.handle)
}

func (l *CommandList) SetDescriptorHeap(heap driver.DescriptorHeap) {
	if !l.recording() {
		return
	}
	h := heap.(*DescriptorHeap)
	if !h.shaderVisible {
		l.fail(fmt.Errorf("vulkan: binding a CPU-only descriptor heap: %w", core.ErrContractViolation))
		return
	}
	vk.CmdBindDescriptorSets(l.handle, vk.PipelineBindPointCompute, l.dev.layout.pipelineLayout,
		0, uint32(len(h.sets)), h.sets[:], 0, nil)
}

func (l *CommandList) SetComputeRootDescriptorTable(param uint32, baseSlot uint32) {
	l.SetComputeRootConstants(param, []uint32{baseSlot})
}

func (l *CommandList) SetComputeRootConstants(param uint32, values []uint32) {
	if !l.recording() {
		return
	}
	if uint64(param)+uint64(len(values)) > rootDwords {
		l.fail(fmt.Errorf("vulkan: root parameter %d with %d values exceeds %d dwords: %w",
			param, len(values), rootDwords, core.ErrContractViolation))
		return
	}
	copy(l.root[param:], values)
}

func (l *CommandList) SetGraphicsRootDescriptorTable(param uint32, baseSlot uint32) {
	l.fail(fmt.Errorf("vulkan: graphics root bindings: %w", core.ErrUnsupported))
}

func (l *CommandList) SetGraphicsRootConstants(param uint32, values []uint32) {
	l.fail(fmt.Errorf("vulkan: graphics root bindings: %w", core.ErrUnsupported))
}

func (l *CommandList) Dispatch(x, y, z uint32) {
	if !l.recording() {
		return
	}
	if !l.kind.SupportsCompute() {
		l.fail(fmt.Errorf("vulkan: dispatch on a %s list: %w", l.kind, core.ErrUnsupported))
		return
	}
	if l.pipeline == nil {
		l.fail(fmt.Errorf("vulkan: dispatch without a pipeline state: %w", core.ErrContractViolation))
		return
	}
	// cgo may not see Go pointers, so push from a copy on the stack
	root := l.root
	vk.CmdPushConstants(l.handle, l.dev.layout.pipelineLayout, vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		0, rootDwords*4, unsafe.Pointer(&root[0]))
	vk.CmdDispatch(l.handle, x, y, z)
}

func (l *CommandList) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) {
	l.fail(fmt.Errorf("vulkan: draw: %w", core.ErrUnsupported))
}
