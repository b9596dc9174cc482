// Package driver is the hardware boundary of the renderer. The submission core in
// package gfx only talks to these interfaces; software and vulkan implement them.
//
// The model follows explicit GPU APIs: command lists are recorded against pooled
// allocators, submitted to hardware queues that execute in order, and completion is
// observed through monotonically increasing fences. Drivers do not track resource
// state; callers record transition barriers.
package driver

import "context"

// Allocation is a GPU memory allocation backing a buffer or a texture.
type Allocation interface {
	Desc() ResourceDesc
	Heap() HeapType
	// Size is the number of bytes of backing memory.
	Size() uint64
	// Map returns CPU-visible memory. Only upload and readback heaps are mappable.
	Map() ([]byte, error)
	Unmap()
	SetLabel(label string)
	Label() string
	Release()
}

// Fence is a timeline counter signaled by queues.
type Fence interface {
	// CompletedValue is the highest value the fence has reached.
	CompletedValue() uint64
	// Wait blocks until the fence reaches value or ctx is done.
	Wait(ctx context.Context, value uint64) error
	Release()
}

// Queue is a hardware submission endpoint. Work submitted to one queue executes in
// submission order.
type Queue interface {
	Kind() QueueKind
	Submit(lists ...CommandList) error
	// Signal sets the fence to value once all previously submitted work completed.
	Signal(f Fence, value uint64) error
	// Wait makes subsequent work on this queue wait until the fence reaches value.
	Wait(f Fence, value uint64) error
	Release()
}

// CommandAllocator owns the memory recorded commands live in. It must not be reset
// while work recorded into it is still executing.
type CommandAllocator interface {
	Kind() QueueKind
	Reset() error
	Release()
}

// PipelineState is an opaque compiled pipeline produced outside this package.
type PipelineState interface {
	Label() string
}

// DescriptorHeap is a table of views. Only shader-visible heaps can be bound; views
// are created in CPU-only heaps and copied over.
type DescriptorHeap interface {
	Capacity() uint32
	ShaderVisible() bool
	Release()
}

// CommandList records GPU commands. Lists are created open; Close ends recording and
// Reset reopens it against an allocator.
type CommandList interface {
	Kind() QueueKind
	Reset(alloc CommandAllocator, pso PipelineState) error
	Close() error

	ResourceBarrier(barriers []Barrier)

	CopyBufferRegion(dst Allocation, dstOffset uint64, src Allocation, srcOffset, size uint64)
	// CopyTextureFromBuffer copies rows laid out as layout in src into the texture dst.
	CopyTextureFromBuffer(dst Allocation, src Allocation, layout CopyableLayout)

	SetPipelineState(pso PipelineState)
	SetDescriptorHeap(heap DescriptorHeap)
	SetComputeRootDescriptorTable(param uint32, baseSlot uint32)
	SetComputeRootConstants(param uint32, values []uint32)
	SetGraphicsRootDescriptorTable(param uint32, baseSlot uint32)
	SetGraphicsRootConstants(param uint32, values []uint32)
	Dispatch(x, y, z uint32)
	DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32)

	Release()
}

// Device creates every driver object.
type Device interface {
	Name() string
	CreateQueue(kind QueueKind) (Queue, error)
	CreateFence(initial uint64) (Fence, error)
	CreateCommandAllocator(kind QueueKind) (CommandAllocator, error)
	CreateCommandList(kind QueueKind, alloc CommandAllocator, pso PipelineState) (CommandList, error)
	CreateCommittedResource(heap HeapType, desc ResourceDesc, initial ResourceState) (Allocation, error)
	// CopyableLayout describes how a resource is laid out in a linear staging buffer.
	CopyableLayout(desc ResourceDesc) CopyableLayout
	CreateDescriptorHeap(capacity uint32, shaderVisible bool) (DescriptorHeap, error)
	// CreateView writes a view of res into slot of a CPU-only heap.
	CreateView(heap DescriptorHeap, slot uint32, res Allocation, view ViewDesc)
	CopyDescriptors(dst DescriptorHeap, dstSlot uint32, src DescriptorHeap, srcSlot uint32, count uint32)
	WaitIdle() error
	Release()
}
