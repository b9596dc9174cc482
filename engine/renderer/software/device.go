// Package software is a CPU implementation of the driver interfaces. Every hardware
// queue is a goroutine executing submitted command lists in order, fences are real
// blocking counters, and compute work runs as Go kernels that read and write memory
// through the bound shader-visible descriptor heap.
//
// It also carries what tests need to observe GPU asynchrony deterministically: a
// Suspend/Resume gate on execution, fault injection on submission and a validation
// layer that tracks resource states along the GPU timeline.
package software

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type Options struct {
	Name string
	// Validation records barrier and allocator misuse, see ValidationErrors.
	Validation bool
}

type Device struct {
	name       string
	validation bool

	// workers hold the read side while executing; Suspend takes the write side.
	gate      sync.RWMutex
	suspended atomic.Bool

	fault atomic.Pointer[error]

	mu     sync.Mutex
	queues []*Queue
	errors []string

	live atomic.Int64
}

func New(opts Options) *Device {
	if opts.Name == "" {
		opts.Name = "software"
	}
	core.LogInfo("software device %q created (validation: %v)", opts.Name, opts.Validation)
	return &Device{name: opts.Name, validation: opts.Validation}
}

func (d *Device) Name() string {
	return d.name
}

// Suspend stops every queue from starting new work until Resume. Work already
// executing finishes first.
func (d *Device) Suspend() {
	if d.suspended.CompareAndSwap(false, true) {
		d.gate.Lock()
	}
}

func (d *Device) Resume() {
	if d.suspended.CompareAndSwap(true, false) {
		d.gate.Unlock()
	}
}

// InjectFault makes every following submission fail with err, the way a lost device
// refuses all work.
func (d *Device) InjectFault(err error) {
	d.fault.Store(&err)
}

func (d *Device) faulted() error {
	if p := d.fault.Load(); p != nil {
		return *p
	}
	return nil
}

// ValidationErrors returns every misuse recorded so far.
func (d *Device) ValidationErrors() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.errors...)
}

func (d *Device) report(format string, args ...interface{}) {
	if !d.validation {
		return
	}
	msg := fmt.Sprintf(format, args...)
	core.LogError("software validation: %s", msg)
	d.mu.Lock()
	d.errors = append(d.errors, msg)
	d.mu.Unlock()
}

// LiveObjects is the number of created objects not yet released.
func (d *Device) LiveObjects() int64 {
	return d.live.Load()
}

// Contents copies the memory of an allocation. Read it only once the work writing it
// is known to be complete.
func (d *Device) Contents(a driver.Allocation) []byte {
	return append([]byte(nil), a.(*Allocation).data...)
}

func (d *Device) CreateQueue(kind driver.QueueKind) (driver.Queue, error) {
	q := newQueue(d, kind)
	d.mu.Lock()
	d.queues = append(d.queues, q)
	d.mu.Unlock()
	d.live.Add(1)
	return q, nil
}

func (d *Device) CreateFence(initial uint64) (driver.Fence, error) {
	d.live.Add(1)
	return &Fence{dev: d, value: initial}, nil
}

func (d *Device) CreateCommandAllocator(kind driver.QueueKind) (driver.CommandAllocator, error) {
	d.live.Add(1)
	return &CommandAllocator{dev: d, kind: kind}, nil
}

func (d *Device) CreateCommandList(kind driver.QueueKind, alloc driver.CommandAllocator, pso driver.PipelineState) (driver.CommandList, error) {
	a, ok := alloc.(*CommandAllocator)
	if !ok || a == nil {
		return nil, fmt.Errorf("software: command list needs a software allocator: %w", core.ErrContractViolation)
	}
	if a.kind != kind {
		return nil, fmt.Errorf("software: %s allocator used for a %s list: %w", a.kind, kind, core.ErrContractViolation)
	}
	l := &CommandList{dev: d, kind: kind}
	l.begin(a, pso)
	d.live.Add(1)
	return l, nil
}

func (d *Device) CreateCommittedResource(heap driver.HeapType, desc driver.ResourceDesc, initial driver.ResourceState) (driver.Allocation, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("software: create resource: %w", err)
	}
	if heap != driver.HeapDefault && !desc.IsBuffer() {
		return nil, fmt.Errorf("software: textures live in the default heap: %w", core.ErrUnsupported)
	}
	size := desc.Width
	if !desc.IsBuffer() {
		size = desc.Width * uint64(desc.Height) * uint64(desc.Format.BytesPerPixel())
	}
	d.live.Add(1)
	return &Allocation{
		dev:   d,
		desc:  desc,
		heap:  heap,
		data:  make([]byte, size),
		state: initial,
	}, nil
}

func (d *Device) CopyableLayout(desc driver.ResourceDesc) driver.CopyableLayout {
	return driver.ComputeCopyableLayout(desc)
}

func (d *Device) CreateDescriptorHeap(capacity uint32, shaderVisible bool) (driver.DescriptorHeap, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("software: empty descriptor heap: %w", core.ErrContractViolation)
	}
	d.live.Add(1)
	return &DescriptorHeap{
		dev:           d,
		shaderVisible: shaderVisible,
		slots:         make([]descriptor, capacity),
	}, nil
}

func (d *Device) CreateView(heap driver.DescriptorHeap, slot uint32, res driver.Allocation, view driver.ViewDesc) {
	h := heap.(*DescriptorHeap)
	if h.shaderVisible {
		d.report("view created directly in a shader-visible heap at slot %d", slot)
	}
	var a *Allocation
	if res != nil {
		a = res.(*Allocation)
	}
	h.write(slot, descriptor{res: a, view: view})
}

func (d *Device) CopyDescriptors(dst driver.DescriptorHeap, dstSlot uint32, src driver.DescriptorHeap, srcSlot uint32, count uint32) {
	copyDescriptors(dst.(*DescriptorHeap), dstSlot, src.(*DescriptorHeap), srcSlot, count)
}

// WaitIdle blocks until every queue executed all work submitted so far.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	queues := append([]*Queue(nil), d.queues...)
	d.mu.Unlock()

	for _, q := range queues {
		if q.isClosed() {
			continue
		}
		f := &Fence{dev: d}
		if err := q.Signal(f, 1); err != nil {
			return err
		}
		if err := f.Wait(context.Background(), 1); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) Release() {
	d.Resume()
	d.mu.Lock()
	queues := d.queues
	d.queues = nil
	d.mu.Unlock()
	for _, q := range queues {
		q.Release()
	}
	core.LogInfo("software device %q released", d.name)
}

var (
	_ driver.Device           = (*Device)(nil)
	_ driver.Queue            = (*Queue)(nil)
	_ driver.Fence            = (*Fence)(nil)
	_ driver.CommandAllocator = (*CommandAllocator)(nil)
	_ driver.CommandList      = (*CommandList)(nil)
	_ driver.Allocation       = (*Allocation)(nil)
	_ driver.DescriptorHeap   = (*DescriptorHeap)(nil)
	_ driver.PipelineState    = (*Pipeline)(nil)
)
