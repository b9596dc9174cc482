package software

import (
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type CommandAllocator struct {
	dev      *Device
	kind     driver.QueueKind
	inFlight atomic.Int32
	resets   atomic.Int32
	released atomic.Bool
}

func (a *CommandAllocator) Kind() driver.QueueKind { return a.kind }

// Reset fails while submitted lists recorded into the allocator are still executing.
func (a *CommandAllocator) Reset() error {
	if n := a.inFlight.Load(); n > 0 {
		a.dev.report("command allocator reset with %d submissions in flight", n)
		return fmt.Errorf("software: allocator reset with %d submissions in flight: %w", n, core.ErrContractViolation)
	}
	a.resets.Add(1)
	return nil
}

// Resets counts successful resets.
func (a *CommandAllocator) Resets() int {
	return int(a.resets.Load())
}

func (a *CommandAllocator) InFlight() int {
	return int(a.inFlight.Load())
}

func (a *CommandAllocator) Release() {
	if a.released.CompareAndSwap(false, true) {
		if n := a.inFlight.Load(); n > 0 {
			a.dev.report("command allocator released with %d submissions in flight", n)
		}
		a.dev.live.Add(-1)
	}
}

type command func(e *executor)

// CommandList records closures executed later by a queue goroutine.
type CommandList struct {
	dev   *Device
	kind  driver.QueueKind
	alloc *CommandAllocator
	cmds  []command
	open  bool
	err   error

	barriers int
	released atomic.Bool
}

func (l *CommandList) Kind() driver.QueueKind { return l.kind }

func (l *CommandList) begin(a *CommandAllocator, pso driver.PipelineState) {
	l.alloc = a
	// submitted recordings keep their slice, so never reuse the backing array
	l.cmds = nil
	l.err = nil
	l.barriers = 0
	l.open = true
	if pso != nil {
		l.SetPipelineState(pso)
	}
}

func (l *CommandList) Reset(alloc driver.CommandAllocator, pso driver.PipelineState) error {
	if l.open {
		return fmt.Errorf("software: reset of an open command list: %w", core.ErrContractViolation)
	}
	a, ok := alloc.(*CommandAllocator)
	if !ok || a == nil || a.kind != l.kind {
		return fmt.Errorf("software: reset with an incompatible allocator: %w", core.ErrContractViolation)
	}
	l.begin(a, pso)
	return nil
}

func (l *CommandList) Close() error {
	if !l.open {
		return fmt.Errorf("software: close of a closed command list: %w", core.ErrContractViolation)
	}
	l.open = false
	return l.err
}

func (l *CommandList) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.dev.live.Add(-1)
	}
}

// Commands is the number of commands recorded since the last reset.
func (l *CommandList) Commands() int {
	return len(l.cmds)
}

// Barriers is the number of barriers recorded since the last reset.
func (l *CommandList) Barriers() int {
	return l.barriers
}

func (l *CommandList) record(c command) {
	if !l.open {
		l.fail(fmt.Errorf("software: recording into a closed command list: %w", core.ErrContractViolation))
		return
	}
	l.cmds = append(l.cmds, c)
}

// fail makes Close return err; the first failure wins.
func (l *CommandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
	l.dev.report("%v", err)
}

func (l *CommandList) ResourceBarrier(barriers []driver.Barrier) {
	bs := append([]driver.Barrier(nil), barriers...)
	l.barriers += len(bs)
	l.record(func(e *executor) {
		for _, b := range bs {
			if b.Type != driver.BarrierTransition {
				continue
			}
			b.Resource.(*Allocation).transition(b.Before, b.After)
		}
	})
}

func (l *CommandList) CopyBufferRegion(dst driver.Allocation, dstOffset uint64, src driver.Allocation, srcOffset, size uint64) {
	d, s := dst.(*Allocation), src.(*Allocation)
	if dstOffset+size > d.Size() || srcOffset+size > s.Size() {
		l.fail(fmt.Errorf("software: buffer copy of %d bytes out of range: %w", size, core.ErrContractViolation))
		return
	}
	l.record(func(e *executor) {
		d.expect(driver.StateCopyDest, "CopyBufferRegion")
		s.expect(driver.StateCopySource, "CopyBufferRegion")
		copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
	})
}

func (l *CommandList) CopyTextureFromBuffer(dst driver.Allocation, src driver.Allocation, layout driver.CopyableLayout) {
	d, s := dst.(*Allocation), src.(*Allocation)
	fp := layout.Footprint
	if d.desc.IsBuffer() || uint64(fp.Width) != d.desc.Width || fp.Height != d.desc.Height {
		l.fail(fmt.Errorf("software: texture copy footprint does not match %q: %w", d.Label(), core.ErrContractViolation))
		return
	}
	if layout.Footprint.Offset+layout.TotalBytes > s.Size() {
		l.fail(fmt.Errorf("software: texture copy reads past the staging buffer: %w", core.ErrContractViolation))
		return
	}
	rowSize := layout.RowSizeInBytes
	l.record(func(e *executor) {
		d.expect(driver.StateCopyDest, "CopyTextureFromBuffer")
		for r := uint64(0); r < uint64(layout.NumRows); r++ {
			from := fp.Offset + r*uint64(fp.RowPitch)
			copy(d.data[r*rowSize:(r+1)*rowSize], s.data[from:from+rowSize])
		}
	})
}

func (l *CommandList) SetPipelineState(pso driver.PipelineState) {
	p, ok := pso.(*Pipeline)
	if !ok {
		l.fail(fmt.Errorf("software: foreign pipeline state %T: %w", pso, core.ErrContractViolation))
		return
	}
	l.record(func(e *executor) { e.pso = p })
}

func (l *CommandList) SetDescriptorHeap(heap driver.DescriptorHeap) {
	h := heap.(*DescriptorHeap)
	if !h.shaderVisible {
		l.fail(fmt.Errorf("software: binding a CPU-only descriptor heap: %w", core.ErrContractViolation))
		return
	}
	l.record(func(e *executor) { e.heap = h })
}

func (l *CommandList) SetComputeRootDescriptorTable(param uint32, baseSlot uint32) {
	l.record(func(e *executor) { e.compute.tables[param] = baseSlot })
}

func (l *CommandList) SetComputeRootConstants(param uint32, values []uint32) {
	vs := append([]uint32(nil), values...)
	l.record(func(e *executor) { e.compute.constants[param] = vs })
}

func (l *CommandList) SetGraphicsRootDescriptorTable(param uint32, baseSlot uint32) {
	if !l.kind.SupportsGraphics() {
		l.fail(fmt.Errorf("software: graphics binding on a %s list: %w", l.kind, core.ErrUnsupported))
		return
	}
	l.record(func(e *executor) { e.graphics.tables[param] = baseSlot })
}

func (l *CommandList) SetGraphicsRootConstants(param uint32, values []uint32) {
	if !l.kind.SupportsGraphics() {
		l.fail(fmt.Errorf("software: graphics binding on a %s list: %w", l.kind, core.ErrUnsupported))
		return
	}
	vs := append([]uint32(nil), values...)
	l.record(func(e *executor) { e.graphics.constants[param] = vs })
}

func (l *CommandList) Dispatch(x, y, z uint32) {
	if !l.kind.SupportsCompute() {
		l.fail(fmt.Errorf("software: dispatch on a %s list: %w", l.kind, core.ErrUnsupported))
		return
	}
	l.record(func(e *executor) {
		e.run(false, &KernelContext{Groups: [3]uint32{x, y, z}})
	})
}

func (l *CommandList) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) {
	if !l.kind.SupportsGraphics() {
		l.fail(fmt.Errorf("software: draw on a %s list: %w", l.kind, core.ErrUnsupported))
		return
	}
	l.record(func(e *executor) {
		e.run(true, &KernelContext{Draw: DrawArgs{
			VertexCount:   vertexCount,
			InstanceCount: instanceCount,
			StartVertex:   startVertex,
			StartInstance: startInstance,
		}})
	})
}

type bindings struct {
	tables    map[uint32]uint32
	constants map[uint32][]uint32
}

func newBindings() bindings {
	return bindings{tables: map[uint32]uint32{}, constants: map[uint32][]uint32{}}
}

// executor is the state of one command list while a queue executes it. Bindings do not
// carry over between lists.
type executor struct {
	dev      *Device
	pso      *Pipeline
	heap     *DescriptorHeap
	compute  bindings
	graphics bindings
}

func newExecutor(dev *Device) *executor {
	return &executor{dev: dev, compute: newBindings(), graphics: newBindings()}
}

func (e *executor) run(graphics bool, k *KernelContext) {
	switch {
	case e.pso == nil:
		e.dev.report("draw or dispatch without a pipeline state")
		return
	case e.pso.graphics != graphics:
		e.dev.report("pipeline %q bound for the wrong kind of work", e.pso.label)
		return
	}
	b := e.compute
	if graphics {
		b = e.graphics
	}
	k.dev = e.dev
	k.heap = e.heap
	k.bindings = b
	e.pso.fn(k)
}
