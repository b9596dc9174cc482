package software

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// Kernel is the body of a pipeline. Compute kernels run once per Dispatch, graphics
// kernels once per DrawInstanced.
type Kernel func(k *KernelContext)

// Pipeline is the software PipelineState.
type Pipeline struct {
	label    string
	graphics bool
	fn       Kernel
}

func (p *Pipeline) Label() string { return p.label }

func (d *Device) CreateComputePipeline(label string, fn Kernel) *Pipeline {
	return &Pipeline{label: label, fn: fn}
}

func (d *Device) CreateGraphicsPipeline(label string, fn Kernel) *Pipeline {
	return &Pipeline{label: label, graphics: true, fn: fn}
}

type DrawArgs struct {
	VertexCount   uint32
	InstanceCount uint32
	StartVertex   uint32
	StartInstance uint32
}

// KernelContext is what a kernel sees: launch size and its root bindings.
type KernelContext struct {
	Groups [3]uint32
	Draw   DrawArgs

	dev      *Device
	heap     *DescriptorHeap
	bindings bindings
}

func (k *KernelContext) Constants(param uint32) []uint32 {
	return k.bindings.constants[param]
}

// TableBase is the heap slot bound to a root descriptor table parameter.
func (k *KernelContext) TableBase(param uint32) (uint32, bool) {
	base, ok := k.bindings.tables[param]
	return base, ok
}

// Descriptor resolves entry index of the table bound at param.
func (k *KernelContext) Descriptor(param, index uint32) (View, error) {
	if k.heap == nil {
		return View{}, fmt.Errorf("software: no descriptor heap bound: %w", core.ErrContractViolation)
	}
	base, ok := k.bindings.tables[param]
	if !ok {
		return View{}, fmt.Errorf("software: root parameter %d has no table: %w", param, core.ErrContractViolation)
	}
	return k.Slot(base + index)
}

// Slot resolves a heap slot directly, the way bindless shaders index the heap.
func (k *KernelContext) Slot(slot uint32) (View, error) {
	if k.heap == nil {
		return View{}, fmt.Errorf("software: no descriptor heap bound: %w", core.ErrContractViolation)
	}
	d, ok := k.heap.read(slot)
	if !ok {
		k.dev.report("read through empty descriptor slot %d", slot)
		return View{}, fmt.Errorf("software: descriptor slot %d is empty: %w", slot, core.ErrContractViolation)
	}
	return newView(d), nil
}

// View is a resolved descriptor. Bytes covers only the viewed element range.
type View struct {
	Desc     driver.ViewDesc
	Resource *Allocation
	Bytes    []byte
}

func newView(d descriptor) View {
	data := d.res.data
	if d.res.desc.IsBuffer() && d.view.NumElements > 0 {
		size := d.view.ElementSize()
		start := d.view.FirstElement * size
		end := start + uint64(d.view.NumElements)*size
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		if start > end {
			start = end
		}
		data = data[start:end]
	}
	return View{Desc: d.view, Resource: d.res, Bytes: data}
}

func (v View) Len32() int {
	return len(v.Bytes) / 4
}

func (v View) Uint32(i int) uint32 {
	return binary.LittleEndian.Uint32(v.Bytes[i*4:])
}

func (v View) SetUint32(i int, x uint32) {
	binary.LittleEndian.PutUint32(v.Bytes[i*4:], x)
}

func (v View) Float32(i int) float32 {
	return math.Float32frombits(v.Uint32(i))
}

func (v View) SetFloat32(i int, x float32) {
	v.SetUint32(i, math.Float32bits(x))
}
