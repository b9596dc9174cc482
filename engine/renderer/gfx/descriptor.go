package gfx

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// DynamicDescriptorCount is the size of the ring transient tables are carved from.
const DynamicDescriptorCount = 65536

// DescriptorManager owns the single shader-visible heap bound for the lifetime of the
// process. Slots [0, resident) are handed out once and never reclaimed; the rest is a
// ring for per-draw tables.
//
// Views are written into a CPU-only staging heap first and then copied to the same slot
// of the shader-visible heap.
type DescriptorManager struct {
	device  driver.Device
	staging driver.DescriptorHeap
	visible driver.DescriptorHeap

	residentCap uint32
	dynamicCap  uint32

	residentNext atomic.Uint32
	// monotonically increasing; wraps only after 2^64 claimed slots
	dynamicNext atomic.Uint64
}

func NewDescriptorManager(device driver.Device) *DescriptorManager {
	return newDescriptorManager(device, ResidentDescriptorCount, DynamicDescriptorCount)
}

func newDescriptorManager(device driver.Device, resident, dynamic uint32) *DescriptorManager {
	total := resident + dynamic
	staging, err := device.CreateDescriptorHeap(total, false)
	core.Check(err, "create staging descriptor heap of %d slots", total)
	visible, err := device.CreateDescriptorHeap(total, true)
	core.Check(err, "create shader-visible descriptor heap of %d slots", total)

	core.LogInfo("descriptor heap created: %d resident + %d dynamic slots", resident, dynamic)
	return &DescriptorManager{
		device:      device,
		staging:     staging,
		visible:     visible,
		residentCap: resident,
		dynamicCap:  dynamic,
	}
}

// Heap is the shader-visible heap every compute and graphics context binds.
func (m *DescriptorManager) Heap() driver.DescriptorHeap {
	return m.visible
}

func (m *DescriptorManager) ResidentInUse() uint32 {
	return m.residentNext.Load()
}

func (m *DescriptorManager) ResidentCapacity() uint32 {
	return m.residentCap
}

// AllocateResidentSlot claims a slot for the rest of the process. Running out is fatal.
func (m *DescriptorManager) AllocateResidentSlot() uint32 {
	for {
		n := m.residentNext.Load()
		if n >= m.residentCap {
			core.Check(fmt.Errorf("all %d slots in use: %w", m.residentCap, core.ErrResidentDescriptorsExhausted),
				"allocate resident descriptor")
			return 0
		}
		if m.residentNext.CompareAndSwap(n, n+1) {
			return n
		}
	}
}

// claimDynamic returns the heap slot of n contiguous ring entries. A claim that would
// straddle the end of the ring is dropped and claimed again from the start.
func (m *DescriptorManager) claimDynamic(n uint32) uint32 {
	size := uint64(m.dynamicCap)
	for {
		end := m.dynamicNext.Add(uint64(n))
		offset := (end - uint64(n)) % size
		if offset+uint64(n) <= size {
			return m.residentCap + uint32(offset)
		}
	}
}

func (m *DescriptorManager) write(slot uint32, res *Resource, view driver.ViewDesc) {
	m.device.CreateView(m.staging, slot, res.alloc, view)
	m.device.CopyDescriptors(m.visible, slot, m.staging, slot, 1)
}

// CreateView allocates a resident slot and writes an immutable view into it.
func (m *DescriptorManager) CreateView(res *Resource, view driver.ViewDesc) ResidentDescriptor {
	slot := m.AllocateResidentSlot()
	m.write(slot, res, view)
	return ResidentDescriptor{slot: slot, valid: true}
}

// CreateDynamicDescriptor allocates a resident slot whose view can later be repointed.
func (m *DescriptorManager) CreateDynamicDescriptor(res *Resource, view driver.ViewDesc) *DynamicDescriptor {
	d := &DynamicDescriptor{manager: m, slot: m.AllocateResidentSlot()}
	m.write(d.slot, res, view)
	return d
}

// AllocateDynamicTable claims length contiguous slots from the ring. length must be
// greater than one; single views belong in resident or dynamic descriptors.
func (m *DescriptorManager) AllocateDynamicTable(length uint32) *DynamicTableBuilder {
	if length <= 1 || length > m.dynamicCap {
		core.Check(fmt.Errorf("table of %d entries in a ring of %d: %w", length, m.dynamicCap, core.ErrDynamicTableMisuse),
			"allocate dynamic descriptor table")
		return nil
	}
	return &DynamicTableBuilder{manager: m, base: m.claimDynamic(length), length: length}
}

func (m *DescriptorManager) Release() {
	m.staging.Release()
	m.visible.Release()
}

// ResidentDescriptor is an immutable view. Index is what shaders use to reach it in
// the bound heap.
type ResidentDescriptor struct {
	slot  uint32
	valid bool
}

func (d ResidentDescriptor) Index() uint32 { return d.slot }
func (d ResidentDescriptor) IsValid() bool { return d.valid }

// DynamicDescriptor is a resident slot whose view can be replaced. Replacing it while
// the GPU still reads the old view is a data race; Retire lets debug builds catch it.
type DynamicDescriptor struct {
	manager *DescriptorManager
	slot    uint32

	mu      sync.Mutex
	retired SyncPoint
}

func (d *DynamicDescriptor) Index() uint32 { return d.slot }

// Retire records the last work that reads through the current view.
func (d *DynamicDescriptor) Retire(sp SyncPoint) {
	d.mu.Lock()
	d.retired = sp
	d.mu.Unlock()
}

func (d *DynamicDescriptor) UpdateView(res *Resource, view driver.ViewDesc) {
	d.mu.Lock()
	retired := d.retired
	d.retired = SyncPoint{}
	d.mu.Unlock()
	if core.DebugChecks {
		core.Assert(retired.Poll(), "dynamic descriptor %d updated while %s still reads it", d.slot, retired)
	}
	d.manager.write(d.slot, res, view)
}

// UpdateBufferView points the slot at a structured buffer range.
func (d *DynamicDescriptor) UpdateBufferView(res *Resource, first uint64, count, stride uint32) {
	d.UpdateView(res, driver.BufferView(driver.ViewShaderResource, first, count, stride))
}

// UpdateTextureView points the slot at a whole texture.
func (d *DynamicDescriptor) UpdateTextureView(res *Resource) {
	d.UpdateView(res, driver.TextureView(driver.ViewShaderResource, res.Desc().Format))
}

// DescriptorTable is a finalized, GPU-visible run of descriptors.
type DescriptorTable struct {
	base   uint32
	length uint32
}

func (t DescriptorTable) Base() uint32 { return t.base }
func (t DescriptorTable) Len() uint32  { return t.length }

// DynamicTableBuilder fills a claimed ring range. Every entry must be written before
// Finalize, and nothing after.
type DynamicTableBuilder struct {
	manager   *DescriptorManager
	base      uint32
	length    uint32
	count     uint32
	finalized bool
}

func (b *DynamicTableBuilder) Len() uint32 { return b.count }
func (b *DynamicTableBuilder) Cap() uint32 { return b.length }

func (b *DynamicTableBuilder) checkWritable() bool {
	if b.finalized {
		core.Check(fmt.Errorf("table at %d already finalized: %w", b.base, core.ErrDynamicTableMisuse), "append to dynamic table")
		return false
	}
	if b.count >= b.length {
		core.Check(fmt.Errorf("table at %d holds %d entries: %w", b.base, b.length, core.ErrDynamicTableMisuse), "append to dynamic table")
		return false
	}
	return true
}

// Append writes a new view as the next entry.
func (b *DynamicTableBuilder) Append(res *Resource, view driver.ViewDesc) *DynamicTableBuilder {
	if !b.checkWritable() {
		return b
	}
	b.manager.device.CreateView(b.manager.staging, b.base+b.count, res.alloc, view)
	b.count++
	return b
}

// AppendResident copies an existing resident view as the next entry.
func (b *DynamicTableBuilder) AppendResident(d ResidentDescriptor) *DynamicTableBuilder {
	if !b.checkWritable() {
		return b
	}
	m := b.manager
	m.device.CopyDescriptors(m.staging, b.base+b.count, m.staging, d.slot, 1)
	b.count++
	return b
}

// Finalize publishes the entries to the shader-visible heap.
func (b *DynamicTableBuilder) Finalize() DescriptorTable {
	if b.finalized || b.count != b.length {
		core.Check(fmt.Errorf("finalize with %d of %d entries (finalized: %v): %w", b.count, b.length, b.finalized, core.ErrDynamicTableMisuse),
			"finalize dynamic table")
		return DescriptorTable{}
	}
	b.finalized = true
	m := b.manager
	m.device.CopyDescriptors(m.visible, b.base, m.staging, b.base, b.length)
	return DescriptorTable{base: b.base, length: b.length}
}
