package gfx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/software"
)

func newTestManager(t *testing.T, resident, dynamic uint32) (*software.Device, *DescriptorManager) {
	t.Helper()
	hw := software.New(software.Options{Name: t.Name(), Validation: true})
	m := newDescriptorManager(hw, resident, dynamic)
	t.Cleanup(func() {
		m.Release()
		hw.Release()
	})
	return hw, m
}

func TestResidentSlotsExhaust(t *testing.T) {
	_, m := newTestManager(t, 4096, 16)
	for i := uint32(0); i < 4096; i++ {
		require.Equal(t, i, m.AllocateResidentSlot())
	}
	assert.Equal(t, uint32(4096), m.ResidentInUse())
	assertFatal(t, core.ErrResidentDescriptorsExhausted, func() { m.AllocateResidentSlot() })
}

func TestDefaultResidentCapacity(t *testing.T) {
	hw := software.New(software.Options{})
	defer hw.Release()
	m := NewDescriptorManager(hw)
	defer m.Release()
	assert.Equal(t, uint32(ResidentDescriptorCount), m.ResidentCapacity())
	assert.Equal(t, uint32(ResidentDescriptorCount+DynamicDescriptorCount), m.Heap().Capacity())
	assert.True(t, m.Heap().ShaderVisible())
}

func TestDynamicTablesAreDisjoint(t *testing.T) {
	_, m := newTestManager(t, 8, 64)
	a := m.AllocateDynamicTable(4)
	b := m.AllocateDynamicTable(4)
	assert.Equal(t, uint32(8), a.base)
	assert.Equal(t, uint32(12), b.base)
	assert.Equal(t, uint32(4), a.Cap())
	assert.Zero(t, a.Len())
}

func TestDynamicRingSkipsStraddlingClaims(t *testing.T) {
	_, m := newTestManager(t, 16, 10)
	assert.Equal(t, uint32(16), m.AllocateDynamicTable(4).base)
	assert.Equal(t, uint32(20), m.AllocateDynamicTable(4).base)
	// 8..12 would cross the end of the ring, so the claim moves to 12..16, offset 2
	assert.Equal(t, uint32(18), m.AllocateDynamicTable(4).base)
}

func TestConcurrentDynamicTablesNeverOverlap(t *testing.T) {
	const (
		workers = 8
		tables  = 200
		length  = 7
	)
	_, m := newTestManager(t, 4, workers*tables*length)

	var (
		mu    sync.Mutex
		owner = map[uint32]int{}
		wg    sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < tables; i++ {
				b := m.AllocateDynamicTable(length)
				mu.Lock()
				for s := b.base; s < b.base+length; s++ {
					if prev, taken := owner[s]; taken {
						t.Errorf("slot %d claimed by worker %d and %d", s, prev, w)
					}
					owner[s] = w
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	assert.Len(t, owner, workers*tables*length)
}

func TestDynamicTableMisuseIsFatal(t *testing.T) {
	hw, m := newTestManager(t, 4, 32)
	buf, err := hw.CreateCommittedResource(driver.HeapDefault, driver.BufferDesc(16, driver.ResourceFlagNone), driver.StateCommon)
	require.NoError(t, err)
	defer buf.Release()
	res := NewResource(buf, driver.StateCommon, "buf")
	view := driver.BufferView(driver.ViewShaderResource, 0, 4, 4)

	assertFatal(t, core.ErrDynamicTableMisuse, func() { m.AllocateDynamicTable(1) })
	assertFatal(t, core.ErrDynamicTableMisuse, func() { m.AllocateDynamicTable(33) })

	early := m.AllocateDynamicTable(2).Append(res, view)
	assertFatal(t, core.ErrDynamicTableMisuse, func() { early.Finalize() })

	full := m.AllocateDynamicTable(2).Append(res, view).Append(res, view)
	assertFatal(t, core.ErrDynamicTableMisuse, func() { full.Append(res, view) })

	table := full.Finalize()
	assert.Equal(t, uint32(2), table.Len())
	assertFatal(t, core.ErrDynamicTableMisuse, func() { full.Finalize() })
}

func TestResidentViewsReachTheVisibleHeap(t *testing.T) {
	hw, m := newTestManager(t, 8, 8)
	q, err := hw.CreateQueue(driver.QueueCompute)
	require.NoError(t, err)
	defer q.Release()

	buf, err := hw.CreateCommittedResource(driver.HeapDefault, driver.BufferDesc(16, driver.ResourceFlagAllowUnorderedAccess), driver.StateUnorderedAccess)
	require.NoError(t, err)
	defer buf.Release()
	res := NewResource(buf, driver.StateUnorderedAccess, "counter")

	m.AllocateResidentSlot()
	d := m.CreateView(res, driver.BufferView(driver.ViewUnorderedAccess, 0, 4, 4))
	assert.True(t, d.IsValid())
	assert.Equal(t, uint32(1), d.Index())
	assert.False(t, ResidentDescriptor{}.IsValid())

	table := m.AllocateDynamicTable(2).AppendResident(d).AppendResident(d).Finalize()
	assert.Equal(t, uint32(8), table.Base())

	var seen []uint32
	pso := hw.CreateComputePipeline("probe", func(k *software.KernelContext) {
		for _, slot := range []uint32{d.Index(), table.Base(), table.Base() + 1} {
			v, err := k.Slot(slot)
			if err == nil && v.Resource == buf {
				seen = append(seen, slot)
			}
		}
	})
	runKernel(t, hw, q, m, pso, func(l driver.CommandList) {})
	assert.Equal(t, []uint32{1, 8, 9}, seen)
	assert.Empty(t, hw.ValidationErrors())
}

// runKernel records one dispatch of pso on a raw driver queue and waits for it.
func runKernel(t *testing.T, hw *software.Device, q driver.Queue, m *DescriptorManager, pso driver.PipelineState, bind func(l driver.CommandList)) {
	t.Helper()
	alloc, err := hw.CreateCommandAllocator(driver.QueueCompute)
	require.NoError(t, err)
	defer alloc.Release()
	l, err := hw.CreateCommandList(driver.QueueCompute, alloc, pso)
	require.NoError(t, err)
	defer l.Release()
	l.SetDescriptorHeap(m.Heap())
	bind(l)
	l.Dispatch(1, 1, 1)
	require.NoError(t, l.Close())

	fence, err := hw.CreateFence(0)
	require.NoError(t, err)
	defer fence.Release()
	require.NoError(t, q.Submit(l))
	require.NoError(t, q.Signal(fence, 1))
	s := SyncPoint{timeline: newTimeline("probe", fence), value: 1}
	s.Wait()
}
