package software

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	core.SetFatalHandler(core.PanicOnFatal)
	os.Exit(m.Run())
}

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d := New(Options{Name: t.Name(), Validation: true})
	t.Cleanup(d.Release)
	return d
}

func mustBuffer(t *testing.T, d *Device, heap driver.HeapType, size uint64, state driver.ResourceState) *Allocation {
	t.Helper()
	a, err := d.CreateCommittedResource(heap, driver.BufferDesc(size, driver.ResourceFlagNone), state)
	require.NoError(t, err)
	return a.(*Allocation)
}

func record(t *testing.T, d *Device, kind driver.QueueKind, fn func(l driver.CommandList)) (driver.CommandList, *CommandAllocator) {
	t.Helper()
	alloc, err := d.CreateCommandAllocator(kind)
	require.NoError(t, err)
	l, err := d.CreateCommandList(kind, alloc, nil)
	require.NoError(t, err)
	fn(l)
	require.NoError(t, l.Close())
	return l, alloc.(*CommandAllocator)
}

func submitAndWait(t *testing.T, d *Device, q driver.Queue, lists ...driver.CommandList) {
	t.Helper()
	f, err := d.CreateFence(0)
	require.NoError(t, err)
	require.NoError(t, q.Submit(lists...))
	require.NoError(t, q.Signal(f, 1))
	require.NoError(t, f.Wait(context.Background(), 1))
}

func TestFenceWaitAndSignal(t *testing.T) {
	d := newTestDevice(t)
	f, err := d.CreateFence(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.CompletedValue())
	require.NoError(t, f.Wait(context.Background(), 1))

	done := make(chan error, 1)
	go func() { done <- f.Wait(context.Background(), 5) }()
	f.(*Fence).Signal(4)
	select {
	case <-done:
		t.Fatal("wait returned before the fence reached its value")
	case <-time.After(10 * time.Millisecond):
	}
	f.(*Fence).Signal(5)
	require.NoError(t, <-done)

	f.(*Fence).Signal(3)
	assert.Equal(t, uint64(5), f.CompletedValue(), "fences never go backwards")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx, 10), context.DeadlineExceeded)
}

func TestQueueExecutesInOrder(t *testing.T) {
	d := newTestDevice(t)
	q, err := d.CreateQueue(driver.QueueCopy)
	require.NoError(t, err)

	src := mustBuffer(t, d, driver.HeapUpload, 4, driver.StateGenericRead)
	dst := mustBuffer(t, d, driver.HeapDefault, 4, driver.StateCopyDest)
	mem, err := src.Map()
	require.NoError(t, err)
	copy(mem, []byte{1, 2, 3, 4})
	src.Unmap()

	first, _ := record(t, d, driver.QueueCopy, func(l driver.CommandList) {
		l.CopyBufferRegion(dst, 0, src, 0, 4)
	})
	second, _ := record(t, d, driver.QueueCopy, func(l driver.CommandList) {
		l.CopyBufferRegion(dst, 0, src, 2, 2)
	})
	submitAndWait(t, d, q, first, second)
	assert.Equal(t, []byte{3, 4, 3, 4}, d.Contents(dst))
	assert.Empty(t, d.ValidationErrors())
}

func TestSuspendHoldsBackWork(t *testing.T) {
	d := newTestDevice(t)
	q, err := d.CreateQueue(driver.QueueCompute)
	require.NoError(t, err)
	f, err := d.CreateFence(0)
	require.NoError(t, err)

	l, alloc := record(t, d, driver.QueueCompute, func(l driver.CommandList) {})
	d.Suspend()
	require.NoError(t, q.Submit(l))
	require.NoError(t, q.Signal(f, 1))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, uint64(0), f.CompletedValue())
	assert.Equal(t, 1, alloc.InFlight())
	assert.Error(t, alloc.Reset(), "an allocator cannot be reset while its work is pending")

	d.Resume()
	require.NoError(t, f.Wait(context.Background(), 1))
	assert.Equal(t, 0, alloc.InFlight())
	require.NoError(t, alloc.Reset())
	assert.Len(t, d.ValidationErrors(), 1)
}

func TestInjectFault(t *testing.T) {
	d := newTestDevice(t)
	q, err := d.CreateQueue(driver.QueueGraphics)
	require.NoError(t, err)
	l, _ := record(t, d, driver.QueueGraphics, func(l driver.CommandList) {})

	d.InjectFault(core.ErrDeviceLost)
	err = q.Submit(l)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.True(t, errors.Is(q.Submit(l), core.ErrDeviceLost), "device loss is permanent")
}

func TestQueueWaitOrdersAcrossQueues(t *testing.T) {
	d := newTestDevice(t)
	producer, err := d.CreateQueue(driver.QueueCopy)
	require.NoError(t, err)
	consumer, err := d.CreateQueue(driver.QueueGraphics)
	require.NoError(t, err)
	gate, err := d.CreateFence(0)
	require.NoError(t, err)
	done, err := d.CreateFence(0)
	require.NoError(t, err)

	require.NoError(t, consumer.Wait(gate, 1))
	require.NoError(t, consumer.Signal(done, 1))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, uint64(0), done.CompletedValue())

	require.NoError(t, producer.Signal(gate, 1))
	require.NoError(t, done.Wait(context.Background(), 1))
}

func TestTextureCopyHonoursRowPitch(t *testing.T) {
	d := newTestDevice(t)
	q, err := d.CreateQueue(driver.QueueCopy)
	require.NoError(t, err)

	desc := driver.Texture2DDesc(3, 2, driver.FormatRGBA8Unorm, driver.ResourceFlagNone)
	tex, err := d.CreateCommittedResource(driver.HeapDefault, desc, driver.StateCommon)
	require.NoError(t, err)
	layout := d.CopyableLayout(desc)
	staging := mustBuffer(t, d, driver.HeapUpload, layout.TotalBytes, driver.StateGenericRead)

	mem, err := staging.Map()
	require.NoError(t, err)
	for i := range mem {
		mem[i] = 0xEE
	}
	for r := uint32(0); r < layout.NumRows; r++ {
		row := mem[uint64(r)*uint64(layout.Footprint.RowPitch):]
		for i := uint64(0); i < layout.RowSizeInBytes; i++ {
			row[i] = byte(r*100) + byte(i)
		}
	}
	staging.Unmap()

	l, _ := record(t, d, driver.QueueCopy, func(l driver.CommandList) {
		l.CopyTextureFromBuffer(tex, staging, layout)
	})
	submitAndWait(t, d, q, l)

	got := d.Contents(tex)
	require.Len(t, got, 24)
	for i := 0; i < 12; i++ {
		assert.Equal(t, byte(i), got[i])
		assert.Equal(t, byte(100+i), got[12+i])
	}
	assert.Empty(t, d.ValidationErrors())
}

func TestValidationCatchesStateMismatch(t *testing.T) {
	d := newTestDevice(t)
	q, err := d.CreateQueue(driver.QueueGraphics)
	require.NoError(t, err)
	buf := mustBuffer(t, d, driver.HeapDefault, 16, driver.StateCopyDest)

	l, _ := record(t, d, driver.QueueGraphics, func(l driver.CommandList) {
		l.ResourceBarrier([]driver.Barrier{
			driver.TransitionBarrier(buf, driver.StateUnorderedAccess, driver.StateShaderResource),
		})
	})
	submitAndWait(t, d, q, l)
	errs := d.ValidationErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "UnorderedAccess")
}

func TestDispatchReadsThroughDescriptorHeap(t *testing.T) {
	d := newTestDevice(t)
	q, err := d.CreateQueue(driver.QueueCompute)
	require.NoError(t, err)

	cpu, err := d.CreateDescriptorHeap(8, false)
	require.NoError(t, err)
	gpu, err := d.CreateDescriptorHeap(8, true)
	require.NoError(t, err)

	in := mustBuffer(t, d, driver.HeapDefault, 16, driver.StateCommon)
	out := mustBuffer(t, d, driver.HeapDefault, 16, driver.StateUnorderedAccess)
	copy(in.data, []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 4, 0, 0, 0})

	d.CreateView(cpu, 2, in, driver.BufferView(driver.ViewShaderResource, 0, 4, 4))
	d.CreateView(cpu, 3, out, driver.BufferView(driver.ViewUnorderedAccess, 0, 4, 4))
	d.CopyDescriptors(gpu, 4, cpu, 2, 2)

	double := d.CreateComputePipeline("double", func(k *KernelContext) {
		src, err := k.Descriptor(0, 0)
		if err != nil {
			t.Error(err)
			return
		}
		dst, err := k.Descriptor(0, 1)
		if err != nil {
			t.Error(err)
			return
		}
		scale := k.Constants(1)[0]
		for i := 0; i < src.Len32(); i++ {
			dst.SetUint32(i, src.Uint32(i)*scale)
		}
	})

	l, _ := record(t, d, driver.QueueCompute, func(l driver.CommandList) {
		l.SetPipelineState(double)
		l.SetDescriptorHeap(gpu)
		l.SetComputeRootDescriptorTable(0, 4)
		l.SetComputeRootConstants(1, []uint32{3})
		l.Dispatch(1, 1, 1)
	})
	submitAndWait(t, d, q, l)

	got := d.Contents(out)
	assert.Equal(t, []byte{3, 0, 0, 0, 6, 0, 0, 0, 9, 0, 0, 0, 12, 0, 0, 0}, got)
	assert.Empty(t, d.ValidationErrors())
}

func TestRecordingMisuse(t *testing.T) {
	d := newTestDevice(t)
	alloc, err := d.CreateCommandAllocator(driver.QueueCopy)
	require.NoError(t, err)
	l, err := d.CreateCommandList(driver.QueueCopy, alloc, nil)
	require.NoError(t, err)

	l.Dispatch(1, 1, 1)
	assert.ErrorIs(t, l.Close(), core.ErrUnsupported)
	assert.ErrorIs(t, l.Close(), core.ErrContractViolation, "closing twice")
	require.NoError(t, l.Reset(alloc, nil))
	assert.ErrorIs(t, l.Reset(alloc, nil), core.ErrContractViolation, "reset of an open list")

	q, err := d.CreateQueue(driver.QueueCopy)
	require.NoError(t, err)
	assert.ErrorIs(t, q.Submit(l), core.ErrContractViolation, "submit of an open list")
}

func TestMapRules(t *testing.T) {
	d := newTestDevice(t)
	def := mustBuffer(t, d, driver.HeapDefault, 8, driver.StateCommon)
	_, err := def.Map()
	assert.ErrorIs(t, err, core.ErrNotMappable)

	up := mustBuffer(t, d, driver.HeapUpload, 8, driver.StateGenericRead)
	mem, err := up.Map()
	require.NoError(t, err)
	assert.Len(t, mem, 8)
	assert.True(t, up.Mapped())
	up.Unmap()
	assert.False(t, up.Mapped())
}

func TestLiveObjectsAndRelease(t *testing.T) {
	d := New(Options{})
	buf := mustBuffer(t, d, driver.HeapUpload, 8, driver.StateGenericRead)
	f, err := d.CreateFence(0)
	require.NoError(t, err)
	q, err := d.CreateQueue(driver.QueueCopy)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.LiveObjects())

	buf.Release()
	buf.Release()
	f.Release()
	q.Release()
	assert.Equal(t, int64(0), d.LiveObjects())
	assert.ErrorIs(t, q.Signal(f, 1), core.ErrQueueClosed)
	require.NoError(t, d.WaitIdle())
	d.Release()
}
