package gfx

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/software"
)

func TestTransitionToCurrentStateIsNoop(t *testing.T) {
	f := newFixture(t)
	res := f.dev.CreateBuffer(16, driver.ResourceFlagNone, driver.StateCopyDest, "idle")
	defer res.Release()

	ctx := f.dev.Graphics().BeginGraphics(nil)
	before := f.list(ctx.CommandContext).Commands()
	ctx.RecordTransition(res, driver.StateCopyDest, true)
	assert.Zero(t, ctx.PendingBarriers())
	assert.Equal(t, before, f.list(ctx.CommandContext).Commands())

	ctx.RecordTransition(res, driver.StateShaderResource, false)
	require.Equal(t, 1, ctx.PendingBarriers())
	b := ctx.barriers[0]
	assert.Equal(t, driver.BarrierTransition, b.Type)
	assert.Equal(t, driver.StateCopyDest, b.Before)
	assert.Equal(t, driver.StateShaderResource, b.After)
	assert.Equal(t, driver.StateShaderResource, res.State())

	ctx.Finish().Wait()
	assert.Empty(t, f.hw.ValidationErrors())
}

func TestFlushBarriersWithoutPendingRecordsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := f.dev.Graphics().BeginCompute(nil)
	list := f.list(ctx.CommandContext)
	before := list.Commands()
	ctx.FlushBarriers()
	ctx.FlushBarriers()
	assert.Equal(t, before, list.Commands())
	assert.Zero(t, list.Barriers())
	ctx.Finish()
}

func TestBarrierBatchAutoFlushes(t *testing.T) {
	f := newFixture(t)
	resources := make([]*Resource, BarrierBatchSize+1)
	for i := range resources {
		resources[i] = f.dev.CreateBuffer(4, driver.ResourceFlagNone, driver.StateCommon, fmt.Sprintf("r%d", i))
		defer resources[i].Release()
	}

	ctx := f.dev.Graphics().BeginCompute(nil)
	list := f.list(ctx.CommandContext)
	for _, r := range resources[:BarrierBatchSize] {
		ctx.RecordTransition(r, driver.StateShaderResource, false)
	}
	assert.Equal(t, BarrierBatchSize, ctx.PendingBarriers())
	assert.Zero(t, list.Barriers())

	ctx.RecordTransition(resources[BarrierBatchSize], driver.StateShaderResource, false)
	assert.Equal(t, 1, ctx.PendingBarriers())
	assert.Equal(t, BarrierBatchSize, list.Barriers())

	ctx.Finish().Wait()
	assert.Equal(t, BarrierBatchSize+1, list.Barriers())
	assert.Empty(t, f.hw.ValidationErrors())
}

func TestUAVBarrierKeepsState(t *testing.T) {
	f := newFixture(t)
	res := f.dev.CreateBuffer(4, driver.ResourceFlagAllowUnorderedAccess, driver.StateUnorderedAccess, "uav")
	defer res.Release()

	ctx := f.dev.Graphics().BeginCompute(nil)
	ctx.RecordUAVBarrier(res, false)
	require.Equal(t, 1, ctx.PendingBarriers())
	assert.Equal(t, driver.BarrierUAV, ctx.barriers[0].Type)
	assert.Equal(t, driver.StateUnorderedAccess, res.State())
	ctx.Finish()
}

func TestBeginFinishReturnsContextAndAllocator(t *testing.T) {
	f := newFixture(t)
	q := f.dev.Graphics()

	ctx := q.BeginCopy()
	assert.True(t, ctx.IsActive())
	sp := ctx.Finish()
	assert.False(t, ctx.IsActive())
	assert.Nil(t, ctx.alloc)

	stats := q.Stats()
	assert.Equal(t, 1, stats.ContextsCreated)
	assert.Equal(t, 1, stats.ContextsPooled)
	assert.Equal(t, 1, stats.AllocatorsCreated)
	assert.Equal(t, 1, stats.AllocatorsPooled)
	assert.Equal(t, uint64(1), stats.Submissions)
	assert.Equal(t, sp.Value(), stats.LastSubmitted)
}

func TestFlushKeepsRecording(t *testing.T) {
	f := newFixture(t)
	q := f.dev.Graphics()
	res := f.dev.CreateBuffer(4, driver.ResourceFlagNone, driver.StateCommon, "staged")
	defer res.Release()

	ctx := q.BeginGraphics(nil)
	alloc := ctx.alloc
	ctx.RecordTransition(res, driver.StateCopyDest, false)
	first := ctx.Flush(nil)
	assert.True(t, ctx.IsActive())
	assert.Same(t, alloc, ctx.alloc, "flush keeps the allocator")
	assert.Zero(t, ctx.PendingBarriers())

	ctx.RecordTransition(res, driver.StateShaderResource, false)
	second := ctx.Flush(nil)
	last := ctx.Finish()
	assert.Less(t, first.Value(), second.Value())
	assert.Less(t, second.Value(), last.Value())

	last.Wait()
	assert.True(t, first.Poll())
	assert.Equal(t, uint64(3), q.Stats().Submissions)
	assert.Empty(t, f.hw.ValidationErrors())
}

func TestCloseFinishesAbandonedContext(t *testing.T) {
	f := newFixture(t)
	q := f.dev.Graphics()

	ctx := q.BeginCopy()
	ctx.Close()
	assert.False(t, ctx.IsActive())
	assert.Equal(t, 1, q.Stats().ContextsPooled)

	ctx.Close()
	assert.Equal(t, uint64(1), q.Stats().Submissions, "closing an idle context does nothing")
}

func TestCopyContextTransitionsDefaultHeapOnly(t *testing.T) {
	f := newFixture(t)
	src := f.dev.CreateResource(driver.HeapUpload, driver.BufferDesc(8, driver.ResourceFlagNone), driver.StateGenericRead, "src")
	dst := f.dev.CreateBuffer(8, driver.ResourceFlagNone, driver.StateCommon, "dst")
	defer src.Release()
	defer dst.Release()

	mem, err := src.Allocation().Map()
	require.NoError(t, err)
	copy(mem, []byte("kilnkiln"))
	src.Allocation().Unmap()

	ctx := f.dev.Graphics().BeginCopy()
	ctx.CopyBuffer(dst, src)
	assert.Equal(t, driver.StateCopyDest, dst.State())
	assert.Equal(t, driver.StateGenericRead, src.State())
	ctx.Finish().Wait()

	assert.Equal(t, []byte("kilnkiln"), f.hw.Contents(dst.Allocation()))
	assert.Empty(t, f.hw.ValidationErrors())
}

func TestComputeKernelReadsDynamicTable(t *testing.T) {
	f := newFixture(t, driver.QueueGraphics, driver.QueueCompute)

	p := f.dev.Upload().AllocateBuffer(16, "input")
	for i, v := range []uint32{1, 2, 3, 4} {
		p.Bytes()[i*4] = byte(v)
	}
	in := p.InitiateUpload()
	out := f.dev.CreateBuffer(16, driver.ResourceFlagAllowUnorderedAccess, driver.StateCommon, "output")
	defer out.Release()

	scale := f.hw.CreateComputePipeline("scale", func(k *software.KernelContext) {
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
		factor := k.Constants(1)[0]
		for i := 0; i < src.Len32(); i++ {
			dst.SetUint32(i, src.Uint32(i)*factor)
		}
	})

	compute := f.dev.Compute()
	in.SyncPoint.WaitOn(compute)
	ctx := compute.BeginCompute(scale)
	ctx.RecordTransition(in.Resource, driver.StateNonPixelShaderResource, false)
	ctx.RecordTransition(out, driver.StateUnorderedAccess, false)

	// a flush drops the bindings, the heap must come back with the reopened list
	ctx.Flush(scale)

	table := f.dev.Descriptors().AllocateDynamicTable(2).
		Append(in.Resource, driver.BufferView(driver.ViewShaderResource, 0, 4, 4)).
		Append(out, driver.BufferView(driver.ViewUnorderedAccess, 0, 4, 4)).
		Finalize()
	ctx.SetComputeDescriptorTable(0, table)
	ctx.SetComputeRootConstants(1, 10)
	ctx.Dispatch1D(4, 64)
	ctx.Finish().Wait()

	assert.Equal(t, []byte{10, 0, 0, 0, 20, 0, 0, 0, 30, 0, 0, 0, 40, 0, 0, 0}, f.hw.Contents(out.Allocation()))
	assert.Empty(t, f.hw.ValidationErrors())
	in.Resource.Release()
}

func TestGraphicsContextDraws(t *testing.T) {
	f := newFixture(t)
	target := f.dev.CreateTexture(driver.Texture2DDesc(2, 2, driver.FormatR32Uint, driver.ResourceFlagAllowRenderTarget), driver.StateCommon, "target")
	defer target.Release()
	view := f.dev.Descriptors().CreateView(target, driver.TextureView(driver.ViewUnorderedAccess, driver.FormatR32Uint))

	var draws []software.DrawArgs
	fill := f.hw.CreateGraphicsPipeline("fill", func(k *software.KernelContext) {
		draws = append(draws, k.Draw)
		rt, err := k.Slot(k.Constants(0)[0])
		if err != nil {
			t.Error(err)
			return
		}
		for i := 0; i < rt.Len32(); i++ {
			rt.SetUint32(i, k.Draw.VertexCount)
		}
	})

	ctx := f.dev.Graphics().BeginGraphics(fill)
	ctx.RecordTransition(target, driver.StateRenderTarget, false)
	ctx.SetGraphicsRootConstants(0, view.Index())
	ctx.Draw(3, 0)
	ctx.DrawInstanced(6, 2, 0, 1)
	ctx.Finish().Wait()

	require.Len(t, draws, 2)
	assert.Equal(t, software.DrawArgs{VertexCount: 3, InstanceCount: 1}, draws[0])
	assert.Equal(t, software.DrawArgs{VertexCount: 6, InstanceCount: 2, StartInstance: 1}, draws[1])
	got := f.hw.Contents(target.Allocation())
	assert.Equal(t, byte(6), got[0])
	assert.Equal(t, byte(6), got[12])
	assert.Empty(t, f.hw.ValidationErrors())
}
