package gfx

import (
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// CopyContext records transfers. Every queue kind accepts it.
type CopyContext struct {
	*CommandContext
}

// prepare transitions default-heap resources; upload and readback memory keeps its
// fixed state.
func (c *CopyContext) prepare(res *Resource, state driver.ResourceState) {
	if res.alloc.Heap() == driver.HeapDefault {
		c.RecordTransition(res, state, false)
	}
}

// CopyBuffer copies all of src into dst.
func (c *CopyContext) CopyBuffer(dst, src *Resource) {
	c.CopyBufferRegion(dst, 0, src, 0, src.Desc().Width)
}

func (c *CopyContext) CopyBufferRegion(dst *Resource, dstOffset uint64, src *Resource, srcOffset, size uint64) {
	if !c.assertActive("CopyBufferRegion") {
		return
	}
	c.prepare(dst, driver.StateCopyDest)
	c.prepare(src, driver.StateCopySource)
	c.FlushBarriers()
	c.list.CopyBufferRegion(dst.alloc, dstOffset, src.alloc, srcOffset, size)
}

// CopyTextureFromBuffer copies rows placed as layout in src into the texture dst.
func (c *CopyContext) CopyTextureFromBuffer(dst, src *Resource, layout driver.CopyableLayout) {
	if !c.assertActive("CopyTextureFromBuffer") {
		return
	}
	c.prepare(dst, driver.StateCopyDest)
	c.prepare(src, driver.StateCopySource)
	c.FlushBarriers()
	c.list.CopyTextureFromBuffer(dst.alloc, src.alloc, layout)
}

// ComputeContext adds dispatches. Only compute and graphics queues hand it out.
type ComputeContext struct {
	CopyContext
}

func (c *ComputeContext) SetPipelineState(pso driver.PipelineState) {
	if c.assertActive("SetPipelineState") {
		c.list.SetPipelineState(pso)
	}
}

func (c *ComputeContext) SetComputeDescriptorTable(param uint32, table DescriptorTable) {
	if c.assertActive("SetComputeDescriptorTable") {
		c.list.SetComputeRootDescriptorTable(param, table.base)
	}
}

func (c *ComputeContext) SetComputeRootConstants(param uint32, values ...uint32) {
	if c.assertActive("SetComputeRootConstants") {
		c.list.SetComputeRootConstants(param, values)
	}
}

func (c *ComputeContext) Dispatch(x, y, z uint32) {
	if !c.assertActive("Dispatch") {
		return
	}
	c.FlushBarriers()
	c.list.Dispatch(x, y, z)
}

// Dispatch1D launches enough groups of groupSize threads to cover threads.
func (c *ComputeContext) Dispatch1D(threads, groupSize uint32) {
	c.Dispatch(math.DivideRoundUp(threads, groupSize), 1, 1)
}

// GraphicsContext adds draws. Only graphics queues hand it out.
type GraphicsContext struct {
	ComputeContext
}

func (c *GraphicsContext) SetGraphicsDescriptorTable(param uint32, table DescriptorTable) {
	if c.assertActive("SetGraphicsDescriptorTable") {
		c.list.SetGraphicsRootDescriptorTable(param, table.base)
	}
}

func (c *GraphicsContext) SetGraphicsRootConstants(param uint32, values ...uint32) {
	if c.assertActive("SetGraphicsRootConstants") {
		c.list.SetGraphicsRootConstants(param, values)
	}
}

func (c *GraphicsContext) Draw(vertexCount, startVertex uint32) {
	c.DrawInstanced(vertexCount, 1, startVertex, 0)
}

func (c *GraphicsContext) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) {
	if !c.assertActive("DrawInstanced") {
		return
	}
	c.FlushBarriers()
	c.list.DrawInstanced(vertexCount, instanceCount, startVertex, startInstance)
}
