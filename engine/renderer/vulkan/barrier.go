package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

const (
	computeStages = vk.PipelineStageTopOfPipeBit | vk.PipelineStageBottomOfPipeBit |
		vk.PipelineStageDrawIndirectBit | vk.PipelineStageComputeShaderBit |
		vk.PipelineStageTransferBit | vk.PipelineStageAllCommandsBit
	transferStages = vk.PipelineStageTopOfPipeBit | vk.PipelineStageBottomOfPipeBit |
		vk.PipelineStageTransferBit | vk.PipelineStageAllCommandsBit
)

var stateAccess = []struct {
	state  driver.ResourceState
	access vk.AccessFlagBits
	stages vk.PipelineStageFlagBits
}{
	{driver.StateVertexAndConstantBuffer, vk.AccessUniformReadBit | vk.AccessVertexAttributeReadBit,
		vk.PipelineStageVertexInputBit | vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit},
	{driver.StateIndexBuffer, vk.AccessIndexReadBit, vk.PipelineStageVertexInputBit},
	{driver.StateRenderTarget, vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit, vk.PipelineStageColorAttachmentOutputBit},
	{driver.StateUnorderedAccess, vk.AccessShaderReadBit | vk.AccessShaderWriteBit,
		vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit},
	{driver.StateDepthWrite, vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit,
		vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit},
	{driver.StateDepthRead, vk.AccessDepthStencilAttachmentReadBit,
		vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit},
	{driver.StateNonPixelShaderResource, vk.AccessShaderReadBit, vk.PipelineStageVertexShaderBit | vk.PipelineStageComputeShaderBit},
	{driver.StatePixelShaderResource, vk.AccessShaderReadBit, vk.PipelineStageFragmentShaderBit},
	{driver.StateIndirectArgument, vk.AccessIndirectCommandReadBit, vk.PipelineStageDrawIndirectBit},
	{driver.StateCopyDest, vk.AccessTransferWriteBit, vk.PipelineStageTransferBit},
	{driver.StateCopySource, vk.AccessTransferReadBit, vk.PipelineStageTransferBit},
}

// accessFor maps a state to the memory accesses and pipeline stages it covers.
// StateCommon has no accesses and spans every command.
func accessFor(s driver.ResourceState) (vk.AccessFlagBits, vk.PipelineStageFlagBits) {
	if s == driver.StateCommon {
		return 0, vk.PipelineStageAllCommandsBit
	}
	var access vk.AccessFlagBits
	var stages vk.PipelineStageFlagBits
	for _, sa := range stateAccess {
		if s&sa.state != 0 {
			access |= sa.access
			stages |= sa.stages
		}
	}
	return access, stages
}

// layoutFor picks the image layout a state implies. Mixed states fall back to GENERAL.
func layoutFor(s driver.ResourceState) vk.ImageLayout {
	switch {
	case s == driver.StateCopyDest:
		return vk.ImageLayoutTransferDstOptimal
	case s == driver.StateCopySource:
		return vk.ImageLayoutTransferSrcOptimal
	case s == driver.StateRenderTarget:
		return vk.ImageLayoutColorAttachmentOptimal
	case s == driver.StateDepthWrite:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case s == driver.StateDepthRead:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case s != 0 && s&^driver.StateShaderResource == 0:
		return vk.ImageLayoutShaderReadOnlyOptimal
	}
	return vk.ImageLayoutGeneral
}

func aspectFor(f driver.Format) vk.ImageAspectFlagBits {
	if f == driver.FormatD32Float {
		return vk.ImageAspectDepthBit
	}
	return vk.ImageAspectColorBit
}

// barrierBatch folds driver barriers into one vkCmdPipelineBarrier.
type barrierBatch struct {
	supported vk.PipelineStageFlagBits
	src       vk.PipelineStageFlagBits
	dst       vk.PipelineStageFlagBits
	memory    []vk.MemoryBarrier
	buffers   []vk.BufferMemoryBarrier
	images    []vk.ImageMemoryBarrier
}

func newBarrierBatch(kind driver.QueueKind) *barrierBatch {
	b := &barrierBatch{supported: ^vk.PipelineStageFlagBits(0)}
	switch kind {
	case driver.QueueCompute:
		b.supported = computeStages
	case driver.QueueCopy:
		b.supported = transferStages
	}
	return b
}

func (b *barrierBatch) stages(s vk.PipelineStageFlagBits) vk.PipelineStageFlagBits {
	if s &= b.supported; s == 0 {
		return vk.PipelineStageAllCommandsBit
	}
	return s
}

func (b *barrierBatch) add(br driver.Barrier) {
	if br.Type == driver.BarrierUAV {
		b.src |= vk.PipelineStageComputeShaderBit
		b.dst |= vk.PipelineStageComputeShaderBit
		b.memory = append(b.memory, vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
		})
		return
	}

	srcAccess, srcStages := accessFor(br.Before)
	dstAccess, dstStages := accessFor(br.After)
	b.src |= b.stages(srcStages)
	b.dst |= b.stages(dstStages)

	a := br.Resource.(*Allocation)
	if a.desc.IsBuffer() {
		b.buffers = append(b.buffers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(srcAccess),
			DstAccessMask:       vk.AccessFlags(dstAccess),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              a.buffer,
			Size:                vk.DeviceSize(vk.WholeSize),
		})
		return
	}
	b.images = append(b.images, vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(srcAccess),
		DstAccessMask:       vk.AccessFlags(dstAccess),
		OldLayout:           layoutFor(br.Before),
		NewLayout:           layoutFor(br.After),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               a.image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspectFor(a.desc.Format)),
			LevelCount: 1,
			LayerCount: 1,
		},
	})
}

func (b *barrierBatch) record(cb vk.CommandBuffer) {
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(b.src), vk.PipelineStageFlags(b.dst), 0,
		uint32(len(b.memory)), b.memory,
		uint32(len(b.buffers)), b.buffers,
		uint32(len(b.images)), b.images)
}
