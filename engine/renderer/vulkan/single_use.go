package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// singleUse records into a throwaway command buffer, submits it to the graphics
// family and waits for just that submission.
func (d *Device) singleUse(record func(cb vk.CommandBuffer)) error {
	return d.locks.SafeCall(CommandPoolManagement, func() error {
		allocateInfo := vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        d.utilPool,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}
		buffers := make([]vk.CommandBuffer, 1)
		if err := newError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.handle, &allocateInfo, buffers)); err != nil {
			return err
		}
		defer vk.FreeCommandBuffers(d.handle, d.utilPool, 1, buffers)

		beginInfo := vk.CommandBufferBeginInfo{
			SType: vk.StructureTypeCommandBufferBeginInfo,
			Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
		}
		if err := newError("vkBeginCommandBuffer", vk.BeginCommandBuffer(buffers[0], &beginInfo)); err != nil {
			return err
		}
		record(buffers[0])
		if err := newError("vkEndCommandBuffer", vk.EndCommandBuffer(buffers[0])); err != nil {
			return err
		}

		var fence vk.Fence
		fenceCreateInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
		if err := newError("vkCreateFence", vk.CreateFence(d.handle, &fenceCreateInfo, nil, &fence)); err != nil {
			return err
		}
		defer vk.DestroyFence(d.handle, fence, nil)

		submitInfo := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: 1,
			PCommandBuffers:    buffers,
		}
		err := d.locks.SafeQueueCall(d.physical.families.graphics, func() error {
			return newError("vkQueueSubmit", vk.QueueSubmit(d.utilQueue, 1, []vk.SubmitInfo{submitInfo}, fence))
		})
		if err != nil {
			return err
		}
		return newError("vkWaitForFences", vk.WaitForFences(d.handle, 1, []vk.Fence{fence}, vk.True, vk.MaxUint64))
	})
}

// transitionNewImage moves a freshly created image out of UNDEFINED into the layout of
// its initial state.
func (d *Device) transitionNewImage(a *Allocation, initial driver.ResourceState) error {
	access, stages := accessFor(initial)
	return d.singleUse(func(cb vk.CommandBuffer) {
		vk.CmdPipelineBarrier(cb,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(stages), 0,
			0, nil, 0, nil,
			1, []vk.ImageMemoryBarrier{{
				SType:               vk.StructureTypeImageMemoryBarrier,
				DstAccessMask:       vk.AccessFlags(access),
				OldLayout:           vk.ImageLayoutUndefined,
				NewLayout:           layoutFor(initial),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               a.image,
				SubresourceRange: vk.ImageSubresourceRange{
					AspectMask: vk.ImageAspectFlags(aspectFor(a.desc.Format)),
					LevelCount: 1,
					LayerCount: 1,
				},
			}})
	})
}
