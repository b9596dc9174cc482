package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

var formats = map[driver.Format]vk.Format{
	driver.FormatR8Unorm:     vk.FormatR8Unorm,
	driver.FormatRG8Unorm:    vk.FormatR8g8Unorm,
	driver.FormatRGBA8Unorm:  vk.FormatR8g8b8a8Unorm,
	driver.FormatBGRA8Unorm:  vk.FormatB8g8r8a8Unorm,
	driver.FormatR16Float:    vk.FormatR16Sfloat,
	driver.FormatR32Uint:     vk.FormatR32Uint,
	driver.FormatR32Float:    vk.FormatR32Sfloat,
	driver.FormatRGBA16Float: vk.FormatR16g16b16a16Sfloat,
	driver.FormatRGBA32Float: vk.FormatR32g32b32a32Sfloat,
	driver.FormatD32Float:    vk.FormatD32Sfloat,
}

// Allocation is a buffer or a 2D image with its own dedicated device memory.
type Allocation struct {
	dev    *Device
	desc   driver.ResourceDesc
	heap   driver.HeapType
	size   uint64
	buffer vk.Buffer
	image  vk.Image
	view   vk.ImageView
	memory vk.DeviceMemory

	mu       sync.Mutex
	label    string
	mapped   []byte
	mapCount int
	released bool
}

func (d *Device) CreateCommittedResource(heap driver.HeapType, desc driver.ResourceDesc, initial driver.ResourceState) (driver.Allocation, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("vulkan: create resource: %w", err)
	}
	if heap != driver.HeapDefault && !desc.IsBuffer() {
		return nil, fmt.Errorf("vulkan: textures live in the default heap: %w", core.ErrUnsupported)
	}
	a := &Allocation{dev: d, desc: desc, heap: heap, size: desc.Width}

	var reqs vk.MemoryRequirements
	if desc.IsBuffer() {
		usage := vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit | vk.BufferUsageUniformBufferBit |
			vk.BufferUsageStorageBufferBit | vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit |
			vk.BufferUsageIndirectBufferBit
		bufferCreateInfo := vk.BufferCreateInfo{
			SType:       vk.StructureTypeBufferCreateInfo,
			Size:        vk.DeviceSize(desc.Width),
			Usage:       vk.BufferUsageFlags(usage),
			SharingMode: vk.SharingModeConcurrent,
		}
		families := d.physical.families.unique()
		if len(families) == 1 {
			bufferCreateInfo.SharingMode = vk.SharingModeExclusive
		} else {
			bufferCreateInfo.QueueFamilyIndexCount = uint32(len(families))
			bufferCreateInfo.PQueueFamilyIndices = families
		}
		if err := newError("vkCreateBuffer", vk.CreateBuffer(d.handle, &bufferCreateInfo, nil, &a.buffer)); err != nil {
			return nil, err
		}
		vk.GetBufferMemoryRequirements(d.handle, a.buffer, &reqs)
	} else {
		if err := a.createImage(); err != nil {
			return nil, err
		}
		vk.GetImageMemoryRequirements(d.handle, a.image, &reqs)
		a.size = desc.Width * uint64(desc.Height) * uint64(desc.Format.BytesPerPixel())
	}
	reqs.Deref()

	index := d.findMemoryIndex(reqs.MemoryTypeBits, memoryFlags(heap))
	if index < 0 && heap == driver.HeapReadback {
		index = d.findMemoryIndex(reqs.MemoryTypeBits, memoryFlags(driver.HeapUpload))
	}
	if index < 0 {
		a.destroy()
		return nil, fmt.Errorf("vulkan: no memory type for the %s heap: %w", heap, core.ErrOutOfMemory)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	if err := newError("vkAllocateMemory", vk.AllocateMemory(d.handle, &allocateInfo, nil, &a.memory)); err != nil {
		a.destroy()
		return nil, err
	}

	if desc.IsBuffer() {
		if err := newError("vkBindBufferMemory", vk.BindBufferMemory(d.handle, a.buffer, a.memory, 0)); err != nil {
			a.destroy()
			return nil, err
		}
		return a, nil
	}
	if err := newError("vkBindImageMemory", vk.BindImageMemory(d.handle, a.image, a.memory, 0)); err != nil {
		a.destroy()
		return nil, err
	}
	if err := a.createView(); err != nil {
		a.destroy()
		return nil, err
	}
	// images start UNDEFINED; move them to the layout the caller believes they are in
	if err := d.transitionNewImage(a, initial); err != nil {
		a.destroy()
		return nil, err
	}
	return a, nil
}

func (a *Allocation) createImage() error {
	format, ok := formats[a.desc.Format]
	if !ok {
		return fmt.Errorf("vulkan: format %s: %w", a.desc.Format, core.ErrUnsupported)
	}
	usage := vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit
	if a.desc.Flags&driver.ResourceFlagAllowUnorderedAccess != 0 {
		usage |= vk.ImageUsageStorageBit
	}
	if a.desc.Flags&driver.ResourceFlagAllowRenderTarget != 0 {
		usage |= vk.ImageUsageColorAttachmentBit
	}
	if a.desc.Flags&driver.ResourceFlagAllowDepthStencil != 0 {
		usage |= vk.ImageUsageDepthStencilAttachmentBit
	}
	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  uint32(a.desc.Width),
			Height: a.desc.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	return newError("vkCreateImage", vk.CreateImage(a.dev.handle, &imageCreateInfo, nil, &a.image))
}

func (a *Allocation) createView() error {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    a.image,
		ViewType: vk.ImageViewType2d,
		Format:   formats[a.desc.Format],
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspectFor(a.desc.Format)),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	return newError("vkCreateImageView", vk.CreateImageView(a.dev.handle, &viewCreateInfo, nil, &a.view))
}

func memoryFlags(heap driver.HeapType) vk.MemoryPropertyFlagBits {
	switch heap {
	case driver.HeapUpload:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	case driver.HeapReadback:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit
	}
	return vk.MemoryPropertyDeviceLocalBit
}

// findMemoryIndex returns the first memory type allowed by typeFilter that has every
// property flag, or -1.
func (d *Device) findMemoryIndex(typeFilter uint32, flags vk.MemoryPropertyFlagBits) int32 {
	props := d.physical.memory
	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		memoryType := props.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && vk.MemoryPropertyFlagBits(memoryType.PropertyFlags)&flags == flags {
			return int32(i)
		}
	}
	return -1
}

func (a *Allocation) Desc() driver.ResourceDesc { return a.desc }
func (a *Allocation) Heap() driver.HeapType     { return a.heap }
func (a *Allocation) Size() uint64              { return a.size }

// Map keeps the memory persistently mapped until the matching number of Unmap calls.
func (a *Allocation) Map() ([]byte, error) {
	if !a.heap.Mappable() {
		return nil, fmt.Errorf("vulkan: map of %q in the %s heap: %w", a.Label(), a.heap, core.ErrNotMappable)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mapCount == 0 {
		var ptr unsafe.Pointer
		if err := newError("vkMapMemory", vk.MapMemory(a.dev.handle, a.memory, 0, vk.DeviceSize(a.size), 0, &ptr)); err != nil {
			return nil, err
		}
		a.mapped = unsafe.Slice((*byte)(ptr), a.size)
	}
	a.mapCount++
	return a.mapped, nil
}

func (a *Allocation) Unmap() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mapCount == 0 {
		return
	}
	if a.mapCount--; a.mapCount == 0 {
		vk.UnmapMemory(a.dev.handle, a.memory)
		a.mapped = nil
	}
}

func (a *Allocation) SetLabel(label string) {
	a.mu.Lock()
	a.label = label
	a.mu.Unlock()
}

func (a *Allocation) Label() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.label
}

// Release frees the memory immediately; the GPU must be done with it.
func (a *Allocation) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return
	}
	a.released = true
	if a.mapCount > 0 {
		vk.UnmapMemory(a.dev.handle, a.memory)
		a.mapCount, a.mapped = 0, nil
	}
	a.destroy()
}

func (a *Allocation) destroy() {
	h := a.dev.handle
	if a.view != vk.NullImageView {
		vk.DestroyImageView(h, a.view, nil)
		a.view = vk.NullImageView
	}
	if a.image != vk.NullImage {
		vk.DestroyImage(h, a.image, nil)
		a.image = vk.NullImage
	}
	if a.buffer != vk.NullBuffer {
		vk.DestroyBuffer(h, a.buffer, nil)
		a.buffer = vk.NullBuffer
	}
	if a.memory != vk.NullDeviceMemory {
		vk.FreeMemory(h, a.memory, nil)
		a.memory = vk.NullDeviceMemory
	}
}
