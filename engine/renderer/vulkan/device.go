package vulkan

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/platform"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type queueFamilies struct {
	graphics uint32
	compute  uint32
	transfer uint32
}

func (f queueFamilies) forKind(kind driver.QueueKind) uint32 {
	switch kind {
	case driver.QueueCompute:
		return f.compute
	case driver.QueueCopy:
		return f.transfer
	}
	return f.graphics
}

func (f queueFamilies) unique() []uint32 {
	seen := map[uint32]bool{}
	var out []uint32
	for _, i := range []uint32{f.graphics, f.compute, f.transfer} {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}

type physicalDevice struct {
	handle     vk.PhysicalDevice
	name       string
	properties vk.PhysicalDeviceProperties
	memory     vk.PhysicalDeviceMemoryProperties
	families   queueFamilies
	score      int
}

// Device is the Vulkan driver.Device.
type Device struct {
	platform *platform.Platform
	inst     *instance
	physical physicalDevice
	handle   vk.Device
	locks    *LockPool
	layout   *bindlessLayout

	// utilPool and utilQueue run the one-shot layout transitions of new images.
	utilPool  vk.CommandPool
	utilQueue vk.Queue

	mu        sync.Mutex
	pipelines []*Pipeline
	released  bool
}

func newDevice(p *platform.Platform, inst *instance) (*Device, error) {
	phys, err := selectPhysicalDevice(inst)
	if err != nil {
		return nil, err
	}
	d := &Device{platform: p, inst: inst, physical: phys, locks: NewLockPool()}

	families := phys.families.unique()
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, family := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	var extensions []string
	if hasDeviceExtension(phys.handle, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	features12 := vk.PhysicalDeviceVulkan12Features{
		SType:                                         vk.StructureTypePhysicalDeviceVulkan12Features,
		DescriptorIndexing:                            vk.True,
		RuntimeDescriptorArray:                        vk.True,
		DescriptorBindingPartiallyBound:               vk.True,
		DescriptorBindingVariableDescriptorCount:      vk.True,
		DescriptorBindingUpdateUnusedWhilePending:     vk.True,
		DescriptorBindingStorageBufferUpdateAfterBind: vk.True,
		DescriptorBindingUniformBufferUpdateAfterBind: vk.True,
		DescriptorBindingSampledImageUpdateAfterBind:  vk.True,
		DescriptorBindingStorageImageUpdateAfterBind:  vk.True,
	}
	// pNext takes the C struct
	features12Ref, _ := features12.PassRef()

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		PNext:                   unsafe.Pointer(features12Ref),
	}
	if err := newError("vkCreateDevice", vk.CreateDevice(phys.handle, &deviceCreateInfo, nil, &d.handle)); err != nil {
		return nil, err
	}
	core.LogInfo("Logical device created.")

	if d.layout, err = newBindlessLayout(d.handle); err != nil {
		vk.DestroyDevice(d.handle, nil)
		return nil, err
	}

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: phys.families.graphics,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	if err := newError("vkCreateCommandPool", vk.CreateCommandPool(d.handle, &poolCreateInfo, nil, &d.utilPool)); err != nil {
		d.layout.destroy(d.handle)
		vk.DestroyDevice(d.handle, nil)
		return nil, err
	}
	vk.GetDeviceQueue(d.handle, phys.families.graphics, 0, &d.utilQueue)
	return d, nil
}

func (d *Device) Name() string {
	return d.physical.name
}

func (d *Device) CreateQueue(kind driver.QueueKind) (driver.Queue, error) {
	family := d.physical.families.forKind(kind)
	q := &Queue{dev: d, kind: kind, family: family}
	vk.GetDeviceQueue(d.handle, family, 0, &q.handle)
	core.LogDebug("vulkan: %s queue on family %d", kind, family)
	return q, nil
}

func (d *Device) CreateFence(initial uint64) (driver.Fence, error) {
	return &Fence{dev: d, completed: initial}, nil
}

func (d *Device) CopyableLayout(desc driver.ResourceDesc) driver.CopyableLayout {
	return driver.ComputeCopyableLayout(desc)
}

// WaitIdle blocks until every queue drained.
func (d *Device) WaitIdle() error {
	families := d.physical.families.unique()
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	return d.lockQueues(families, func() error {
		return newError("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.handle))
	})
}

// lockQueues holds every family lock, in order, while fn runs.
func (d *Device) lockQueues(families []uint32, fn func() error) error {
	if len(families) == 0 {
		return fn()
	}
	return d.locks.SafeQueueCall(families[0], func() error {
		return d.lockQueues(families[1:], fn)
	})
}

func (d *Device) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	pipelines := d.pipelines
	d.pipelines = nil
	d.mu.Unlock()

	if err := d.WaitIdle(); err != nil {
		core.LogError("vulkan: %s", err)
	}
	for _, p := range pipelines {
		p.destroy(d.handle)
	}
	vk.DestroyCommandPool(d.handle, d.utilPool, nil)
	d.layout.destroy(d.handle)

	core.LogDebug("Destroying Vulkan device...")
	vk.DestroyDevice(d.handle, nil)
	d.handle = nil

	core.LogDebug("Destroying Vulkan instance...")
	d.inst.destroy()
	d.platform.Shutdown()
	core.LogInfo("vulkan device %q released", d.physical.name)
}

func selectPhysicalDevice(inst *instance) (physicalDevice, error) {
	var count uint32
	if err := newError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(inst.handle, &count, nil)); err != nil {
		return physicalDevice{}, err
	}
	if count == 0 {
		return physicalDevice{}, fmt.Errorf("vulkan: no devices which support Vulkan were found: %w", core.ErrUnsupported)
	}
	handles := make([]vk.PhysicalDevice, count)
	if err := newError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(inst.handle, &count, handles)); err != nil {
		return physicalDevice{}, err
	}

	var best physicalDevice
	found := false
	for _, h := range handles {
		pd, ok := evaluatePhysicalDevice(h)
		if ok && (!found || pd.score > best.score) {
			best, found = pd, true
		}
	}
	if !found {
		return physicalDevice{}, fmt.Errorf("vulkan: no physical device meets the requirements: %w", core.ErrUnsupported)
	}

	props := best.properties
	core.LogInfo("Selected device: '%s'.", best.name)
	core.LogInfo("GPU Driver version: %d.%d.%d",
		vk.Version(props.DriverVersion).Major(),
		vk.Version(props.DriverVersion).Minor(),
		vk.Version(props.DriverVersion).Patch())
	core.LogInfo("Vulkan API version: %d.%d.%d",
		vk.Version(props.ApiVersion).Major(),
		vk.Version(props.ApiVersion).Minor(),
		vk.Version(props.ApiVersion).Patch())
	for j := uint32(0); j < best.memory.MemoryHeapCount; j++ {
		heap := best.memory.MemoryHeaps[j]
		heap.Deref()
		gib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
	core.LogDebug("Graphics Family Index: %d", best.families.graphics)
	core.LogDebug("Compute Family Index:  %d", best.families.compute)
	core.LogDebug("Transfer Family Index: %d", best.families.transfer)
	return best, nil
}

// evaluatePhysicalDevice requires Vulkan 1.2 and a queue family with graphics and
// compute. Dedicated compute and transfer families are preferred when present.
func evaluatePhysicalDevice(h vk.PhysicalDevice) (physicalDevice, bool) {
	pd := physicalDevice{handle: h}
	vk.GetPhysicalDeviceProperties(h, &pd.properties)
	pd.properties.Deref()
	pd.properties.Limits.Deref()
	vk.GetPhysicalDeviceMemoryProperties(h, &pd.memory)
	pd.memory.Deref()
	pd.name = cString(pd.properties.DeviceName[:])

	if v := vk.Version(pd.properties.ApiVersion); v.Major() < 1 || (v.Major() == 1 && v.Minor() < 2) {
		core.LogInfo("Device '%s' only supports Vulkan %d.%d, skipping.", pd.name, v.Major(), v.Minor())
		return pd, false
	}

	switch pd.properties.DeviceType {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		pd.score = 3
	case vk.PhysicalDeviceTypeIntegratedGpu:
		pd.score = 2
	case vk.PhysicalDeviceTypeVirtualGpu:
		pd.score = 1
	}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(h, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(h, &count, families)

	const none = ^uint32(0)
	graphics, compute, transfer := none, none, none
	minTransferScore := 255
	for i := range families {
		families[i].Deref()
		flags := vk.QueueFlagBits(families[i].QueueFlags)
		isGraphics := flags&vk.QueueGraphicsBit != 0
		isCompute := flags&vk.QueueComputeBit != 0
		if isGraphics && isCompute && graphics == none {
			graphics = uint32(i)
		}
		if isCompute && !isGraphics && compute == none {
			compute = uint32(i)
		}
		// the family with the fewest other capabilities is most likely a DMA engine
		if flags&vk.QueueTransferBit != 0 {
			score := 0
			if isGraphics {
				score++
			}
			if isCompute {
				score++
			}
			if score < minTransferScore {
				minTransferScore = score
				transfer = uint32(i)
			}
		}
	}
	if graphics == none {
		core.LogInfo("Device '%s' has no graphics and compute queue family, skipping.", pd.name)
		return pd, false
	}
	if compute == none {
		compute = graphics
	}
	if transfer == none {
		transfer = graphics
	}
	pd.families = queueFamilies{graphics: graphics, compute: compute, transfer: transfer}
	return pd, true
}

func hasDeviceExtension(h vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(h, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(h, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

var (
	_ driver.Device           = (*Device)(nil)
	_ driver.Queue            = (*Queue)(nil)
	_ driver.Fence            = (*Fence)(nil)
	_ driver.CommandAllocator = (*CommandAllocator)(nil)
	_ driver.CommandList      = (*CommandList)(nil)
	_ driver.Allocation       = (*Allocation)(nil)
	_ driver.DescriptorHeap   = (*DescriptorHeap)(nil)
	_ driver.PipelineState    = (*Pipeline)(nil)
)
