// Package vulkan implements the driver interfaces on a headless Vulkan 1.2 device.
//
// Command allocators are command pools, timeline fences are emulated with binary
// fences, and the shader-visible descriptor heap is one partially bound descriptor
// set indexed by heap slot. Root parameters map to push-constant dwords. Only compute
// pipelines are supported; draws fail with core.ErrUnsupported.
package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/platform"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type instance struct {
	handle        vk.Instance
	debugCallback vk.DebugReportCallback
	validation    bool
}

// Open creates a Vulkan device on the best GPU with a compute queue.
func Open(cfg core.Config) (driver.Device, error) {
	p := platform.New()
	if err := p.Startup(); err != nil {
		return nil, err
	}
	procAddr := p.InstanceProcAddr()
	if procAddr == nil {
		p.Shutdown()
		return nil, fmt.Errorf("vulkan: GetInstanceProcAddress is nil: %w", core.ErrUnsupported)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		p.Shutdown()
		return nil, fmt.Errorf("vulkan: failed to initialize vk: %v: %w", err, core.ErrUnsupported)
	}

	inst, err := createInstance(cfg.Vulkan.ApplicationName, cfg.Vulkan.Validation || core.DebugChecks)
	if err != nil {
		p.Shutdown()
		return nil, err
	}
	dev, err := newDevice(p, inst)
	if err != nil {
		inst.destroy()
		p.Shutdown()
		return nil, err
	}
	return dev, nil
}

func createInstance(appName string, validation bool) (*instance, error) {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(appName),
		PEngineName:        safeString("Kiln"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var extensions []string
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if validation {
		if hasInstanceLayer(validationLayer) {
			layers = append(layers, validationLayer)
			extensions = append(extensions, vk.ExtDebugReportExtensionName)
		} else {
			core.LogWarn("vulkan: validation requested but %s is not installed", validationLayer)
			validation = false
		}
	}
	for _, e := range extensions {
		core.LogDebug("vulkan: instance extension %s", e)
	}
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = safeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = safeStrings(layers)

	inst := &instance{validation: validation}
	if err := newError("vkCreateInstance", vk.CreateInstance(&createInfo, nil, &inst.handle)); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(inst.handle); err != nil {
		vk.DestroyInstance(inst.handle, nil)
		return nil, fmt.Errorf("vulkan: init instance: %v: %w", err, core.ErrUnsupported)
	}
	core.LogInfo("Vulkan instance created (validation: %v).", validation)

	if validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		res := vk.CreateDebugReportCallback(inst.handle, &debugCreateInfo, nil, &inst.debugCallback)
		if err := newError("vkCreateDebugReportCallback", res); err != nil {
			core.LogWarn("%s", err)
		}
	}
	return inst, nil
}

func hasInstanceLayer(name string) bool {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (inst *instance) destroy() {
	if inst.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(inst.handle, inst.debugCallback, nil)
		inst.debugCallback = vk.NullDebugReportCallback
	}
	vk.DestroyInstance(inst.handle, nil)
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("vulkan validation: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("vulkan validation: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("vulkan performance: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("vulkan: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
