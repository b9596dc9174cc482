package platform

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/kiln/engine/core"
)

func init() {
	// glfw calls must come from the main OS thread
	runtime.LockOSThread()
}

// Platform owns the glfw library. The renderer never opens a window; glfw is only
// used to find the Vulkan loader.
type Platform struct {
	mu      sync.Mutex
	started bool
}

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Startup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("failed to initialize glfw: %w", err)
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return fmt.Errorf("glfw found no Vulkan loader: %w", core.ErrUnsupported)
	}
	p.started = true
	core.LogDebug("glfw %s initialized", glfw.GetVersionString())
	return nil
}

// InstanceProcAddr is vkGetInstanceProcAddr as resolved by glfw.
func (p *Platform) InstanceProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (p *Platform) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	glfw.Terminate()
	p.started = false
}
