package renderer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/software"
)

// Backend opens the driver device a Renderer runs on.
type Backend func(cfg core.Config) (driver.Device, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Backend{
		core.BackendSoftware: openSoftware,
	}
)

// RegisterBackend makes a backend selectable through the renderer.backend setting.
// Backends built on cgo, like vulkan, are registered by the binary.
func RegisterBackend(name string, open Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, ok := backends[name]; ok {
		core.LogWarn("renderer backend %q registered twice, keeping the latest", name)
	}
	backends[name] = open
}

// Backends lists the registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupBackend(name string) (Backend, error) {
	backendsMu.RLock()
	open, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: backend %q is not registered (available: %s)",
			core.ErrUnsupported, name, strings.Join(Backends(), ", "))
	}
	return open, nil
}

func openSoftware(cfg core.Config) (driver.Device, error) {
	return software.New(software.Options{
		Name:       cfg.Vulkan.ApplicationName,
		Validation: core.DebugChecks,
	}), nil
}
