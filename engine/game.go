package engine

import (
	"time"

	"github.com/spaghettifunk/kiln/engine/assets"
	"github.com/spaghettifunk/kiln/engine/renderer"
)

// Game is the application driven by the Engine. Renderer and Assets are set by New
// before FnInitialize runs.
type Game struct {
	Name         string
	Renderer     *renderer.Renderer
	Assets       *assets.AssetManager
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnShutdown   Shutdown
}

type Initialize func() error
type Update func(deltaTime time.Duration) error
type Render func(frame *renderer.Frame) error
type Shutdown func() error
