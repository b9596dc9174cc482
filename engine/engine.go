package engine

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/kiln/engine/assets"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything
	EngineStageShutdown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	case EngineStageShutdown:
		return "shut down"
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// metricsInterval is how many frames pass between two frame metric log lines.
const metricsInterval = 120

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       core.Config
	isRunning    atomic.Bool
	renderer     *renderer.Renderer
	assetManager *assets.AssetManager
	jobSystem    *systems.JobSystem
	clock        *core.Clock
	metrics      *core.FrameMetrics
	lastTime     time.Duration
}

func New(g *Game, cfg core.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Apply(); err != nil {
		return nil, err
	}

	js, err := systems.NewJobSystem(cfg.Assets.Workers, cfg.Assets.Workers*4)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	r, err := renderer.New(cfg)
	if err != nil {
		core.LogError(err.Error())
		_ = js.Shutdown()
		return nil, err
	}

	am, err := assets.NewAssetManager(r.Device(), js)
	if err != nil {
		core.LogError(err.Error())
		_ = js.Shutdown()
		_ = r.Shutdown()
		return nil, err
	}

	g.Renderer = r
	g.Assets = am
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		renderer:     r,
		assetManager: am,
		jobSystem:    js,
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
	}, nil
}

func (e *Engine) Stage() Stage                 { return e.currentStage }
func (e *Engine) Renderer() *renderer.Renderer { return e.renderer }
func (e *Engine) Assets() *assets.AssetManager { return e.assetManager }
func (e *Engine) Metrics() *core.FrameMetrics  { return e.metrics }

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	dir := e.config.Assets.Dir
	if s, err := os.Stat(dir); err == nil && s.IsDir() {
		if err := e.assetManager.Initialize(dir, e.config.Assets.Watch); err != nil {
			return err
		}
	} else {
		core.LogWarn("asset directory %q not found, starting without assets", dir)
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run renders frames until Stop is called or, when maxFrames is not zero, maxFrames
// frames were rendered.
func (e *Engine) Run(maxFrames uint64) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine cannot run while %s", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	var frames uint64
	for e.isRunning.Load() {
		if maxFrames > 0 && frames >= maxFrames {
			break
		}
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStart := time.Now()

		// finished asset loads swap in before the frame records
		e.jobSystem.Update()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				e.isRunning.Store(false)
				return err
			}
		}

		frame := e.renderer.BeginFrame()
		err := e.gameInstance.FnRender(frame)
		e.renderer.EndFrame(frame)
		if err != nil {
			core.LogError("Game render failed, shutting down: %s", err)
			e.isRunning.Store(false)
			return err
		}

		e.metrics.Update(time.Since(frameStart))
		frames++
		if frames%metricsInterval == 0 {
			fps, frameTime := e.metrics.Frame()
			core.LogDebug("frame %d: %.0f fps, %.3f ms average frame time", frame.Number, fps, frameTime)
		}

		e.lastTime = currentTime
	}
	e.isRunning.Store(false)
	e.currentStage = EngineStageInitialized
	core.LogInfo("Engine stopped after %d frames.", frames)
	return nil
}

// Stop ends Run after the current frame. Safe to call from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	errs = append(errs,
		e.assetManager.Shutdown(),
		e.jobSystem.Shutdown(),
		e.renderer.Shutdown(),
	)
	e.clock.Stop()
	e.currentStage = EngineStageShutdown
	return errors.Join(errs...)
}
