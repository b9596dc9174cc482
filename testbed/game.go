package testbed

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/gfx"
	"github.com/spaghettifunk/kiln/engine/renderer/software"
)

const (
	particleCount = 4096
	histogramBins = 16
	statsInterval = 2 * time.Second
)

// spirvDevice is implemented by drivers that build compute pipelines from SPIR-V.
type spirvDevice interface {
	CreateComputePipelineSPIRV(label string, code []byte) (driver.PipelineState, error)
}

// TestGame moves particles on the compute queue every frame and, where the driver can
// draw, bins them into a histogram target on the graphics queue.
type TestGame struct {
	*engine.Game
	config core.Config
}

type gameState struct {
	advance driver.PipelineState
	splat   driver.PipelineState

	particles    *gfx.Resource
	histogram    *gfx.Resource
	particlesSRV gfx.ResidentDescriptor
	histogramUAV gfx.ResidentDescriptor

	// lastDraw is the last point reading the particles; the next advance waits for it.
	lastDraw gfx.SyncPoint
	delta    time.Duration
	sinceLog time.Duration
}

func NewTestGame(cfg core.Config) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Name:  "Kiln testbed",
			State: &gameState{},
		},
		config: cfg,
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")
	if g.Renderer == nil {
		return fmt.Errorf("the engine did not attach a renderer to %s", g.Name)
	}
	state := g.state()
	dev := g.Renderer.Device()

	p := dev.Upload().AllocateResource(driver.BufferDesc(particleCount*4, driver.ResourceFlagAllowUnorderedAccess), "particles")
	mem := p.Bytes()
	for i := 0; i < particleCount; i++ {
		binary.LittleEndian.PutUint32(mem[i*4:], math.Float32bits(float32(i)/particleCount))
	}
	up := p.InitiateUpload()
	state.particles = up.Resource
	state.lastDraw = up.SyncPoint

	switch hw := dev.Driver().(type) {
	case *software.Device:
		state.advance = hw.CreateComputePipeline("advance", advanceKernel)
		state.splat = hw.CreateGraphicsPipeline("splat", splatKernel)
		state.histogram = dev.CreateTexture(
			driver.Texture2DDesc(histogramBins, 1, driver.FormatR32Uint, driver.ResourceFlagAllowRenderTarget),
			driver.StateRenderTarget, "histogram")
		state.particlesSRV = dev.Descriptors().CreateView(state.particles, driver.BufferView(driver.ViewShaderResource, 0, particleCount, 4))
		state.histogramUAV = dev.Descriptors().CreateView(state.histogram, driver.TextureView(driver.ViewUnorderedAccess, driver.FormatR32Uint))

	case spirvDevice:
		path := filepath.Join(g.config.Assets.Dir, "shaders", "advance.spv")
		res, err := (&loaders.BinaryLoader{}).Load(path)
		if err != nil {
			return fmt.Errorf("load advance kernel: %w", err)
		}
		if state.advance, err = hw.CreateComputePipelineSPIRV("advance", res.Data.([]byte)); err != nil {
			return err
		}
		core.LogInfo("%s cannot run the splat pass, only advancing particles", dev.Driver().Name())

	default:
		return fmt.Errorf("%s has no way to build the testbed kernels: %w", dev.Driver().Name(), core.ErrUnsupported)
	}
	return nil
}

func (g *TestGame) Update(deltaTime time.Duration) error {
	state := g.state()
	state.delta = deltaTime
	state.sinceLog += deltaTime
	if state.sinceLog < statsInterval {
		return nil
	}
	state.sinceLog = 0
	for name, s := range g.Renderer.Stats() {
		core.LogInfo("%s queue: %d submissions, %d/%d allocators pooled, %d/%d contexts pooled, completed %d of %d",
			name, s.Submissions, s.AllocatorsPooled, s.AllocatorsCreated, s.ContextsPooled, s.ContextsCreated,
			s.LastCompleted, s.LastSubmitted)
	}
	return nil
}

func (g *TestGame) Render(frame *renderer.Frame) error {
	state := g.state()
	dev := frame.Device
	compute := dev.Compute()

	cb := dev.Upload().AllocateBuffer(16, fmt.Sprintf("constants-%d", frame.Number))
	binary.LittleEndian.PutUint32(cb.Bytes()[0:], uint32(frame.Number))
	binary.LittleEndian.PutUint32(cb.Bytes()[4:], math.Float32bits(float32(state.delta.Seconds())))
	constants := cb.InitiateUpload()

	constants.SyncPoint.WaitOn(compute)
	state.lastDraw.WaitOn(compute)

	ctx := compute.BeginCompute(state.advance)
	ctx.RecordTransition(constants.Resource, driver.StateNonPixelShaderResource, false)
	ctx.RecordTransition(state.particles, driver.StateUnorderedAccess, false)
	table := dev.Descriptors().AllocateDynamicTable(2).
		Append(constants.Resource, driver.BufferView(driver.ViewShaderResource, 0, 4, 4)).
		Append(state.particles, driver.BufferView(driver.ViewUnorderedAccess, 0, particleCount, 4)).
		Finalize()
	ctx.SetComputeDescriptorTable(0, table)
	ctx.Dispatch1D(particleCount, 64)
	advanced := ctx.Finish()
	dev.DeferRelease(constants.Resource, advanced)

	if state.splat == nil {
		state.lastDraw = advanced
		return nil
	}

	graphics := dev.Graphics()
	advanced.WaitOn(graphics)
	draw := graphics.BeginGraphics(state.splat)
	draw.RecordTransition(state.particles, driver.StateShaderResource, false)
	draw.SetGraphicsRootConstants(0, state.particlesSRV.Index(), state.histogramUAV.Index(), histogramBins)
	draw.Draw(particleCount, 0)
	state.lastDraw = draw.Finish()
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.state()
	dev := g.Renderer.Device()
	if state.particles != nil {
		dev.DeferRelease(state.particles, state.lastDraw)
	}
	if state.histogram != nil {
		dev.DeferRelease(state.histogram, state.lastDraw)
	}
	return nil
}
