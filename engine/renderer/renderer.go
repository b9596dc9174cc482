package renderer

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/gfx"
)

// Frame is handed out by BeginFrame and returned through EndFrame.
type Frame struct {
	// Number counts frames from 0.
	Number uint64
	// Index is the frame-in-flight slot, Number modulo the slot count. Per-frame
	// buffers indexed by it are free for reuse once BeginFrame returns.
	Index  int
	Delta  time.Duration
	Device *gfx.Device

	tracked []gfx.SyncPoint
}

// Track adds work the next reuse of this frame slot must wait for, beyond what was
// submitted to the device queues before EndFrame.
func (f *Frame) Track(points ...gfx.SyncPoint) {
	f.tracked = append(f.tracked, points...)
}

// Renderer paces the CPU against the GPU: at most FramesInFlight frames are
// recorded ahead of the oldest unfinished one.
type Renderer struct {
	config  core.Config
	backend string
	device  *gfx.Device

	slots       [][]gfx.SyncPoint
	frameNumber uint64
	current     *Frame
	lastBegin   time.Time
	isShutdown  bool
}

func New(cfg core.Config) (*Renderer, error) {
	if cfg.Renderer.FramesInFlight < 1 {
		return nil, fmt.Errorf("%w: frames_in_flight must be at least 1", core.ErrInvalidConfig)
	}
	kinds := make([]driver.QueueKind, 0, len(cfg.Renderer.Queues))
	for _, name := range cfg.Renderer.Queues {
		kind, err := driver.ParseQueueKind(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
		}
		kinds = append(kinds, kind)
	}

	open, err := lookupBackend(cfg.Renderer.Backend)
	if err != nil {
		return nil, err
	}
	hw, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Renderer.Backend, err)
	}

	r := &Renderer{
		config:  cfg,
		backend: cfg.Renderer.Backend,
		device:  gfx.NewDevice(hw, gfx.DeviceOptions{Queues: kinds}),
		slots:   make([][]gfx.SyncPoint, cfg.Renderer.FramesInFlight),
	}
	core.LogInfo("Renderer initialized: backend %s, device %q, %d frames in flight.",
		r.backend, hw.Name(), len(r.slots))
	return r, nil
}

func (r *Renderer) Device() *gfx.Device { return r.device }
func (r *Renderer) Backend() string     { return r.backend }
func (r *Renderer) FramesInFlight() int { return len(r.slots) }
func (r *Renderer) FrameNumber() uint64 { return r.frameNumber }

// BeginFrame blocks until the GPU finished the frame that last used the next slot,
// then sweeps finished uploads and deferred releases.
func (r *Renderer) BeginFrame() *Frame {
	core.Assert(!r.isShutdown, "BeginFrame after Shutdown")
	core.Assert(r.current == nil, "BeginFrame called twice without EndFrame (frame %d)", r.frameNumber)

	index := int(r.frameNumber % uint64(len(r.slots)))
	for _, sp := range r.slots[index] {
		sp.Wait()
	}
	r.slots[index] = r.slots[index][:0]

	if n := r.device.Upload().Cleanup(); n > 0 {
		core.LogDebug("frame %d: released %d staging buffers", r.frameNumber, n)
	}
	if n := r.device.CollectGarbage(); n > 0 {
		core.LogDebug("frame %d: released %d deferred resources", r.frameNumber, n)
	}

	now := time.Now()
	var delta time.Duration
	if !r.lastBegin.IsZero() {
		delta = now.Sub(r.lastBegin)
	}
	r.lastBegin = now

	r.current = &Frame{
		Number: r.frameNumber,
		Index:  index,
		Delta:  delta,
		Device: r.device,
	}
	return r.current
}

// EndFrame closes frame f. Everything submitted to the device queues so far, plus the
// points passed to Track, gates the reuse of its slot.
func (r *Renderer) EndFrame(f *Frame) {
	if f == nil || f != r.current {
		core.ContractViolation("EndFrame with a frame that is not current")
		return
	}
	slot := r.slots[f.Index][:0]
	for _, q := range r.device.Queues() {
		slot = append(slot, q.QueueSyncPoint())
	}
	slot = append(slot, f.tracked...)
	r.slots[f.Index] = slot

	r.current = nil
	r.frameNumber++
}

// Stats gathers the statistics of every queue, upload queue included.
func (r *Renderer) Stats() map[string]gfx.QueueStats {
	stats := make(map[string]gfx.QueueStats)
	for _, q := range r.device.Queues() {
		stats[q.Name()] = q.Stats()
	}
	u := r.device.Upload().Queue()
	stats[u.Name()] = u.Stats()
	return stats
}

func (r *Renderer) Shutdown() error {
	if r.isShutdown {
		return nil
	}
	if r.current != nil {
		core.LogWarn("renderer shut down in the middle of frame %d", r.current.Number)
		r.EndFrame(r.current)
	}
	for _, slot := range r.slots {
		for _, sp := range slot {
			sp.Wait()
		}
	}
	r.device.Shutdown()
	r.isShutdown = true
	core.LogInfo("Renderer shut down after %d frames.", r.frameNumber)
	return nil
}
