package renderer

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/software"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	core.SetFatalHandler(core.PanicOnFatal)
	os.Exit(m.Run())
}

func testConfig(frames int) core.Config {
	cfg := core.DefaultConfig()
	cfg.Renderer.Backend = core.BackendSoftware
	cfg.Renderer.FramesInFlight = frames
	return cfg
}

func newTestRenderer(t *testing.T, frames int) (*Renderer, *software.Device) {
	t.Helper()
	r, err := New(testConfig(frames))
	require.NoError(t, err)
	hw, ok := r.Device().Driver().(*software.Device)
	require.True(t, ok)
	t.Cleanup(func() {
		hw.Resume()
		require.NoError(t, r.Shutdown())
	})
	return r, hw
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*core.Config)
		err    error
	}{
		{"unknown backend", func(c *core.Config) { c.Renderer.Backend = "metal" }, core.ErrUnsupported},
		{"zero frames", func(c *core.Config) { c.Renderer.FramesInFlight = 0 }, core.ErrInvalidConfig},
		{"unknown queue", func(c *core.Config) { c.Renderer.Queues = []string{"video"} }, core.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(2)
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRegisteredBackendErrorsAreWrapped(t *testing.T) {
	boom := errors.New("no adapter")
	RegisterBackend("broken", func(core.Config) (driver.Device, error) { return nil, boom })
	assert.Contains(t, Backends(), "broken")
	assert.Contains(t, Backends(), core.BackendSoftware)

	cfg := testConfig(2)
	cfg.Renderer.Backend = "broken"
	_, err := New(cfg)
	assert.ErrorIs(t, err, boom)
}

func TestFramesCycleThroughSlots(t *testing.T) {
	r, _ := newTestRenderer(t, 3)
	assert.Equal(t, core.BackendSoftware, r.Backend())
	assert.Equal(t, 3, r.FramesInFlight())
	assert.Len(t, r.Device().Queues(), 2)

	for i := 0; i < 7; i++ {
		f := r.BeginFrame()
		assert.Equal(t, uint64(i), f.Number)
		assert.Equal(t, i%3, f.Index)
		ctx := f.Device.Compute().BeginCompute(nil)
		ctx.Dispatch(1, 1, 1)
		ctx.Finish()
		r.EndFrame(f)
	}
	assert.Equal(t, uint64(7), r.FrameNumber())

	stats := r.Stats()
	require.Contains(t, stats, "compute")
	assert.Equal(t, uint64(7), stats["compute"].Submissions)
	assert.Contains(t, stats, "upload")
}

func TestBeginFrameWaitsForReusedSlot(t *testing.T) {
	r, hw := newTestRenderer(t, 2)

	hw.Suspend()
	for i := 0; i < 2; i++ {
		f := r.BeginFrame()
		f.Device.Graphics().BeginGraphics(nil).Finish()
		r.EndFrame(f)
	}

	begun := make(chan *Frame)
	go func() { begun <- r.BeginFrame() }()

	select {
	case <-begun:
		t.Fatal("frame 2 began while frame 0 was still executing")
	case <-time.After(50 * time.Millisecond):
	}

	hw.Resume()
	select {
	case f := <-begun:
		assert.Equal(t, uint64(2), f.Number)
		assert.Equal(t, 0, f.Index)
		r.EndFrame(f)
	case <-time.After(5 * time.Second):
		t.Fatal("frame 2 never began")
	}
}

func TestTrackedWorkGatesSlot(t *testing.T) {
	r, hw := newTestRenderer(t, 1)

	p := r.Device().Upload().AllocateBuffer(8, "frame-constants")
	copy(p.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8})

	hw.Suspend()
	f := r.BeginFrame()
	up := p.InitiateUpload()
	f.Track(up.SyncPoint)
	r.EndFrame(f)
	assert.False(t, up.SyncPoint.Poll())

	go func() {
		time.Sleep(20 * time.Millisecond)
		hw.Resume()
	}()
	f = r.BeginFrame()
	assert.True(t, up.SyncPoint.Poll())
	assert.Zero(t, r.Device().Upload().PendingStaging())
	r.EndFrame(f)

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, hw.Contents(up.Resource.Allocation()))
	r.Device().DeferRelease(up.Resource)
}

func TestShutdownReleasesDevice(t *testing.T) {
	r, err := New(testConfig(2))
	require.NoError(t, err)
	hw := r.Device().Driver().(*software.Device)

	f := r.BeginFrame()
	buf := f.Device.CreateBuffer(64, driver.ResourceFlagNone, driver.StateCommon, "scratch")
	f.Device.DeferRelease(buf)
	// left open on purpose, Shutdown closes it

	require.NoError(t, r.Shutdown())
	require.NoError(t, r.Shutdown())
	assert.Zero(t, hw.LiveObjects())
	assert.Empty(t, hw.ValidationErrors())
}

func TestEndFrameWithStaleFrame(t *testing.T) {
	if !core.DebugChecks {
		t.Skip("contract violations are logged in release builds")
	}
	r, _ := newTestRenderer(t, 2)
	f := r.BeginFrame()
	r.EndFrame(f)
	assert.Panics(t, func() { r.EndFrame(f) })
}
