package engine

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	core.SetFatalHandler(core.PanicOnFatal)
	os.Exit(m.Run())
}

func testConfig(t *testing.T) core.Config {
	cfg := core.DefaultConfig()
	cfg.Log.Level = "error"
	cfg.Assets.Dir = t.TempDir()
	cfg.Assets.Watch = false
	return cfg
}

type counters struct {
	initialized, updates, renders, shutdowns int
}

func countingGame(c *counters) *Game {
	g := &Game{Name: "counting"}
	g.FnInitialize = func() error { c.initialized++; return nil }
	g.FnUpdate = func(time.Duration) error { c.updates++; return nil }
	g.FnRender = func(f *renderer.Frame) error {
		c.renders++
		ctx := f.Device.Graphics().BeginGraphics(nil)
		ctx.Draw(3, 0)
		ctx.Finish()
		return nil
	}
	g.FnShutdown = func() error { c.shutdowns++; return nil }
	return g
}

func TestEngineLifecycle(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Assets.Dir, "blob.bin"), []byte{1, 2, 3, 4}, 0o644))

	var c counters
	g := countingGame(&c)
	e, err := New(g, cfg)
	require.NoError(t, err)
	assert.Same(t, e.Renderer(), g.Renderer)
	assert.Same(t, e.Assets(), g.Assets)
	assert.Equal(t, EngineStageUninitialized, e.Stage())

	assert.Error(t, e.Run(1), "running before Initialize")

	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())
	e.jobSystem.Wait()
	require.NoError(t, e.Run(5))

	assert.Equal(t, counters{initialized: 1, updates: 5, renders: 5}, c)
	assert.Equal(t, uint64(5), e.Renderer().FrameNumber())
	// the first loop iteration dispatched the finished load
	assert.Equal(t, []string{"blob.bin"}, e.Assets().Names())

	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())
	assert.Equal(t, 1, c.shutdowns)
	assert.Equal(t, EngineStageShutdown, e.Stage())
}

func TestStopEndsRun(t *testing.T) {
	var c counters
	g := countingGame(&c)
	e, err := New(g, testConfig(t))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()

	g.FnUpdate = func(time.Duration) error {
		c.updates++
		if c.updates == 3 {
			e.Stop()
		}
		return nil
	}
	require.NoError(t, e.Run(0))
	assert.Equal(t, 3, c.renders)
}

func TestRenderErrorStopsRun(t *testing.T) {
	boom := errors.New("boom")
	g := &Game{FnRender: func(*renderer.Frame) error { return boom }}
	e, err := New(g, testConfig(t))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()

	assert.ErrorIs(t, e.Run(10), boom)
	assert.Equal(t, uint64(1), e.Renderer().FrameNumber())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Renderer.Backend = "dx12"
	_, err := New(&Game{}, cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
