package testbed

import (
	"encoding/binary"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/software"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	core.SetFatalHandler(core.PanicOnFatal)
	os.Exit(m.Run())
}

func TestTestbedFramesOnSoftware(t *testing.T) {
	for _, queues := range [][]string{{"graphics"}, {"graphics", "compute"}} {
		cfg := core.DefaultConfig()
		cfg.Log.Level = "error"
		cfg.Assets.Dir = t.TempDir()
		cfg.Assets.Watch = false
		cfg.Renderer.Queues = queues

		tg := NewTestGame(cfg)
		e, err := engine.New(tg.Game, cfg)
		require.NoError(t, err)
		require.NoError(t, e.Initialize())
		require.NoError(t, e.Run(12))

		hw := tg.Renderer.Device().Driver().(*software.Device)
		state := tg.state()
		state.lastDraw.Wait()

		histogram := hw.Contents(state.histogram.Allocation())
		require.Len(t, histogram, histogramBins*4)
		total := uint32(0)
		for b := 0; b < histogramBins; b++ {
			total += binary.LittleEndian.Uint32(histogram[b*4:])
		}
		assert.Equal(t, uint32(particleCount), total, "queues %v", queues)

		require.NoError(t, e.Shutdown())
		assert.Empty(t, hw.ValidationErrors(), "queues %v", queues)
		assert.Zero(t, hw.LiveObjects(), "queues %v", queues)
	}
}
