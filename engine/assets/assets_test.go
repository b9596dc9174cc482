package assets

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/gfx"
	"github.com/spaghettifunk/kiln/engine/renderer/software"
	"github.com/spaghettifunk/kiln/engine/systems"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	core.SetFatalHandler(core.PanicOnFatal)
	os.Exit(m.Run())
}

type fixture struct {
	hw   *software.Device
	dev  *gfx.Device
	jobs *systems.JobSystem
	am   *AssetManager
	dir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hw := software.New(software.Options{Name: t.Name(), Validation: true})
	dev := gfx.NewDevice(hw, gfx.DeviceOptions{})
	jobs, err := systems.NewJobSystem(2, 4)
	require.NoError(t, err)
	am, err := NewAssetManager(dev, jobs)
	require.NoError(t, err)

	f := &fixture{hw: hw, dev: dev, jobs: jobs, am: am, dir: t.TempDir()}
	t.Cleanup(func() {
		require.NoError(t, am.Shutdown())
		require.NoError(t, jobs.Shutdown())
		dev.Shutdown()
		assert.Zero(t, hw.LiveObjects())
		assert.Empty(t, hw.ValidationErrors())
	})
	return f
}

func (f *fixture) write(t *testing.T, name string, data []byte) {
	t.Helper()
	path := filepath.Join(f.dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// settle runs finished loads to completion on the test goroutine.
func (f *fixture) settle() {
	f.jobs.Wait()
	f.jobs.Update()
}

func (f *fixture) contents(t *testing.T, name string) []byte {
	t.Helper()
	a, ok := f.am.Get(name)
	require.True(t, ok, "asset %s not loaded", name)
	a.SyncPoint.Wait()
	return f.hw.Contents(a.Resource.Allocation())
}

func encodePNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDetermineAssetType(t *testing.T) {
	tests := map[string]AssetType{
		"a/b.png":      AssetTypeImage,
		"c.webp":       AssetTypeImage,
		"d.tiff":       AssetTypeImage,
		"kernel.spv":   AssetTypeBinary,
		"mesh.bin":     AssetTypeBinary,
		"readme.md":    AssetTypeNone,
		"no-extension": AssetTypeNone,
	}
	for path, want := range tests {
		assert.Equal(t, want, determineAssetType(path), path)
	}
}

func TestInitializeUploadsDirectory(t *testing.T) {
	f := newFixture(t)
	f.write(t, "textures/red.png", encodePNG(t, 3, 2, color.NRGBA{R: 255, A: 255}))
	f.write(t, "data/blob.bin", []byte{9, 8, 7, 6, 5})
	f.write(t, "notes.txt", []byte("ignored"))

	require.NoError(t, f.am.Initialize(f.dir, false))
	f.settle()

	assert.Equal(t, []string{"data/blob.bin", "textures/red.png"}, f.am.Names())

	tex, ok := f.am.Get("textures/red.png")
	require.True(t, ok)
	assert.Equal(t, AssetTypeImage, tex.Type)
	assert.Equal(t, uint32(1), tex.Generation)
	desc := tex.Resource.Desc()
	assert.Equal(t, driver.DimensionTexture2D, desc.Dimension)
	assert.Equal(t, driver.FormatRGBA8Unorm, desc.Format)
	assert.Equal(t, uint64(3), desc.Width)
	assert.Equal(t, uint32(2), desc.Height)
	assert.Equal(t, bytes.Repeat([]byte{255, 0, 0, 255}, 6), f.contents(t, "textures/red.png"))

	assert.Equal(t, []byte{9, 8, 7, 6, 5}, f.contents(t, "data/blob.bin"))
}

func TestBrokenFilesAreSkipped(t *testing.T) {
	f := newFixture(t)
	f.write(t, "broken.png", []byte("definitely not a png"))
	f.write(t, "empty.bin", nil)

	require.NoError(t, f.am.Initialize(f.dir, false))
	f.settle()
	assert.Empty(t, f.am.Names())
}

func TestReloadReplacesAndRetiresPrevious(t *testing.T) {
	f := newFixture(t)
	f.write(t, "blob.bin", []byte{1})
	require.NoError(t, f.am.Initialize(f.dir, false))
	f.settle()
	first, ok := f.am.Get("blob.bin")
	require.True(t, ok)

	f.write(t, "blob.bin", []byte{2, 2})
	require.NoError(t, f.am.Load(filepath.Join(f.dir, "blob.bin")))
	f.settle()

	second, ok := f.am.Get("blob.bin")
	require.True(t, ok)
	assert.Equal(t, uint32(2), second.Generation)
	assert.NotSame(t, first.Resource, second.Resource)
	assert.Equal(t, []byte{2, 2}, f.contents(t, "blob.bin"))

	f.dev.WaitIdle()
	assert.Equal(t, 1, f.dev.CollectGarbage(), "the first upload is released once idle")
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.write(t, "blob.bin", []byte{1})
	require.NoError(t, f.am.Initialize(f.dir, false))
	// a second request before the first one's callback ran
	f.write(t, "blob.bin", []byte{3, 3, 3})
	require.NoError(t, f.am.Load(filepath.Join(f.dir, "blob.bin")))
	f.settle()

	a, ok := f.am.Get("blob.bin")
	require.True(t, ok)
	assert.Equal(t, uint32(2), a.Generation)
	assert.Equal(t, []byte{3, 3, 3}, f.contents(t, "blob.bin"))
}

func TestWatchReloadsChangedFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, "live/value.bin", []byte{1, 1})
	require.NoError(t, f.am.Initialize(f.dir, true))
	f.settle()
	require.Equal(t, []byte{1, 1}, f.contents(t, "live/value.bin"))

	f.write(t, "live/value.bin", []byte{4, 4, 4, 4})
	require.Eventually(t, func() bool {
		f.jobs.Update()
		a, ok := f.am.Get("live/value.bin")
		if !ok {
			return false
		}
		a.SyncPoint.Wait()
		return bytes.Equal(f.hw.Contents(a.Resource.Allocation()), []byte{4, 4, 4, 4})
	}, 5*time.Second, 10*time.Millisecond)

	f.write(t, "fresh/new.bin", []byte{5})
	require.Eventually(t, func() bool {
		f.jobs.Update()
		_, ok := f.am.Get("fresh/new.bin")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(f.dir, "live", "value.bin")))
	require.Eventually(t, func() bool {
		f.jobs.Update()
		_, ok := f.am.Get("live/value.bin")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLoadAfterShutdown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.am.Initialize(f.dir, false))
	require.NoError(t, f.am.Shutdown())
	f.write(t, "late.bin", []byte{1})
	assert.ErrorIs(t, f.am.Load(filepath.Join(f.dir, "late.bin")), ErrAssetManagerClosed)
}
