package loaders

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 7, A: 255})
		}
	}
	return img
}

func writeImage(t *testing.T, name string, encode func(f *os.File) error) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, encode(f))
	require.NoError(t, f.Close())
	return path
}

func TestImageLoaderDecodesIntoTightRGBA(t *testing.T) {
	src := gradient(3, 2)
	tests := []struct {
		name   string
		encode func(f *os.File) error
	}{
		{"pixels.png", func(f *os.File) error { return png.Encode(f, src) }},
		{"pixels.bmp", func(f *os.File) error { return bmp.Encode(f, src) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeImage(t, tt.name, tt.encode)
			res, err := (&ImageLoader{}).Load(path)
			require.NoError(t, err)

			data, ok := res.Data.(*ImageData)
			require.True(t, ok)
			assert.Equal(t, uint32(3), data.Width)
			assert.Equal(t, uint32(2), data.Height)
			assert.Len(t, data.Pixels, 3*2*4)
			assert.Equal(t, uint64(24), res.DataSize)
			// pixel (2, 1)
			assert.Equal(t, []byte{20, 10, 7, 255}, data.Row(1)[8:12])
		})
	}
}

func TestImageLoaderFlipsRows(t *testing.T) {
	path := writeImage(t, "flip.png", func(f *os.File) error { return png.Encode(f, gradient(2, 3)) })
	res, err := (&ImageLoader{FlipY: true}).Load(path)
	require.NoError(t, err)
	data := res.Data.(*ImageData)
	// the last source row (y=2) comes first
	assert.Equal(t, byte(20), data.Row(0)[1])
	assert.Equal(t, byte(0), data.Row(2)[1])
}

func TestImageLoaderRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))
	_, err := (&ImageLoader{}).Load(path)
	assert.Error(t, err)
}

func TestBinaryLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))
	res, err := (&BinaryLoader{}).Load(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, res.Data)
	assert.Equal(t, uint64(3), res.DataSize)

	_, err = (&BinaryLoader{}).Load(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}
