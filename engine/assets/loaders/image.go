package loaders

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageLoader decodes png, jpeg, gif, bmp, tiff and webp files into RGBA8 pixels.
type ImageLoader struct {
	FlipY bool
}

func (il *ImageLoader) Load(path string) (*Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	data := toRGBA(img, il.FlipY)
	if data.Width == 0 || data.Height == 0 {
		return nil, fmt.Errorf("%s: empty %s image", path, format)
	}
	return &Resource{
		FullPath: path,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

func toRGBA(img image.Image, flipY bool) *ImageData {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	data := &ImageData{
		Width:  uint32(b.Dx()),
		Height: uint32(b.Dy()),
		Pixels: rgba.Pix[:b.Dx()*4*b.Dy()],
	}
	if flipY {
		flipped := make([]byte, len(data.Pixels))
		for y := uint32(0); y < data.Height; y++ {
			dst := int(data.Height-1-y) * data.RowSize()
			copy(flipped[dst:dst+data.RowSize()], data.Row(y))
		}
		data.Pixels = flipped
	}
	return data
}
