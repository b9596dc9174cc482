package loaders

// Resource is the CPU side of an asset, as read from disk.
type Resource struct {
	Name     string
	FullPath string
	DataSize uint64
	// Data is *ImageData for images and []byte for everything else.
	Data interface{}
}

type ImageData struct {
	Width  uint32
	Height uint32
	// Pixels holds Height rows of Width*4 bytes, RGBA8, no padding.
	Pixels []byte
}

func (d *ImageData) RowSize() int {
	return int(d.Width) * 4
}

// Row returns the pixels of row y.
func (d *ImageData) Row(y uint32) []byte {
	start := int(y) * d.RowSize()
	return d.Pixels[start : start+d.RowSize()]
}
