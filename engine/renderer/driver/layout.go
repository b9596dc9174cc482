package driver

import (
	"github.com/spaghettifunk/kiln/engine/math"
)

// TextureRowPitchAlignment is the row alignment required for buffer to texture copies.
const TextureRowPitchAlignment = 256

// Footprint places one subresource inside a linear buffer.
type Footprint struct {
	Offset   uint64
	Format   Format
	Width    uint32
	Height   uint32
	RowPitch uint32
}

// CopyableLayout is what a CPU writer needs to fill a staging buffer.
type CopyableLayout struct {
	Footprint      Footprint
	NumRows        uint32
	RowSizeInBytes uint64
	TotalBytes     uint64
}

// ComputeCopyableLayout is the layout both drivers use. Buffers are a single row with
// no padding; texture rows are padded to TextureRowPitchAlignment.
func ComputeCopyableLayout(desc ResourceDesc) CopyableLayout {
	if desc.IsBuffer() {
		return CopyableLayout{
			Footprint: Footprint{
				Width:    uint32(desc.Width),
				Height:   1,
				RowPitch: uint32(desc.Width),
			},
			NumRows:        1,
			RowSizeInBytes: desc.Width,
			TotalBytes:     desc.Width,
		}
	}
	rowSize := desc.Width * uint64(desc.Format.BytesPerPixel())
	pitch := math.AlignUp(rowSize, TextureRowPitchAlignment)
	return CopyableLayout{
		Footprint: Footprint{
			Format:   desc.Format,
			Width:    uint32(desc.Width),
			Height:   desc.Height,
			RowPitch: uint32(pitch),
		},
		NumRows:        desc.Height,
		RowSizeInBytes: rowSize,
		// the last row is not padded
		TotalBytes: pitch*uint64(desc.Height-1) + rowSize,
	}
}
