package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyableLayoutBuffer(t *testing.T) {
	l := ComputeCopyableLayout(BufferDesc(1000, ResourceFlagNone))
	assert.Equal(t, uint32(1), l.NumRows)
	assert.Equal(t, uint64(1000), l.RowSizeInBytes)
	assert.Equal(t, uint64(1000), l.TotalBytes)
}

func TestCopyableLayoutTexturePadsRows(t *testing.T) {
	tests := []struct {
		name   string
		width  uint32
		height uint32
		format Format
		pitch  uint32
		total  uint64
	}{
		{"aligned", 64, 4, FormatRGBA8Unorm, 256, 256 * 4},
		{"padded", 3, 2, FormatRGBA8Unorm, 256, 256 + 12},
		{"single byte texels", 300, 3, FormatR8Unorm, 512, 512*2 + 300},
		{"single row", 10, 1, FormatRGBA32Float, 256, 160},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := ComputeCopyableLayout(Texture2DDesc(tt.width, tt.height, tt.format, ResourceFlagNone))
			assert.Equal(t, tt.pitch, l.Footprint.RowPitch)
			assert.Equal(t, tt.height, l.NumRows)
			assert.Equal(t, uint64(tt.width*tt.format.BytesPerPixel()), l.RowSizeInBytes)
			assert.Equal(t, tt.total, l.TotalBytes)
			assert.Zero(t, l.Footprint.RowPitch%TextureRowPitchAlignment)
		})
	}
}

func TestResourceDescValidate(t *testing.T) {
	require.NoError(t, BufferDesc(16, ResourceFlagNone).Validate())
	require.NoError(t, Texture2DDesc(4, 4, FormatRGBA8Unorm, ResourceFlagAllowUnorderedAccess).Validate())

	assert.Error(t, BufferDesc(0, ResourceFlagNone).Validate())
	assert.Error(t, Texture2DDesc(4, 4, FormatUnknown, ResourceFlagNone).Validate())
	assert.Error(t, Texture2DDesc(1<<15, 4, FormatR8Unorm, ResourceFlagNone).Validate())
	assert.Error(t, ResourceDesc{Dimension: DimensionBuffer, Width: 4, Height: 2}.Validate())
}

func TestResourceStateString(t *testing.T) {
	assert.Equal(t, "Common", StateCommon.String())
	assert.Equal(t, "CopyDest", StateCopyDest.String())
	assert.Equal(t, "NonPixelShaderResource|PixelShaderResource", StateShaderResource.String())
	assert.True(t, StateUnorderedAccess.IsWrite())
	assert.False(t, StateGenericRead.IsWrite())
}

func TestParseQueueKind(t *testing.T) {
	k, err := ParseQueueKind("Compute")
	require.NoError(t, err)
	assert.Equal(t, QueueCompute, k)
	assert.True(t, k.SupportsCompute())
	assert.False(t, k.SupportsGraphics())

	_, err = ParseQueueKind("video")
	assert.Error(t, err)
	assert.False(t, QueueCopy.SupportsCompute())
}

func TestViewElementSize(t *testing.T) {
	assert.Equal(t, uint64(16), BufferView(ViewShaderResource, 0, 4, 16).ElementSize())
	assert.Equal(t, uint64(4), TextureView(ViewShaderResource, FormatRGBA8Unorm).ElementSize())
	assert.Equal(t, uint64(1), BufferView(ViewUnorderedAccess, 0, 64, 0).ElementSize())
}
