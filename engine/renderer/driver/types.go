package driver

import (
	"fmt"
	"strings"
)

type QueueKind uint8

const (
	QueueGraphics QueueKind = iota
	QueueCompute
	QueueCopy
)

func (k QueueKind) String() string {
	switch k {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueCopy:
		return "copy"
	}
	return fmt.Sprintf("QueueKind(%d)", uint8(k))
}

// ParseQueueKind maps a configuration name to a kind.
func ParseQueueKind(name string) (QueueKind, error) {
	switch strings.ToLower(name) {
	case "graphics":
		return QueueGraphics, nil
	case "compute":
		return QueueCompute, nil
	case "copy":
		return QueueCopy, nil
	}
	return 0, fmt.Errorf("unknown queue kind %q", name)
}

// SupportsCompute is true for queues that accept dispatches.
func (k QueueKind) SupportsCompute() bool {
	return k == QueueGraphics || k == QueueCompute
}

func (k QueueKind) SupportsGraphics() bool {
	return k == QueueGraphics
}

// ResourceState is the set of usages a resource is currently prepared for.
type ResourceState uint32

const (
	StateCommon                  ResourceState = 0
	StateVertexAndConstantBuffer ResourceState = 1 << 0
	StateIndexBuffer             ResourceState = 1 << 1
	StateRenderTarget            ResourceState = 1 << 2
	StateUnorderedAccess         ResourceState = 1 << 3
	StateDepthWrite              ResourceState = 1 << 4
	StateDepthRead               ResourceState = 1 << 5
	StateNonPixelShaderResource  ResourceState = 1 << 6
	StatePixelShaderResource     ResourceState = 1 << 7
	StateIndirectArgument        ResourceState = 1 << 9
	StateCopyDest                ResourceState = 1 << 10
	StateCopySource              ResourceState = 1 << 11

	StatePresent        = StateCommon
	StateShaderResource = StateNonPixelShaderResource | StatePixelShaderResource
	StateGenericRead    = StateVertexAndConstantBuffer | StateIndexBuffer | StateNonPixelShaderResource |
		StatePixelShaderResource | StateIndirectArgument | StateCopySource
)

var stateNames = []struct {
	state ResourceState
	name  string
}{
	{StateVertexAndConstantBuffer, "VertexAndConstantBuffer"},
	{StateIndexBuffer, "IndexBuffer"},
	{StateRenderTarget, "RenderTarget"},
	{StateUnorderedAccess, "UnorderedAccess"},
	{StateDepthWrite, "DepthWrite"},
	{StateDepthRead, "DepthRead"},
	{StateNonPixelShaderResource, "NonPixelShaderResource"},
	{StatePixelShaderResource, "PixelShaderResource"},
	{StateIndirectArgument, "IndirectArgument"},
	{StateCopyDest, "CopyDest"},
	{StateCopySource, "CopySource"},
}

func (s ResourceState) String() string {
	if s == StateCommon {
		return "Common"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.state != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// IsWrite reports whether the state allows the GPU to write the resource.
func (s ResourceState) IsWrite() bool {
	return s&(StateRenderTarget|StateUnorderedAccess|StateDepthWrite|StateCopyDest) != 0
}

type HeapType uint8

const (
	// HeapDefault is device-local memory, not mappable.
	HeapDefault HeapType = iota
	// HeapUpload is CPU-writable memory used for staging.
	HeapUpload
	HeapReadback
)

func (h HeapType) String() string {
	switch h {
	case HeapDefault:
		return "default"
	case HeapUpload:
		return "upload"
	case HeapReadback:
		return "readback"
	}
	return fmt.Sprintf("HeapType(%d)", uint8(h))
}

func (h HeapType) Mappable() bool {
	return h == HeapUpload || h == HeapReadback
}

type Dimension uint8

const (
	DimensionBuffer Dimension = iota
	DimensionTexture2D
)

type Format uint8

const (
	FormatUnknown Format = iota
	FormatR8Unorm
	FormatRG8Unorm
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatR16Float
	FormatR32Uint
	FormatR32Float
	FormatRGBA16Float
	FormatRGBA32Float
	FormatD32Float
)

// BytesPerPixel returns 0 for FormatUnknown.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatRG8Unorm, FormatR16Float:
		return 2
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatR32Uint, FormatR32Float, FormatD32Float:
		return 4
	case FormatRGBA16Float:
		return 8
	case FormatRGBA32Float:
		return 16
	}
	return 0
}

func (f Format) String() string {
	switch f {
	case FormatR8Unorm:
		return "R8Unorm"
	case FormatRG8Unorm:
		return "RG8Unorm"
	case FormatRGBA8Unorm:
		return "RGBA8Unorm"
	case FormatBGRA8Unorm:
		return "BGRA8Unorm"
	case FormatR16Float:
		return "R16Float"
	case FormatR32Uint:
		return "R32Uint"
	case FormatR32Float:
		return "R32Float"
	case FormatRGBA16Float:
		return "RGBA16Float"
	case FormatRGBA32Float:
		return "RGBA32Float"
	case FormatD32Float:
		return "D32Float"
	}
	return "Unknown"
}

type ResourceFlags uint8

const (
	ResourceFlagNone                 ResourceFlags = 0
	ResourceFlagAllowRenderTarget    ResourceFlags = 1 << 0
	ResourceFlagAllowDepthStencil    ResourceFlags = 1 << 1
	ResourceFlagAllowUnorderedAccess ResourceFlags = 1 << 2
)

// ResourceDesc describes a buffer or a 2D texture. For buffers Width is the size in
// bytes and Height is 1.
type ResourceDesc struct {
	Dimension Dimension
	Width     uint64
	Height    uint32
	Format    Format
	Flags     ResourceFlags
}

func BufferDesc(size uint64, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{Dimension: DimensionBuffer, Width: size, Height: 1, Flags: flags}
}

func Texture2DDesc(width, height uint32, format Format, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{Dimension: DimensionTexture2D, Width: uint64(width), Height: height, Format: format, Flags: flags}
}

func (d ResourceDesc) IsBuffer() bool {
	return d.Dimension == DimensionBuffer
}

func (d ResourceDesc) Validate() error {
	if d.Width == 0 || d.Height == 0 {
		return fmt.Errorf("resource has zero extent %dx%d", d.Width, d.Height)
	}
	switch d.Dimension {
	case DimensionBuffer:
		if d.Height != 1 {
			return fmt.Errorf("buffer height must be 1, got %d", d.Height)
		}
	case DimensionTexture2D:
		if d.Format.BytesPerPixel() == 0 {
			return fmt.Errorf("texture format %s has no texel size", d.Format)
		}
		if d.Width > 1<<14 || d.Height > 1<<14 {
			return fmt.Errorf("texture %dx%d exceeds 16384", d.Width, d.Height)
		}
	default:
		return fmt.Errorf("unknown dimension %d", d.Dimension)
	}
	return nil
}

type BarrierType uint8

const (
	BarrierTransition BarrierType = iota
	// BarrierUAV orders unordered-access writes without changing state.
	BarrierUAV
)

type Barrier struct {
	Type     BarrierType
	Resource Allocation
	Before   ResourceState
	After    ResourceState
}

func TransitionBarrier(res Allocation, before, after ResourceState) Barrier {
	return Barrier{Type: BarrierTransition, Resource: res, Before: before, After: after}
}

func UAVBarrier(res Allocation) Barrier {
	return Barrier{Type: BarrierUAV, Resource: res}
}

type ViewType uint8

const (
	ViewConstantBuffer ViewType = iota
	ViewShaderResource
	ViewUnorderedAccess
)

func (v ViewType) String() string {
	switch v {
	case ViewConstantBuffer:
		return "CBV"
	case ViewShaderResource:
		return "SRV"
	case ViewUnorderedAccess:
		return "UAV"
	}
	return fmt.Sprintf("ViewType(%d)", uint8(v))
}

// ViewDesc describes how a shader sees a resource. Buffer views use the element
// range; StructureByteStride of 0 means a raw byte view.
type ViewDesc struct {
	Type                ViewType
	Format              Format
	FirstElement        uint64
	NumElements         uint32
	StructureByteStride uint32
}

func BufferView(kind ViewType, first uint64, count, stride uint32) ViewDesc {
	return ViewDesc{Type: kind, FirstElement: first, NumElements: count, StructureByteStride: stride}
}

func TextureView(kind ViewType, format Format) ViewDesc {
	return ViewDesc{Type: kind, Format: format}
}

// ElementSize is the stride in bytes of one addressed element.
func (v ViewDesc) ElementSize() uint64 {
	if v.StructureByteStride != 0 {
		return uint64(v.StructureByteStride)
	}
	if bpp := v.Format.BytesPerPixel(); bpp != 0 {
		return uint64(bpp)
	}
	return 1
}
