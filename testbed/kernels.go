package testbed

import (
	"math"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/software"
)

// advanceKernel moves every particle along [0, 1) at its own speed.
// Table 0: constants (frame, delta seconds), particle positions.
func advanceKernel(k *software.KernelContext) {
	constants, err := k.Descriptor(0, 0)
	if err != nil {
		core.LogError("advance: %s", err)
		return
	}
	particles, err := k.Descriptor(0, 1)
	if err != nil {
		core.LogError("advance: %s", err)
		return
	}
	dt := constants.Float32(1)
	for i := 0; i < particles.Len32(); i++ {
		speed := 0.05 + 0.2*float32(i%7)/7
		x := particles.Float32(i) + dt*speed
		particles.SetFloat32(i, x-float32(math.Floor(float64(x))))
	}
}

// splatKernel counts the particles falling in each histogram bin.
// Constants 0: particles slot, histogram slot, bin count.
func splatKernel(k *software.KernelContext) {
	c := k.Constants(0)
	particles, err := k.Slot(c[0])
	if err != nil {
		core.LogError("splat: %s", err)
		return
	}
	histogram, err := k.Slot(c[1])
	if err != nil {
		core.LogError("splat: %s", err)
		return
	}
	bins := c[2]
	for b := 0; b < int(bins); b++ {
		histogram.SetUint32(b, 0)
	}
	n := int(k.Draw.VertexCount)
	if n > particles.Len32() {
		n = particles.Len32()
	}
	for i := 0; i < n; i++ {
		bin := uint32(particles.Float32(i) * float32(bins))
		if bin >= bins {
			bin = bins - 1
		}
		histogram.SetUint32(int(bin), histogram.Uint32(int(bin))+1)
	}
}
