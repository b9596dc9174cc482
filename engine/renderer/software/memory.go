package software

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// Allocation is plain Go memory. Textures are stored tightly packed, rows of
// Width*BytesPerPixel bytes.
type Allocation struct {
	dev  *Device
	desc driver.ResourceDesc
	heap driver.HeapType
	data []byte

	mu    sync.Mutex
	label string
	// state as seen by the GPU timeline, only maintained for validation
	state driver.ResourceState

	mapped   atomic.Int32
	released atomic.Bool
}

func (a *Allocation) Desc() driver.ResourceDesc { return a.desc }
func (a *Allocation) Heap() driver.HeapType     { return a.heap }
func (a *Allocation) Size() uint64              { return uint64(len(a.data)) }

func (a *Allocation) Map() ([]byte, error) {
	if !a.heap.Mappable() {
		return nil, fmt.Errorf("software: map %q in %s heap: %w", a.Label(), a.heap, core.ErrNotMappable)
	}
	if a.released.Load() {
		return nil, fmt.Errorf("software: map released %q: %w", a.Label(), core.ErrContractViolation)
	}
	a.mapped.Add(1)
	return a.data, nil
}

func (a *Allocation) Unmap() {
	if a.mapped.Add(-1) < 0 {
		a.mapped.Store(0)
		a.dev.report("unmap of %q without a matching map", a.Label())
	}
}

// Mapped reports whether a Map is outstanding.
func (a *Allocation) Mapped() bool {
	return a.mapped.Load() > 0
}

func (a *Allocation) SetLabel(label string) {
	a.mu.Lock()
	a.label = label
	a.mu.Unlock()
}

func (a *Allocation) Label() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.label
}

func (a *Allocation) Release() {
	if a.released.CompareAndSwap(false, true) {
		a.dev.live.Add(-1)
	}
}

func (a *Allocation) Released() bool {
	return a.released.Load()
}

// transition applies a barrier on the GPU timeline.
func (a *Allocation) transition(before, after driver.ResourceState) {
	a.mu.Lock()
	current := a.state
	a.state = after
	label := a.label
	a.mu.Unlock()
	if current != before {
		a.dev.report("barrier on %q expects %s but the resource is in %s", label, before, current)
	}
}

// expect checks a default-heap resource is in one of the wanted states when a command
// touches it. Common promotes implicitly to any of them. Upload and readback memory has
// no state to track.
func (a *Allocation) expect(want driver.ResourceState, op string) {
	if a.heap != driver.HeapDefault {
		return
	}
	if a.released.Load() {
		a.dev.report("%s uses released resource %q", op, a.Label())
		return
	}
	a.mu.Lock()
	current := a.state
	label := a.label
	a.mu.Unlock()
	if current != driver.StateCommon && current&want == 0 {
		a.dev.report("%s needs %q in %s but it is in %s", op, label, want, current)
	}
}
