package gfx

import (
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// Resource is a GPU allocation plus the state the CPU believes it is in. Only the
// CommandContext recording a transition changes the state.
type Resource struct {
	alloc driver.Allocation
	state driver.ResourceState
	owner ownership
}

// NewResource wraps an allocation whose current state is known.
func NewResource(alloc driver.Allocation, state driver.ResourceState, label string) *Resource {
	if label != "" {
		alloc.SetLabel(label)
	}
	return &Resource{alloc: alloc, state: state}
}

func (r *Resource) Allocation() driver.Allocation { return r.alloc }
func (r *Resource) Desc() driver.ResourceDesc     { return r.alloc.Desc() }
func (r *Resource) Label() string                 { return r.alloc.Label() }

func (r *Resource) State() driver.ResourceState {
	return r.state
}

// Release frees the allocation immediately. Use Device.DeferRelease while the GPU may
// still use it.
func (r *Resource) Release() {
	r.alloc.Release()
}

func (r *Resource) claimOwnership(contextID uint64) {
	r.owner.claim(contextID, r)
}

func (r *Resource) releaseOwnership(contextID uint64) {
	r.owner.release(contextID, r)
}
