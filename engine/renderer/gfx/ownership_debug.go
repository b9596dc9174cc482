//go:build !release

package gfx

import (
	"sync/atomic"

	"github.com/spaghettifunk/kiln/engine/core"
)

// ownership records which context mutates a resource between two barrier flushes.
// Zero means unowned.
type ownership struct {
	owner atomic.Uint64
}

func (o *ownership) claim(contextID uint64, r *Resource) {
	if o.owner.CompareAndSwap(0, contextID) {
		return
	}
	if cur := o.owner.Load(); cur != contextID {
		core.ContractViolation("context %d claimed %q while context %d owns it", contextID, r.Label(), cur)
	}
}

func (o *ownership) release(contextID uint64, r *Resource) {
	if o.owner.CompareAndSwap(contextID, 0) {
		return
	}
	if cur := o.owner.Load(); cur != 0 {
		core.ContractViolation("context %d released %q owned by context %d", contextID, r.Label(), cur)
	}
}

func (o *ownership) current() uint64 {
	return o.owner.Load()
}
