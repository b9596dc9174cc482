// Package gfx tracks GPU resource lifetimes and states across asynchronous hardware
// queues.
//
// Callers rent a context from a CommandQueue, record transitions and commands through
// a typed front-end, and Finish it for a SyncPoint. Anything the GPU may still read is
// reused only once its SyncPoint is satisfied: allocators through the queue pools,
// staging memory through the UploadQueue and everything else through a ReleaseQueue.
package gfx

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type DeviceOptions struct {
	// Queues lists the general purpose queues to create. Graphics when empty.
	Queues []driver.QueueKind
}

// Device bundles the queues, the upload queue and the descriptor heap created on one
// driver device.
type Device struct {
	hw          driver.Device
	queues      map[driver.QueueKind]*CommandQueue
	order       []driver.QueueKind
	upload      *UploadQueue
	descriptors *DescriptorManager
	garbage     *ReleaseQueue
	labels      *core.Labeler
}

func NewDevice(hw driver.Device, opts DeviceOptions) *Device {
	if len(opts.Queues) == 0 {
		opts.Queues = []driver.QueueKind{driver.QueueGraphics}
	}
	ids := core.NewSequence()
	d := &Device{
		hw:          hw,
		queues:      make(map[driver.QueueKind]*CommandQueue, len(opts.Queues)),
		descriptors: NewDescriptorManager(hw),
		garbage:     NewReleaseQueue(),
		labels:      core.NewLabeler("resource", nil),
	}
	for _, kind := range opts.Queues {
		if _, ok := d.queues[kind]; ok {
			continue
		}
		d.queues[kind] = NewCommandQueue(hw, kind, QueueOptions{Descriptors: d.descriptors, ContextIDs: ids})
		d.order = append(d.order, kind)
	}
	d.upload = NewUploadQueue(hw, QueueOptions{ContextIDs: ids})
	return d
}

func (d *Device) Driver() driver.Device                     { return d.hw }
func (d *Device) Upload() *UploadQueue                      { return d.upload }
func (d *Device) Descriptors() *DescriptorManager           { return d.descriptors }
func (d *Device) Queue(kind driver.QueueKind) *CommandQueue { return d.queues[kind] }

// Graphics is the graphics queue, or nil when the device was created without one.
func (d *Device) Graphics() *CommandQueue {
	return d.queues[driver.QueueGraphics]
}

// Compute prefers a dedicated compute queue and falls back to graphics.
func (d *Device) Compute() *CommandQueue {
	if q, ok := d.queues[driver.QueueCompute]; ok {
		return q
	}
	return d.Graphics()
}

// Queues returns the general purpose queues in creation order.
func (d *Device) Queues() []*CommandQueue {
	qs := make([]*CommandQueue, 0, len(d.order))
	for _, k := range d.order {
		qs = append(qs, d.queues[k])
	}
	return qs
}

func (d *Device) CreateBuffer(size uint64, flags driver.ResourceFlags, state driver.ResourceState, label string) *Resource {
	return d.CreateResource(driver.HeapDefault, driver.BufferDesc(size, flags), state, label)
}

func (d *Device) CreateTexture(desc driver.ResourceDesc, state driver.ResourceState, label string) *Resource {
	return d.CreateResource(driver.HeapDefault, desc, state, label)
}

func (d *Device) CreateResource(heap driver.HeapType, desc driver.ResourceDesc, state driver.ResourceState, label string) *Resource {
	label = d.labels.Label(label)
	alloc, err := d.hw.CreateCommittedResource(heap, desc, state)
	core.Check(err, "create resource %q", label)
	return NewResource(alloc, state, label)
}

// DeferRelease frees res once every given SyncPoint is satisfied.
func (d *Device) DeferRelease(res *Resource, waitFor ...SyncPoint) {
	d.garbage.Defer(res.Label(), res.Release, waitFor...)
}

// CollectGarbage releases deferred resources whose work completed, without blocking.
func (d *Device) CollectGarbage() int {
	return d.garbage.Collect()
}

// WaitIdle blocks until everything submitted to any queue completed.
func (d *Device) WaitIdle() {
	points := make([]SyncPoint, 0, len(d.order)+1)
	for _, q := range d.Queues() {
		points = append(points, q.QueueSyncPoint())
	}
	points = append(points, d.upload.Queue().QueueSyncPoint())
	for _, sp := range points {
		sp.Wait()
	}
}

// Shutdown drains every queue, frees deferred memory and releases the driver device.
func (d *Device) Shutdown() {
	d.WaitIdle()
	d.upload.Shutdown()
	for _, q := range d.Queues() {
		q.Shutdown()
	}
	if n := d.garbage.Flush(); n > 0 {
		core.LogDebug("released %d deferred resources at shutdown", n)
	}
	d.descriptors.Release()
	d.hw.Release()
}
