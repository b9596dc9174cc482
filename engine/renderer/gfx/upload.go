package gfx

import (
	"runtime"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// UploadQueue moves CPU data into default-heap resources on a copy queue and frees
// the staging memory once each copy completed.
type UploadQueue struct {
	queue   *CommandQueue
	device  driver.Device
	staging *ReleaseQueue
	labels  *core.Labeler
}

func NewUploadQueue(device driver.Device, opts QueueOptions) *UploadQueue {
	if opts.Name == "" {
		opts.Name = "upload"
	}
	return &UploadQueue{
		queue:   NewCommandQueue(device, driver.QueueCopy, opts),
		device:  device,
		staging: NewReleaseQueue(),
		labels:  core.NewLabeler("upload", nil),
	}
}

func (u *UploadQueue) Queue() *CommandQueue { return u.queue }

// PendingStaging is the number of staging buffers still waiting for their copy.
func (u *UploadQueue) PendingStaging() int {
	return u.staging.Len()
}

// AllocateResource creates the destination in the common state and a mapped staging
// buffer laid out for it.
func (u *UploadQueue) AllocateResource(desc driver.ResourceDesc, label string) *PendingUpload {
	label = u.labels.Label(label)
	core.Check(desc.Validate(), "upload %q", label)

	dst, err := u.device.CreateCommittedResource(driver.HeapDefault, desc, driver.StateCommon)
	core.Check(err, "create upload destination %q", label)
	layout := u.device.CopyableLayout(desc)
	staging, err := u.device.CreateCommittedResource(driver.HeapUpload, driver.BufferDesc(layout.TotalBytes, driver.ResourceFlagNone), driver.StateGenericRead)
	core.Check(err, "create staging buffer for %q", label)
	staging.SetLabel(label + "/staging")
	mem, err := staging.Map()
	core.Check(err, "map staging buffer for %q", label)

	p := &PendingUpload{
		queue:    u,
		resource: NewResource(dst, driver.StateCommon, label),
		staging:  staging,
		mem:      mem,
		layout:   layout,
	}
	if core.DebugChecks {
		runtime.SetFinalizer(p, (*PendingUpload).leaked)
	}
	return p
}

func (u *UploadQueue) AllocateBuffer(size uint64, label string) *PendingUpload {
	return u.AllocateResource(driver.BufferDesc(size, driver.ResourceFlagNone), label)
}

func (u *UploadQueue) AllocateTexture(desc driver.ResourceDesc, label string) *PendingUpload {
	return u.AllocateResource(desc, label)
}

// Flush waits for every outstanding copy and frees its staging memory.
func (u *UploadQueue) Flush() {
	if n := u.staging.Flush(); n > 0 {
		core.LogDebug("upload queue flushed %d staging buffers", n)
	}
}

// Cleanup frees staging memory of completed copies without blocking.
func (u *UploadQueue) Cleanup() int {
	n := u.staging.Collect()
	if n > 0 {
		core.LogDebug("upload queue released %d staging buffers", n)
	}
	return n
}

func (u *UploadQueue) Shutdown() {
	u.Flush()
	u.queue.Shutdown()
}

// PendingUpload is a destination resource and the staging memory filling it. It must
// be initiated exactly once.
type PendingUpload struct {
	queue     *UploadQueue
	resource  *Resource
	staging   driver.Allocation
	mem       []byte
	layout    driver.CopyableLayout
	initiated bool
}

// InitiatedUpload is the destination plus the point its contents become valid.
type InitiatedUpload struct {
	Resource  *Resource
	SyncPoint SyncPoint
}

func (p *PendingUpload) Resource() *Resource           { return p.resource }
func (p *PendingUpload) Layout() driver.CopyableLayout { return p.layout }
func (p *PendingUpload) Rows() uint32                  { return p.layout.NumRows }
func (p *PendingUpload) RowPitch() uint64              { return uint64(p.layout.Footprint.RowPitch) }
func (p *PendingUpload) RowSize() uint64               { return p.layout.RowSizeInBytes }

// Bytes is the whole staging span. For textures, rows start every RowPitch bytes.
func (p *PendingUpload) Bytes() []byte {
	core.Assert(!p.initiated, "staging of %q used after InitiateUpload", p.resource.Label())
	return p.mem
}

// Row is the writable part of row i; padding up to the pitch is excluded.
func (p *PendingUpload) Row(i uint32) []byte {
	core.Assert(!p.initiated, "staging of %q used after InitiateUpload", p.resource.Label())
	core.Assert(i < p.layout.NumRows, "row %d of %q out of %d", i, p.resource.Label(), p.layout.NumRows)
	start := p.layout.Footprint.Offset + uint64(i)*uint64(p.layout.Footprint.RowPitch)
	end := start + p.layout.RowSizeInBytes
	return p.mem[start:end:end]
}

// InitiateUpload records and submits the copy. The staging memory is freed by the
// queue once the copy completed.
func (p *PendingUpload) InitiateUpload() InitiatedUpload {
	if p.initiated {
		core.ContractViolation("upload %q initiated twice", p.resource.Label())
		return InitiatedUpload{Resource: p.resource}
	}
	p.initiated = true
	runtime.SetFinalizer(p, nil)

	p.staging.Unmap()
	p.mem = nil

	u := p.queue
	ctx := u.queue.BeginCopy()
	dst := p.resource.alloc
	if dst.Desc().IsBuffer() {
		ctx.list.CopyBufferRegion(dst, 0, p.staging, 0, dst.Desc().Width)
	} else {
		ctx.list.CopyTextureFromBuffer(dst, p.staging, p.layout)
	}
	sp := ctx.Finish()

	staging := p.staging
	u.staging.Defer(staging.Label(), staging.Release, sp)
	return InitiatedUpload{Resource: p.resource, SyncPoint: sp}
}

// leaked runs as a finalizer in debug builds when a PendingUpload is dropped.
func (p *PendingUpload) leaked() {
	core.LogError("pending upload %q was never initiated", p.resource.Label())
	p.staging.Unmap()
	p.staging.Release()
	p.resource.Release()
}
