package gfx

import (
	"sync"

	"github.com/spaghettifunk/kiln/engine/containers"
)

type releaseEntry struct {
	label   string
	waitFor []SyncPoint
	release func()
}

func (e releaseEntry) ready() bool {
	for _, sp := range e.waitFor {
		if !sp.Poll() {
			return false
		}
	}
	return true
}

// ReleaseQueue defers freeing GPU memory until every SyncPoint that may still use it
// is satisfied.
type ReleaseQueue struct {
	mu      sync.Mutex
	entries *containers.RingQueue[releaseEntry]
}

func NewReleaseQueue() *ReleaseQueue {
	return &ReleaseQueue{entries: containers.NewGrowableRingQueue[releaseEntry](16)}
}

// Defer runs release once all of waitFor are satisfied, from Collect or Flush.
func (r *ReleaseQueue) Defer(label string, release func(), waitFor ...SyncPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.entries.Enqueue(releaseEntry{label: label, waitFor: waitFor, release: release})
}

func (r *ReleaseQueue) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}

// Collect frees every entry whose work completed without blocking and returns how
// many it freed.
func (r *ReleaseQueue) Collect() int {
	r.mu.Lock()
	var ready []releaseEntry
	for n := r.entries.Len(); n > 0; n-- {
		e, _ := r.entries.Dequeue()
		if e.ready() {
			ready = append(ready, e)
			continue
		}
		_ = r.entries.Enqueue(e)
	}
	r.mu.Unlock()

	for _, e := range ready {
		e.release()
	}
	return len(ready)
}

// Flush waits for every entry and frees them all.
func (r *ReleaseQueue) Flush() int {
	r.mu.Lock()
	var all []releaseEntry
	for !r.entries.IsEmpty() {
		e, _ := r.entries.Dequeue()
		all = append(all, e)
	}
	r.mu.Unlock()

	for _, e := range all {
		for _, sp := range e.waitFor {
			sp.Wait()
		}
		e.release()
	}
	return len(all)
}
