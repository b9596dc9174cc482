package software

import (
	"context"
	"sync"
	"sync/atomic"
)

type fenceWaiter struct {
	value uint64
	ch    chan struct{}
}

type Fence struct {
	dev *Device

	mu       sync.Mutex
	value    uint64
	waiters  []fenceWaiter
	released atomic.Bool
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Signal moves the fence from the CPU. Values never decrease.
func (f *Fence) Signal(value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if value <= f.value {
		return
	}
	f.value = value
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if w.value <= value {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	f.waiters = kept
}

func (f *Fence) Wait(ctx context.Context, value uint64) error {
	f.mu.Lock()
	if f.value >= value {
		f.mu.Unlock()
		return nil
	}
	w := fenceWaiter{value: value, ch: make(chan struct{})}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fence) Release() {
	if f.released.CompareAndSwap(false, true) && f.dev != nil {
		f.dev.live.Add(-1)
	}
}
