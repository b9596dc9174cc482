package gfx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReleaseQueueWaitsForEverySyncPoint(t *testing.T) {
	f := newFixture(t)
	r := NewReleaseQueue()

	var released []string
	r.Defer("now", func() { released = append(released, "now") })

	f.hw.Suspend()
	pending := f.dev.Graphics().QueueSyncPoint()
	done := f.dev.Upload().Queue().QueueSyncPoint()
	r.Defer("later", func() { released = append(released, "later") }, done, pending)
	assert.Equal(t, 2, r.Len())

	assert.Equal(t, 1, r.Collect())
	assert.Equal(t, []string{"now"}, released)

	f.hw.Resume()
	assert.Equal(t, 1, r.Flush())
	assert.Equal(t, []string{"now", "later"}, released)
	assert.Zero(t, r.Len())
	assert.Zero(t, r.Collect())
}
