package systems

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func TestNewJobSystemValidatesArguments(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobsRunOnWorkersAndCallbacksOnUpdate(t *testing.T) {
	js, err := NewJobSystem(4, 8)
	require.NoError(t, err)
	defer js.Shutdown()

	var started atomic.Int32
	sum := 0
	failures := 0
	for i := 1; i <= 20; i++ {
		i := i
		require.NoError(t, js.Submit(JobTask{
			Name:        "square",
			InputParams: i,
			OnStart: func(p interface{}) (interface{}, error) {
				started.Add(1)
				n := p.(int)
				if n%5 == 0 {
					return nil, errors.New("multiple of five")
				}
				return n * n, nil
			},
			// Update runs these on the test goroutine, no locking needed
			OnComplete: func(r interface{}) { sum += r.(int) },
			OnFailure:  func(error) { failures++ },
		}))
	}
	js.Wait()
	assert.Equal(t, int32(20), started.Load())
	assert.Zero(t, sum, "callbacks must wait for Update")

	assert.Equal(t, 20, js.Update())
	assert.Equal(t, 4, failures)
	// squares of 1..20 minus squares of 5, 10, 15, 20
	assert.Equal(t, 2870-750, sum)
	assert.Zero(t, js.Update())
}

func TestShutdownDrainsQueuedJobs(t *testing.T) {
	js, err := NewJobSystem(1, 16)
	require.NoError(t, err)

	completed := 0
	for i := 0; i < 10; i++ {
		require.NoError(t, js.Submit(JobTask{
			OnStart:    func(interface{}) (interface{}, error) { return nil, nil },
			OnComplete: func(interface{}) { completed++ },
		}))
	}
	require.NoError(t, js.Shutdown())
	assert.Equal(t, 10, completed)

	assert.ErrorIs(t, js.Submit(JobTask{}), ErrJobSystemClosed)
	require.NoError(t, js.Shutdown())
}

func TestAddWorkNonBlocking(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	require.NoError(t, err)
	defer js.Shutdown()

	done := make(chan struct{})
	js.AddWorkNonBlocking(JobTask{
		OnStart: func(interface{}) (interface{}, error) {
			close(done)
			return nil, nil
		},
	})
	<-done
}
