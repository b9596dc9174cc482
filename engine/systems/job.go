package systems

import (
	"errors"
	"sync"

	"github.com/spaghettifunk/kiln/engine/core"
)

// JobStart runs on a worker goroutine. Its result is handed to OnComplete, its error
// to OnFailure.
type JobStart func(params interface{}) (interface{}, error)

type JobOnComplete func(result interface{})

type JobOnFailure func(err error)

// JobTask describes one unit of work. OnComplete and OnFailure run on the goroutine
// calling Update, never on a worker.
type JobTask struct {
	Name        string
	InputParams interface{}
	OnStart     JobStart
	OnComplete  JobOnComplete
	OnFailure   JobOnFailure
}

type jobResult struct {
	task   JobTask
	result interface{}
	err    error
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	// pending counts submitted jobs whose OnStart has not returned.
	pending sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	results []jobResult
}

var (
	ErrNoWorkers           = errors.New("attempting to create worker pool with less than 1 worker")
	ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
	ErrJobSystemClosed     = errors.New("job system has been shut down")
)

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}
	js.start()
	core.LogDebug("job system started with %d workers", numWorkers)
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	defer js.pending.Done()

	result, err := job.OnStart(job.InputParams)
	if err != nil {
		core.LogError("job %q failed: %s", job.Name, err)
	}
	if job.OnComplete == nil && job.OnFailure == nil {
		return
	}
	js.mu.Lock()
	js.results = append(js.results, jobResult{task: job, result: result, err: err})
	js.mu.Unlock()
}

// Submit queues jt, blocking while the queue is full.
func (js *JobSystem) Submit(jt JobTask) error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return ErrJobSystemClosed
	}
	// counted under mu so Shutdown cannot close the channel under a pending send
	js.pending.Add(1)
	js.mu.Unlock()

	js.jobQueue <- jt
	return nil
}

// AddWorkNonBlocking submits jt from a new goroutine and returns immediately.
func (js *JobSystem) AddWorkNonBlocking(jt JobTask) {
	go func() {
		if err := js.Submit(jt); err != nil {
			core.LogWarn("job %q dropped: %s", jt.Name, err)
		}
	}()
}

// Update runs the callbacks of finished jobs on the calling goroutine. It is meant
// to be called once per frame from the main loop.
func (js *JobSystem) Update() int {
	js.mu.Lock()
	results := js.results
	js.results = nil
	js.mu.Unlock()

	for _, r := range results {
		if r.err != nil {
			if r.task.OnFailure != nil {
				r.task.OnFailure(r.err)
			}
			continue
		}
		if r.task.OnComplete != nil {
			r.task.OnComplete(r.result)
		}
	}
	return len(results)
}

// Wait blocks until every job submitted so far has run. Callbacks still need Update.
func (js *JobSystem) Wait() {
	js.pending.Wait()
}

// Shutdown stops accepting jobs, lets the workers drain the queue and dispatches the
// remaining callbacks.
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	js.mu.Unlock()

	js.pending.Wait()
	close(js.jobQueue)
	js.wg.Wait()
	js.Update()
	return nil
}
