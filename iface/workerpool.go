// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package iface

// WorkerPool is the default ComputePool: a fixed number of goroutines
// draining a bounded job queue. ComputePool is an external collaborator
// per spec §1; none of the retrieval pack's repos vendor a goroutine-pool
// library, so this is offered as the reference default (see DESIGN.md).
type WorkerPool struct {
	jobs chan func() (any, error)
}

// NewWorkerPool starts a WorkerPool with workers goroutines draining a
// queue of the given capacity.
func NewWorkerPool(workers, queueCapacity int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueCapacity < 1 {
		queueCapacity = 1
	}
	p := &WorkerPool{jobs: make(chan func() (any, error), queueCapacity)}
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *WorkerPool) run() {
	for job := range p.jobs {
		job()
	}
}

// Submit schedules job and returns a channel receiving its single result.
// Submit blocks only if the queue is full, never on job completion.
func (p *WorkerPool) Submit(job func() (any, error)) <-chan Result {
	resultCh := make(chan Result, 1)
	p.jobs <- func() (any, error) {
		value, err := job()
		resultCh <- Result{Value: value, Err: err}
		return value, err
	}
	return resultCh
}

// Close stops accepting new jobs. Already-queued jobs run to completion;
// their results are discarded if nothing still listens on the returned
// channel, matching §5's cancellation rules.
func (p *WorkerPool) Close() {
	close(p.jobs)
}
