// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"sync"
)

// executor runs submitted jobs one at a time on a single goroutine, so
// handlers written for single-threaded access stay race-free while request
// goroutines keep accepting connections.
type executor struct {
	jobs     chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newExecutor() *executor {
	e := &executor{
		jobs: make(chan func()),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	defer close(e.done)
	for {
		select {
		case job := <-e.jobs:
			job()
		case <-e.stop:
			return
		}
	}
}

// submit queues job behind any running one. It returns ctx.Err() if ctx ends
// before the job is accepted, or ErrServerClosed after shutdown.
func (e *executor) submit(ctx context.Context, job func()) error {
	select {
	case e.jobs <- job:
		return nil
	case <-e.stop:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs and waits for the running one to return.
func (e *executor) close() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}
