// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	jobQueued int32 = iota
	jobRunning
	jobAbandoned
)

type serialJob struct {
	ctx    context.Context
	run    func(ctx context.Context) *Error
	state  atomic.Int32
	result chan *Error
}

func newSerialJob(ctx context.Context, run func(ctx context.Context) *Error) *serialJob {
	return &serialJob{
		ctx:    ctx,
		run:    run,
		result: make(chan *Error, 1),
	}
}

// wait blocks until the job resolves. A job abandoned before the lane reached
// it reports ran=false and is skipped by the worker. A running job is always
// waited for so nothing writes to its output after wait returns.
func (j *serialJob) wait() (err *Error, ran bool) {
	select {
	case err := <-j.result:
		return err, true
	case <-j.ctx.Done():
	}
	if j.state.CompareAndSwap(jobQueued, jobAbandoned) {
		return nil, false
	}
	return <-j.result, true
}

// serialLane runs jobs one at a time, in enqueue order, on a single worker.
// A lane that replaces a flushed one starts only after the flushed lane's
// worker has exited, so serial jobs never overlap across a Flush.
type serialLane struct {
	prev     *serialLane
	jobs     chan *serialJob
	sealed   chan struct{}
	sealOnce sync.Once
	done     chan struct{}
	queued   prometheus.Gauge
}

func newSerialLane(size int, queued prometheus.Gauge, prev *serialLane) *serialLane {
	l := &serialLane{
		prev:   prev,
		jobs:   make(chan *serialJob, size),
		sealed: make(chan struct{}),
		done:   make(chan struct{}),
		queued: queued,
	}
	go l.loop()
	return l
}

// enqueue hands j to the lane, blocking while the queue is full. It reports
// false if j's context ended first. Callers must not enqueue after seal.
func (l *serialLane) enqueue(j *serialJob) bool {
	l.queued.Inc()
	select {
	case l.jobs <- j:
		return true
	case <-j.ctx.Done():
		l.queued.Dec()
		return false
	}
}

func (l *serialLane) loop() {
	defer close(l.done)
	if l.prev != nil {
		<-l.prev.done
		l.prev = nil
	}
	for {
		select {
		case j := <-l.jobs:
			l.exec(j)
		case <-l.sealed:
			for {
				select {
				case j := <-l.jobs:
					l.exec(j)
				default:
					return
				}
			}
		}
	}
}

func (l *serialLane) exec(j *serialJob) {
	l.queued.Dec()
	if !j.state.CompareAndSwap(jobQueued, jobRunning) {
		return
	}
	j.result <- j.run(j.ctx)
}

// seal tells the worker no more jobs will arrive. Jobs already queued still
// resolve; their contexts are expected to be cancelled by then.
func (l *serialLane) seal() {
	l.sealOnce.Do(func() { close(l.sealed) })
}
