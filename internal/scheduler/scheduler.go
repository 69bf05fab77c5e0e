// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package scheduler implements the PROBE VM's single-threaded cooperative
// task model (spec.md §4.6): async calls enqueue a task record instead of
// spawning an OS thread, the current task runs to completion or to its
// next await before another task is dispatched, and a future is resolved
// at most once.
package scheduler

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/probelang/corevm/internal/heap"
	"github.com/probelang/corevm/internal/value"
)

// Task is one pending or running unit of async work.
type Task struct {
	ID     uuid.UUID
	Fn     *heap.Function
	Args   []value.Value
	Future *heap.Future
}

// Runner invokes a function synchronously and returns its result, matching
// interpreter.Interp.Run's signature without creating an import cycle
// between scheduler and interpreter.
type Runner func(fn *heap.Function, args []value.Value) (value.Value, error)

// Scheduler is a FIFO task queue plus the currently-running task, backing
// async/await (spec.md §4.6 "Ordering": "Tasks enqueued on the same
// scheduler run in FIFO order").
type Scheduler struct {
	queue  []*Task
	run    Runner
	active *Task
}

// New creates a scheduler that dispatches queued tasks through run.
func New(run Runner) *Scheduler {
	return &Scheduler{run: run}
}

// Enqueue records a pending async call and returns its future immediately;
// the callee does not run until Drain (or the next Await) reaches it.
func (s *Scheduler) Enqueue(fn *heap.Function, args []value.Value) *heap.Future {
	fut := heap.NewFuture()
	s.queue = append(s.queue, &Task{ID: uuid.New(), Fn: fn, Args: args, Future: fut})
	return fut
}

// PendingArgs returns every argument value for every task still in the
// queue and for the running task; the driver installs it as
// vmcore.VM.TaskRoots, through which VM.GCRoots reaches it (spec.md §4.2
// roots "(f) pending task queue entries").
func (s *Scheduler) PendingArgs() []value.Value {
	var out []value.Value
	for _, t := range s.queue {
		out = append(out, t.Args...)
	}
	if s.active != nil {
		out = append(out, s.active.Args...)
	}
	return out
}

// Await blocks the calling (current) task until fut resolves, dispatching
// queued tasks in FIFO order in the meantime — there being only one
// mutator thread, "blocks" means "drains the queue until fut is done"
// rather than a real OS-thread park (spec.md §4.6 "Await").
func (s *Scheduler) Await(fut *heap.Future) value.Value {
	for !fut.Done {
		if !s.stepOne() {
			break
		}
	}
	return fut.Await()
}

// Drain runs every currently queued task to completion, in FIFO order.
// Tasks that enqueue further tasks extend the drain.
func (s *Scheduler) Drain() error {
	if s.run == nil {
		return ErrNoRunner
	}
	for len(s.queue) > 0 {
		if !s.stepOne() {
			break
		}
	}
	return nil
}

// stepOne dequeues and runs exactly one task, resolving its future with
// the result. A task whose run returns an error has its future resolved
// with nil; the error itself is not reported to the caller or the awaiter.
func (s *Scheduler) stepOne() bool {
	if len(s.queue) == 0 {
		return false
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	s.active = t
	defer func() { s.active = nil }()

	result, err := s.run(t.Fn, t.Args)
	if err != nil {
		result = value.Nil
		t.Future.Resolve(result)
		return true
	}
	t.Future.Resolve(result)
	return true
}

// ErrNoRunner is returned by Drain on a Scheduler created without New (zero
// value).
var ErrNoRunner = fmt.Errorf("scheduler: no task runner configured")
