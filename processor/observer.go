// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package processor

import (
	"github.com/gogama/httpx/lifecycle"
	"github.com/gogama/httpx/request"
	"github.com/gogama/httpx/task"
)

// A ProcessorObserver receives diagnostic signals from a Processor. All
// methods are invoked synchronously: lifecycle signals from the goroutine
// calling Start or Stop, capacity signals from the goroutine calling
// Enqueue, and per-request signals from a task's own execution
// goroutine, so implementations must not block and must be safe for
// concurrent use.
//
// Embed NopObserver to implement only the signals of interest instead
// of a full ProcessorObserver implementation.
type ProcessorObserver interface {
	// Started is called once, after the Processor's reactor goroutine
	// has signaled ready and the lifecycle has transitioned to Running.
	Started()

	// Stopped is called once, after Stop has finished draining and the
	// lifecycle has transitioned back to Stopped.
	Stopped()

	// RequestStarted is called when a task begins execution.
	RequestStarted(id task.ID, plan *request.Plan)

	// RequestEnded is called when a task's execution concludes, whether
	// successfully or not.
	RequestEnded(id task.ID, outcome Outcome)

	// Error reports an internal failure that could not be attributed to
	// a single task's outcome, for example a handler panic or a
	// payload-store cleanup failure. context is a short, fixed label
	// identifying where the error occurred.
	Error(err error, context string)

	// CapacityExceeded is called when Enqueue rejects a task because
	// the queue and in-flight set are both full.
	CapacityExceeded(queueSize, inFlight int)

	// StateTransition is called after every successful lifecycle
	// transition.
	StateTransition(from, to lifecycle.State)
}

// NopObserver is a ProcessorObserver whose methods all do nothing.
// Embed it in a concrete observer type to override only the signals
// that type cares about.
type NopObserver struct{}

func (NopObserver) Started()                                        {}
func (NopObserver) Stopped()                                         {}
func (NopObserver) RequestStarted(task.ID, *request.Plan)            {}
func (NopObserver) RequestEnded(task.ID, Outcome)                    {}
func (NopObserver) Error(error, string)                              {}
func (NopObserver) CapacityExceeded(int, int)                        {}
func (NopObserver) StateTransition(lifecycle.State, lifecycle.State) {}

var _ ProcessorObserver = NopObserver{}
