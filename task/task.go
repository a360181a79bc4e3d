// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package task provides the RequestTask binding — a request plan paired
with the task handler and opaque callback identifier that should receive
its result — and the task ID type the processor mints for each accepted
task.
*/
package task

import (
	"sync/atomic"

	"github.com/gogama/httpx/asyncerr"
	"github.com/gogama/httpx/payload"
	"github.com/gogama/httpx/racing"
	"github.com/gogama/httpx/request"
)

// An ID uniquely identifies one accepted Task within the lifetime of the
// Processor that accepted it. IDs are not reused.
type ID uint64

// A Handler is the capability set a TaskHandler must implement. It is
// declared here, rather than in package processor, so that package task
// has no dependency on package processor; the dependency runs the other
// way (processor depends on task).
//
// OnComplete and OnError are invoked on the goroutine that executed the
// task (a Processor runs each task on its own goroutine, so calls for
// different tasks may overlap) and must not block: heavy work here
// degrades every other in-flight request. Retry is invoked, at most once per task, for each
// task still queued or in flight when the processor is stopped; the
// handler is responsible for externally re-enqueuing the task if desired.
type Handler interface {
	// OnComplete is invoked with the outcome of a successful HTTP
	// exchange. resp is never nil.
	OnComplete(resp *asyncerr.Response, callback string, callbackArgs interface{})

	// OnError is invoked with a wrapped execution-side error. err is
	// never nil and is always one of the error types in package
	// asyncerr (excluding NotRunningError and MaxCapacityError, which
	// are returned synchronously from Enqueue and never reach OnError).
	OnError(err error, callback string, callbackArgs interface{})

	// Retry is invoked, at most once, for a task that was still queued
	// or in flight when the processor finished draining during Stop.
	Retry(t Task)
}

// A Task binds a request Plan to the Handler that should receive its
// result, an opaque callback identifier interpreted only by the
// Handler, and arbitrary callback arguments forwarded verbatim.
//
// Task is an immutable value once constructed; its Plan field must not
// be mutated after the Task is enqueued.
type Task struct {
	// Plan is the HTTP request plan to execute.
	Plan *request.Plan

	// Handler receives the task's terminal outcome.
	Handler Handler

	// Callback is an opaque identifier the core never inspects or
	// dispatches on. It flows verbatim to Handler.
	Callback string

	// CallbackArgs is arbitrary data forwarded verbatim to Handler
	// alongside Callback.
	CallbackArgs interface{}

	// RaiseErrorResponses, if true, causes a response with status >= 400 to be
	// delivered to Handler.OnError as an asyncerr.HTTPError instead of
	// to Handler.OnComplete as a Response.
	RaiseErrorResponses bool

	// MaxResponseSize overrides the processor's configured default for
	// this task only. Zero means use the processor default.
	MaxResponseSize int64

	// MaxRedirects overrides the processor's configured default redirect
	// cap for this task only. Zero means use the processor default.
	MaxRedirects int

	// RequestPayload, if non-nil, supersedes Plan.Body: the processor
	// materializes it through the configured payload.ExternalStorage
	// before the first request attempt, so a producer that already
	// offloaded a large request body can hand over a reference instead
	// of holding the bytes in memory until the task is dispatched.
	RequestPayload *payload.Payload

	// RacingPolicy overrides the processor's configured default racing
	// policy for this task only. Nil means use the processor default
	// (which is itself commonly racing.Disabled). A racing policy lets a
	// latency-sensitive task fire redundant attempts against an origin
	// before the first attempt confirms.
	RacingPolicy racing.Policy
}

var nextID atomic.Uint64

// NewID mints a new task ID. IDs are unique for the lifetime of the
// process, not just one Processor, which is simpler than scoping the
// counter per Processor and costs nothing in practice.
func NewID() ID {
	return ID(nextID.Add(1))
}
