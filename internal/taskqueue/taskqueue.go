// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package taskqueue provides the bounded, channel-backed FIFO the
processor uses to hold accepted tasks between Enqueue and dispatch.
*/
package taskqueue

import "github.com/gogama/httpx/task"

// An Entry pairs a minted task.ID with the task.Task it identifies, so
// the ID survives the trip through the queue instead of being minted
// only once the reactor pops the task.
type Entry struct {
	ID   task.ID
	Task task.Task
}

// A Queue is a fixed-capacity FIFO of Entry values backed by a
// buffered channel. Producers push with TryPush, which never blocks;
// the reactor goroutine is the sole consumer, reading from C.
type Queue struct {
	ch chan Entry
}

// New constructs a Queue with the given capacity.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan Entry, capacity)}
}

// TryPush attempts to push e onto the queue, returning false without
// blocking if the queue is full.
func (q *Queue) TryPush(e Entry) bool {
	select {
	case q.ch <- e:
		return true
	default:
		return false
	}
}

// C returns the channel the reactor goroutine reads from.
func (q *Queue) C() <-chan Entry {
	return q.ch
}

// Len reports the number of tasks currently buffered. The result may
// be stale by the time the caller observes it if other goroutines are
// concurrently pushing or popping.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the queue's fixed capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
