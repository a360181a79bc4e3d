// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package fanin provides the completion channel the reactor goroutine
selects on: every per-task execution goroutine writes its task.ID to
this one channel exactly once when it finishes, funneling completions
back onto a single goroutine rather than having each attempt report
through a channel of its own.
*/
package fanin

import "github.com/gogama/httpx/task"

// A Channel is a buffered fan-in channel of completed task.IDs.
type Channel struct {
	ch chan task.ID
}

// New constructs a Channel with the given capacity. Capacity should be
// at least the processor's MaxConcurrentRequests, so a burst of
// simultaneous completions never blocks an executing goroutine.
func New(capacity int) *Channel {
	return &Channel{ch: make(chan task.ID, capacity)}
}

// Send reports id as complete. It blocks only if the channel's buffer
// is exhausted, which should not happen given the capacity note on New.
func (c *Channel) Send(id task.ID) {
	c.ch <- id
}

// C returns the channel the reactor goroutine reads completions from.
func (c *Channel) C() <-chan task.ID {
	return c.ch
}
