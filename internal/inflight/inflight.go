// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package inflight provides the set of tasks currently being executed by
the processor's reactor goroutine, with a lock-free length counter so
producers can read it without contending with the reactor.
*/
package inflight

import (
	"sync"
	"sync/atomic"

	"github.com/gogama/httpx/task"
)

// A Set tracks in-flight tasks keyed by task.ID. All mutation happens
// from the processor's reactor goroutine; Len is safe to call from any
// goroutine.
//
// The zero value is an empty Set ready to use.
type Set struct {
	m     sync.Map
	count atomic.Int64
}

// Add records t as in flight under id.
func (s *Set) Add(id task.ID, t task.Task) {
	s.m.Store(id, t)
	s.count.Add(1)
}

// Remove removes id from the set, returning the task it was tracking
// and true, or the zero Task and false if id was not present.
func (s *Set) Remove(id task.ID) (task.Task, bool) {
	v, ok := s.m.LoadAndDelete(id)
	if !ok {
		return task.Task{}, false
	}
	s.count.Add(-1)
	return v.(task.Task), true
}

// Len reports the number of tasks currently in flight.
func (s *Set) Len() int {
	return int(s.count.Load())
}

// Range calls f for every task currently in flight, in no particular
// order. If f returns false, Range stops early.
func (s *Set) Range(f func(id task.ID, t task.Task) bool) {
	s.m.Range(func(k, v interface{}) bool {
		return f(k.(task.ID), v.(task.Task))
	})
}
