// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package lifecycle

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrInvalidTransition is returned when a transition method is called
// from a state that does not permit it. The cell is left unchanged.
type ErrInvalidTransition struct {
	Attempted string
	Current   State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("asyncx/lifecycle: cannot %s from state %s", e.Attempted, e.Current)
}

// A StateObserver is notified synchronously after every successful state
// transition. It is never invoked for a rejected transition attempt.
type StateObserver func(from, to State)

// A Manager is a serialized state machine with an atomic state cell,
// implementing the stopped -> starting -> running -> draining ->
// stopping -> stopped transition graph.
//
// The zero value is a Manager in the Stopped state, ready to use.
type Manager struct {
	state     atomic.Int32
	mu        sync.Mutex
	observers []StateObserver
}

// Observe registers one or more observers to be notified on every
// successful transition, in registration order.
func (m *Manager) Observe(obs ...StateObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs...)
}

// State returns the manager's current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// AcceptingNew reports whether the manager's current state permits
// admitting new work, which is true only when Running.
func (m *Manager) AcceptingNew() bool {
	return m.State() == Running
}

// AnyWorkPossible reports whether already-admitted work may still run
// to completion, which is true when Running or Draining.
func (m *Manager) AnyWorkPossible() bool {
	s := m.State()
	return s == Running || s == Draining
}

func (m *Manager) transition(name string, from, to State) error {
	if !m.state.CompareAndSwap(int32(from), int32(to)) {
		return &ErrInvalidTransition{Attempted: name, Current: m.State()}
	}
	m.notify(from, to)
	return nil
}

func (m *Manager) notify(from, to State) {
	m.mu.Lock()
	obs := make([]StateObserver, len(m.observers))
	copy(obs, m.observers)
	m.mu.Unlock()
	for _, o := range obs {
		o(from, to)
	}
}

// Start transitions Stopped -> Starting. It fails if the current state
// is anything other than Stopped (in particular, it fails if the state
// is Stopping).
func (m *Manager) Start() error {
	return m.transition("start", Stopped, Starting)
}

// MarkRunning transitions Starting -> Running, once the reactor has
// signaled it is ready to accept work.
func (m *Manager) MarkRunning() error {
	return m.transition("mark running", Starting, Running)
}

// BeginDrain transitions Running -> Draining.
func (m *Manager) BeginDrain() error {
	return m.transition("begin drain", Running, Draining)
}

// BeginStop transitions Draining -> Stopping.
func (m *Manager) BeginStop() error {
	return m.transition("begin stop", Draining, Stopping)
}

// MarkStopped transitions Stopping -> Stopped.
func (m *Manager) MarkStopped() error {
	return m.transition("mark stopped", Stopping, Stopped)
}
