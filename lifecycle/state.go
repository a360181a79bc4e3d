// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package lifecycle provides the atomic state machine behind a Processor's
lifecycle: stopped -> starting -> running -> draining -> stopping ->
stopped. SynchronousExecutor does not use it.
*/
package lifecycle

// A State identifies one stage of a Manager's lifecycle.
type State int32

const (
	// Stopped is the initial state, and the state reached again at the
	// end of a successful Stop.
	Stopped State = iota
	// Starting is entered by Start and left for Running once the
	// reactor signals it is ready to accept work.
	Starting
	// Running is the only state in which new tasks are accepted.
	Running
	// Draining is entered by BeginDrain; no new tasks are admitted, but
	// tasks already queued or in flight may still finish.
	Draining
	// Stopping is entered by BeginStop; any tasks still queued or in
	// flight are surrendered to TaskHandler.Retry.
	Stopping

	stateSentinel
	numStates = int(stateSentinel)
)

var stateNames = [...]string{
	"stopped",
	"starting",
	"running",
	"draining",
	"stopping",
}

// String returns the state's lowercase name.
func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
