// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package processor

import (
	"github.com/gogama/httpx/task"
)

// TaskHandler is the capability set a caller implements to receive task
// outcomes. It is an alias for task.Handler, declared here under the
// name used throughout this package's documentation.
type TaskHandler = task.Handler

// An Enqueuer accepts tasks for execution. Both *Processor and
// *SynchronousExecutor satisfy Enqueuer, so code that only needs to
// submit tasks can depend on the narrower interface and be agnostic to
// which execution strategy is in play.
type Enqueuer interface {
	Enqueue(t task.Task) (task.ID, error)
}

var (
	_ Enqueuer = (*Processor)(nil)
	_ Enqueuer = (*SynchronousExecutor)(nil)
)
