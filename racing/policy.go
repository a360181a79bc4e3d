// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package racing

import (
	"time"

	"github.com/gogama/httpx/request"
)

// TODO: document me
var Disabled = disabled{}

// TODO: document me
type Policy interface {
	Scheduler
	Starter
}

type policy struct {
	scheduler Scheduler
	starter   Starter
}

func NewPolicy(s Scheduler, st Starter) Policy {
	if s == nil {
		panic("httpx/racing: nil scheduler")
	}
	if st == nil {
		panic("httpx/racing: nil starter")
	}
	return policy{scheduler: s, starter: st}
}

func (p policy) Schedule(e *request.Execution) time.Duration {
	return p.scheduler.Schedule(e)
}

func (p policy) Start(e *request.Execution) bool {
	return p.starter.Start(e)
}

type disabled struct{}

func (_ disabled) Schedule(_ *request.Execution) time.Duration {
	return 0
}

func (_ disabled) Start(_ *request.Execution) bool {
	return false
}
