// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package processor

import (
	"github.com/gogama/httpx/clientpool"
	"github.com/gogama/httpx/payload"
	"github.com/gogama/httpx/task"
)

// A SynchronousExecutor runs tasks inline on the calling goroutine, with
// none of Processor's queueing, admission limits, or reactor
// bookkeeping. It is useful for tests and for command-line tools that
// want the redirect-following, retry, and payload-offload behavior of
// Processor.run without paying for a background reactor and its
// lifecycle.
//
// A SynchronousExecutor has no Start/Stop lifecycle: it is always
// Running from construction until its Close method is called, which
// only closes its client pool.
type SynchronousExecutor struct {
	cfg     Config
	pool    *clientpool.Pool
	storage *payload.ExternalStorage
}

// NewSynchronous constructs a SynchronousExecutor from cfg.
func NewSynchronous(cfg Config) *SynchronousExecutor {
	cfg = cfg.withDefaults()
	return &SynchronousExecutor{
		cfg: cfg,
		pool: clientpool.New(clientpool.Config{
			MaxClients:                cfg.MaxClients,
			IdleTimeout:               cfg.ConnectionIdleTimeout,
			TransportFailureThreshold: cfg.TransportFailureThreshold,
			Proxy:                     cfg.Proxy,
			TLSClientConfig:           cfg.TLSClientConfig,
		}),
		storage: &payload.ExternalStorage{
			Store:     cfg.PayloadStore,
			Threshold: cfg.ExternalPayloadThreshold,
			StoreID:   cfg.PayloadStoreID,
			Logger:    cfg.Logger,
		},
	}
}

// Enqueue runs t to completion on the calling goroutine and dispatches
// its outcome to t.Handler before returning. The returned task.ID is
// minted for bookkeeping parity with Processor.Enqueue, but nothing
// tracks it afterward.
//
// Enqueue never returns a non-nil error: a SynchronousExecutor has no
// capacity limit and no lifecycle state that could reject a task.
func (x *SynchronousExecutor) Enqueue(t task.Task) (task.ID, error) {
	id := task.NewID()
	x.run(t)
	return id, nil
}

func (x *SynchronousExecutor) run(t task.Task) {
	p := &Processor{cfg: x.cfg, pool: x.pool, storage: x.storage}

	ctx := t.Plan.Context()
	resp, respPayload, outcome := p.run(ctx, t)

	if t.RequestPayload != nil {
		x.storage.Release(ctx, *t.RequestPayload)
	}

	if outcome.Success {
		p.dispatchComplete(t, resp)
	} else {
		p.dispatchError(t, outcome.Err)
	}

	if respPayload.IsStored() && !x.cfg.KeepResponsePayloads {
		x.storage.Release(ctx, respPayload)
	}
}

// Close releases the executor's pooled connections.
func (x *SynchronousExecutor) Close() {
	x.pool.Close()
}
