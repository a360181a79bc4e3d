// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package processor

import (
	"crypto/tls"
	"log/slog"
	"net/url"
	"time"

	"github.com/gogama/httpx/payload"
	"github.com/gogama/httpx/racing"
	"github.com/gogama/httpx/retry"
	"github.com/gogama/httpx/timeout"
)

// Default values applied by New when the corresponding Config field is
// left at its zero value (for TransportRetries, when it is negative).
const (
	DefaultMaxConcurrentRequests = 64
	DefaultMaxQueueSize          = 1024
	DefaultMaxClients            = 32
	DefaultMaxResponseSize       = 10 << 20 // 10 MiB
	DefaultTransportRetries      = retry.DefaultTimes
	DefaultConnectionIdleTimeout = 90 * time.Second
	DefaultTimeoutValue          = 30 * time.Second
	DefaultMaxRedirects          = 10
	DefaultStartTimeout          = 5 * time.Second
	DefaultDrainTimeout          = 30 * time.Second
)

// Config configures a Processor or SynchronousExecutor. The zero value
// is valid: New applies the defaults above, and each field's doc says
// what its zero value means.
type Config struct {
	// MaxConcurrentRequests bounds the number of tasks the reactor will
	// have in flight at once.
	MaxConcurrentRequests int

	// MaxQueueSize bounds the number of accepted-but-not-yet-started
	// tasks Enqueue may buffer.
	MaxQueueSize int

	// MaxClients bounds the number of distinct origins the client pool
	// retains connections for at once.
	MaxClients int

	// ConnectionIdleTimeout is how long a pooled origin client may sit
	// idle before the reactor retires it.
	ConnectionIdleTimeout time.Duration

	// TransportFailureThreshold is the number of consecutive
	// transport-categorized failures after which an origin's pooled
	// client is retired and rebuilt.
	TransportFailureThreshold int

	// MaxResponseSize bounds the decompressed response body size a task
	// may receive before failing with asyncerr.ResponseTooLargeError,
	// unless overridden per task.Task.MaxResponseSize.
	MaxResponseSize int64

	// TransportRetries is the retry budget shared across an entire
	// logical request, redirects included. Zero disables retries; a
	// negative value selects DefaultTransportRetries.
	TransportRetries int

	// RetryWaiter controls the backoff between retries. If nil,
	// retry.DefaultWaiter is used.
	RetryWaiter retry.Waiter

	// TimeoutPolicy controls the per-attempt timeout. If nil,
	// timeout.Fixed(DefaultTimeoutValue) is used.
	TimeoutPolicy timeout.Policy

	// DefaultMaxRedirects is the redirect cap applied to a task whose
	// task.Task.MaxRedirects is zero.
	DefaultMaxRedirects int

	// RacingPolicy is the default racing policy applied to a task whose
	// task.Task.RacingPolicy is nil. If nil, racing.Disabled is used, so
	// racing is opt-in.
	RacingPolicy racing.Policy

	// ExternalPayloadThreshold is the size, in bytes, above which
	// request and response bodies are offloaded to PayloadStore. Zero
	// with a nil PayloadStore disables offload entirely.
	ExternalPayloadThreshold int64

	// PayloadStore is the backend used for offloaded bodies. If nil,
	// no offload is performed regardless of ExternalPayloadThreshold.
	PayloadStore payload.Store

	// PayloadStoreID is recorded on every payload.StoredRef this
	// Processor creates.
	PayloadStoreID string

	// KeepResponsePayloads, if true, suppresses the default cleanup of
	// an offloaded response payload after TaskHandler.OnComplete
	// returns.
	KeepResponsePayloads bool

	// Proxy, if non-nil, is used by every pooled client.
	Proxy *url.URL

	// TLSClientConfig, if non-nil, is used by every pooled client.
	TLSClientConfig *tls.Config

	// StartTimeout bounds how long Start waits for the reactor
	// goroutine to signal readiness.
	StartTimeout time.Duration

	// DrainTimeout is the default passed to Stop when a caller invokes
	// the zero-argument StopDefault.
	DrainTimeout time.Duration

	// Logger receives structured diagnostic events. If nil,
	// slog.Default() is used.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxClients <= 0 {
		c.MaxClients = DefaultMaxClients
	}
	if c.ConnectionIdleTimeout <= 0 {
		c.ConnectionIdleTimeout = DefaultConnectionIdleTimeout
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = DefaultMaxResponseSize
	}
	if c.TransportRetries < 0 {
		c.TransportRetries = DefaultTransportRetries
	}
	if c.TimeoutPolicy == nil {
		c.TimeoutPolicy = timeout.Fixed(DefaultTimeoutValue)
	}
	if c.DefaultMaxRedirects <= 0 {
		c.DefaultMaxRedirects = DefaultMaxRedirects
	}
	if c.RacingPolicy == nil {
		c.RacingPolicy = racing.Disabled
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
