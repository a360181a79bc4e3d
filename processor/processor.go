// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package processor provides the asynchronous HTTP offload engine:
application goroutines Enqueue task.Task values, a single reactor
goroutine multiplexes them over a pooled, retrying, HTTP/2-capable
transport, and results are delivered to a TaskHandler without ever
blocking the calling goroutine on network I/O.
*/
package processor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gogama/httpx"
	"github.com/gogama/httpx/asyncerr"
	"github.com/gogama/httpx/clientpool"
	"github.com/gogama/httpx/header"
	"github.com/gogama/httpx/internal/fanin"
	"github.com/gogama/httpx/internal/inflight"
	"github.com/gogama/httpx/internal/taskqueue"
	"github.com/gogama/httpx/lifecycle"
	"github.com/gogama/httpx/payload"
	"github.com/gogama/httpx/request"
	"github.com/gogama/httpx/retry"
	"github.com/gogama/httpx/task"
	"github.com/gogama/httpx/transient"
)

// A Processor is a running asynchronous HTTP offload engine. The zero
// value is not usable; construct one with New.
type Processor struct {
	cfg       Config
	lifecycle *lifecycle.Manager
	queue     *taskqueue.Queue
	inFlight  *inflight.Set
	pool      *clientpool.Pool
	storage   *payload.ExternalStorage

	completions *fanin.Channel
	queueSignal chan struct{}
	stateSignal chan struct{}
	readyCh     chan struct{}
	reactorDone chan struct{}
	drainWG     sync.WaitGroup

	obsMu     sync.Mutex
	observers []ProcessorObserver

	stopOnce sync.Once
}

// New constructs a Processor from cfg. The Processor does not start
// accepting work until Start is called.
func New(cfg Config) *Processor {
	cfg = cfg.withDefaults()

	p := &Processor{
		cfg:         cfg,
		lifecycle:   &lifecycle.Manager{},
		queue:       taskqueue.New(cfg.MaxQueueSize),
		inFlight:    &inflight.Set{},
		completions: fanin.New(cfg.MaxConcurrentRequests),
		queueSignal: make(chan struct{}, 1),
		stateSignal: make(chan struct{}, 1),
	}
	p.pool = clientpool.New(clientpool.Config{
		MaxClients:                cfg.MaxClients,
		IdleTimeout:               cfg.ConnectionIdleTimeout,
		TransportFailureThreshold: cfg.TransportFailureThreshold,
		Proxy:                     cfg.Proxy,
		TLSClientConfig:           cfg.TLSClientConfig,
	})
	p.storage = &payload.ExternalStorage{
		Store:     cfg.PayloadStore,
		Threshold: cfg.ExternalPayloadThreshold,
		StoreID:   cfg.PayloadStoreID,
		Logger:    cfg.Logger,
	}
	p.lifecycle.Observe(p.onStateTransition)
	return p
}

// Observe registers one or more observers to receive diagnostic
// signals. It must be called before Start to observe the Started
// signal, but may be called at any time otherwise.
func (p *Processor) Observe(obs ...ProcessorObserver) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.observers = append(p.observers, obs...)
}

// Start spins up the reactor goroutine and blocks until it is ready to
// accept work, or until cfg.StartTimeout elapses, or ctx is done.
//
// Start fails with a *lifecycle.ErrInvalidTransition if the Processor
// is not Stopped (in particular, if it is Stopping).
func (p *Processor) Start(ctx context.Context) error {
	if err := p.lifecycle.Start(); err != nil {
		return err
	}

	p.readyCh = make(chan struct{})
	p.reactorDone = make(chan struct{})
	go p.reactor()

	timer := time.NewTimer(p.cfg.StartTimeout)
	defer timer.Stop()
	select {
	case <-p.readyCh:
	case <-timer.C:
		return fmt.Errorf("asyncx/processor: timed out waiting for reactor to start")
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.lifecycle.MarkRunning(); err != nil {
		return err
	}
	p.notifyStarted()
	return nil
}

// Enqueue accepts t for execution, returning the task.ID minted for it.
//
// Enqueue never blocks on network I/O and never touches the network
// itself. It rejects with *asyncerr.NotRunningError unless the
// Processor is Running, and with *asyncerr.MaxCapacityError if the
// queue and in-flight set are both full.
func (p *Processor) Enqueue(t task.Task) (task.ID, error) {
	method, reqURL := planMethodAndURL(t.Plan)

	if !p.lifecycle.AcceptingNew() {
		return 0, &asyncerr.NotRunningError{
			Method:       method,
			URL:          reqURL,
			CallbackArgs: t.CallbackArgs,
			State:        p.lifecycle.State().String(),
		}
	}

	queueSize := p.queue.Len()
	inFlight := p.inFlight.Len()
	if inFlight+queueSize >= p.cfg.MaxConcurrentRequests+p.cfg.MaxQueueSize {
		p.notifyCapacityExceeded(queueSize, inFlight)
		return 0, &asyncerr.MaxCapacityError{
			Method:       method,
			URL:          reqURL,
			CallbackArgs: t.CallbackArgs,
			QueueSize:    queueSize,
			InFlight:     inFlight,
		}
	}

	id := task.NewID()
	if !p.queue.TryPush(taskqueue.Entry{ID: id, Task: t}) {
		p.notifyCapacityExceeded(p.queue.Len(), p.inFlight.Len())
		return 0, &asyncerr.MaxCapacityError{
			Method:       method,
			URL:          reqURL,
			CallbackArgs: t.CallbackArgs,
			QueueSize:    p.queue.Len(),
			InFlight:     p.inFlight.Len(),
		}
	}

	select {
	case p.queueSignal <- struct{}{}:
	default:
	}

	return id, nil
}

// Stop drains the Processor: it stops admitting new tasks, waits up to
// drainTimeout for already-accepted tasks to finish, then surrenders
// any survivors to TaskHandler.Retry and transitions to Stopped.
//
// Stop is idempotent; calling it more than once is safe, and only the
// first call does any work.
func (p *Processor) Stop(drainTimeout time.Duration) error {
	var stopErr error
	p.stopOnce.Do(func() {
		stopErr = p.stop(drainTimeout)
	})
	return stopErr
}

// StopDefault calls Stop with the configured Config.DrainTimeout.
func (p *Processor) StopDefault() error {
	return p.Stop(p.cfg.DrainTimeout)
}

func (p *Processor) stop(drainTimeout time.Duration) error {
	if err := p.lifecycle.BeginDrain(); err != nil {
		return err
	}
	select {
	case p.stateSignal <- struct{}{}:
	default:
	}

	drained := make(chan struct{})
	go func() {
		p.drainWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
	}

	if err := p.lifecycle.BeginStop(); err != nil {
		return err
	}
	select {
	case p.stateSignal <- struct{}{}:
	default:
	}

	<-p.reactorDone

	p.surviveToRetry()

	if err := p.lifecycle.MarkStopped(); err != nil {
		return err
	}
	p.notifyStopped()
	return nil
}

// surviveToRetry hands every task still queued or in flight to
// TaskHandler.Retry, exactly once each, recovering any panic.
func (p *Processor) surviveToRetry() {
	for {
		select {
		case e := <-p.queue.C():
			p.retrySafely(e.Task)
		default:
			goto drainInFlight
		}
	}
drainInFlight:
	p.inFlight.Range(func(id task.ID, t task.Task) bool {
		p.retrySafely(t)
		return true
	})
}

func (p *Processor) retrySafely(t task.Task) {
	defer func() {
		if r := recover(); r != nil {
			p.notifyError(fmt.Errorf("asyncx/processor: handler panic in Retry: %v", r), "retry")
		}
	}()
	t.Handler.Retry(t)
}

// Size returns the number of tasks currently buffered in the queue,
// awaiting dispatch.
func (p *Processor) Size() int {
	return p.queue.Len()
}

// InFlightCount returns the number of tasks currently executing.
func (p *Processor) InFlightCount() int {
	return p.inFlight.Len()
}

// State returns the Processor's current lifecycle state.
func (p *Processor) State() lifecycle.State {
	return p.lifecycle.State()
}

// reactor is the single goroutine that owns p.inFlight and p.pool.
func (p *Processor) reactor() {
	defer close(p.reactorDone)
	close(p.readyCh)

	ticker := time.NewTicker(p.cfg.ConnectionIdleTimeout / 2)
	defer ticker.Stop()

	for {
		p.admit()

		if p.lifecycle.State() == lifecycle.Stopping {
			return
		}

		select {
		case <-p.queueSignal:
		case <-p.stateSignal:
			if p.lifecycle.State() == lifecycle.Stopping {
				return
			}
		case id := <-p.completions.C():
			p.drainWG.Done()
			p.inFlight.Remove(id)
		case now := <-ticker.C:
			p.pool.Sweep(now)
		}
	}
}

// admit pops and starts as many queued tasks as capacity and lifecycle
// state allow.
func (p *Processor) admit() {
	for p.lifecycle.AnyWorkPossible() && p.inFlight.Len() < p.cfg.MaxConcurrentRequests {
		select {
		case e := <-p.queue.C():
			id := e.ID
			p.inFlight.Add(id, e.Task)
			p.drainWG.Add(1)
			go p.execute(id, e.Task)
		default:
			return
		}
	}
}

func (p *Processor) onStateTransition(from, to lifecycle.State) {
	p.notifyStateTransition(from, to)
}

// execute runs one task's entire logical exchange (including any
// redirect hops) on its own goroutine, then dispatches the outcome to
// t.Handler and reports completion to the reactor.
func (p *Processor) execute(id task.ID, t task.Task) {
	p.notifyRequestStarted(id, t.Plan)

	ctx := t.Plan.Context()
	resp, respPayload, outcome := p.run(ctx, t)

	if t.RequestPayload != nil {
		p.storage.Release(ctx, *t.RequestPayload)
	}

	if outcome.Success {
		p.dispatchComplete(t, resp)
	} else {
		p.dispatchError(t, outcome.Err)
	}

	if respPayload.IsStored() && !p.cfg.KeepResponsePayloads {
		p.storage.Release(ctx, respPayload)
	}

	p.notifyRequestEnded(id, outcome)
	p.completions.Send(id)
}

// run executes t's logical request, following redirects and sharing a
// single retry budget across the whole chain, per the rule that
// transport retries apply to the logical request, not per attempt
// within a redirect hop.
func (p *Processor) run(ctx context.Context, t task.Task) (*asyncerr.Response, payload.Payload, Outcome) {
	plan := t.Plan

	if t.RequestPayload != nil {
		data, err := p.storage.Materialize(ctx, *t.RequestPayload)
		if err != nil {
			return nil, payload.Payload{}, Outcome{Err: &asyncerr.RequestError{
				Kind: asyncerr.IO, Method: plan.Method, URL: plan.URL.String(),
				CallbackArgs: t.CallbackArgs, Cause: err,
			}}
		}
		plan = plan.WithContext(plan.Context())
		plan.Body = data
	}

	maxRedirects := t.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = p.cfg.DefaultMaxRedirects
	}
	maxResponseSize := t.MaxResponseSize
	if maxResponseSize <= 0 {
		maxResponseSize = p.cfg.MaxResponseSize
	}

	chain := []string{plan.URL.String()}
	visited := map[string]bool{normalizeURL(plan.URL): true}

	budget := p.cfg.TransportRetries
	used := 0
	attempts := 0
	current := plan

	waiter := p.cfg.RetryWaiter
	if waiter == nil {
		waiter = retry.DefaultWaiter
	}

	racingPolicy := t.RacingPolicy
	if racingPolicy == nil {
		racingPolicy = p.cfg.RacingPolicy
	}

	for {
		origin, err := clientpool.OriginOf(current.URL)
		if err != nil {
			return nil, payload.Payload{}, Outcome{Attempts: attempts, Err: &asyncerr.RequestError{
				Kind: asyncerr.Connect, Method: current.Method, URL: current.URL.String(),
				CallbackArgs: t.CallbackArgs, Cause: err,
			}}
		}

		pooled := p.pool.Get(origin)
		remaining := budget - used
		decider := retry.DeciderFunc(func(e *request.Execution) bool {
			return e.Attempt < remaining
		}).And(retry.TransientErr)

		exec := &httpx.Client{
			HTTPDoer:         pooled.HTTPDoer,
			RetryPolicy:      retry.NewPolicy(decider, waiter),
			TimeoutPolicy:    p.cfg.TimeoutPolicy,
			RacingPolicy:     racingPolicy,
			MaxResponseBytes: maxResponseSize,
		}

		ex, err := exec.Do(current)
		used += ex.Attempt + 1
		attempts += ex.Attempt + 1

		if err != nil {
			var tooLarge *asyncerr.ResponseTooLargeError
			if errors.As(err, &tooLarge) {
				out := *tooLarge
				out.CallbackArgs = t.CallbackArgs
				return nil, payload.Payload{}, Outcome{Attempts: attempts, Err: &out}
			}
			p.pool.ReportFailure(origin)
			return nil, payload.Payload{}, Outcome{Attempts: attempts, Err: &asyncerr.RequestError{
				Kind:         classifyRequestErr(err),
				Method:       current.Method,
				URL:          current.URL.String(),
				CallbackArgs: t.CallbackArgs,
				Cause:        err,
			}}
		}
		p.pool.ReportSuccess(origin)

		if isRedirectStatus(ex.Response.StatusCode) {
			if loc := ex.Response.Header.Get("Location"); loc != "" {
				nextURL, parseErr := current.URL.Parse(loc)
				if parseErr == nil {
					if len(chain)-1 >= maxRedirects {
						return nil, payload.Payload{}, Outcome{Attempts: attempts, Err: &asyncerr.RedirectError{
							Kind: asyncerr.TooMany, Method: current.Method, CallbackArgs: t.CallbackArgs, Chain: chain,
						}}
					}
					norm := normalizeURL(nextURL)
					nextChain := append(append([]string{}, chain...), nextURL.String())
					if visited[norm] {
						return nil, payload.Payload{}, Outcome{Attempts: attempts, Err: &asyncerr.RedirectError{
							Kind: asyncerr.Recursive, Method: current.Method, CallbackArgs: t.CallbackArgs, Chain: nextChain,
						}}
					}
					visited[norm] = true
					chain = nextChain

					nextMethod, nextBody := redirectMethodAndBody(ex.Response.StatusCode, current.Method, current.Body)
					next := current.WithContext(current.Context())
					next.Method = nextMethod
					next.URL = nextURL
					next.Body = nextBody
					next.Host = nextURL.Host
					nextOrigin, originErr := clientpool.OriginOf(nextURL)
					if originErr == nil && nextOrigin != origin {
						next.Header = stripCrossOriginHeaders(current.Header)
					}
					current = next
					continue
				}
			}
		}

		resp := &asyncerr.Response{
			Status:       ex.Response.StatusCode,
			Header:       header.FromHTTP(ex.Response.Header),
			Body:         ex.Body,
			Method:       current.Method,
			URL:          current.URL.String(),
			CallbackArgs: t.CallbackArgs,
		}

		respPayload, offloadErr := p.storage.MaybeOffload(ctx, ex.Body, resp.Header.Get("Content-Type"))
		if offloadErr != nil {
			p.cfg.Logger.Warn("asyncx: response payload offload failed", "error", offloadErr)
			respPayload = payload.InlinePayload(ex.Body)
		} else if respPayload.IsStored() {
			materialized, materializeErr := p.storage.Materialize(ctx, respPayload)
			if materializeErr == nil {
				resp.Body = materialized
			}
		}

		if t.RaiseErrorResponses {
			if httpErr := asyncerr.NewHTTPError(resp); httpErr != nil {
				return nil, respPayload, Outcome{Attempts: attempts, StatusCode: resp.Status, Err: httpErr}
			}
		}

		return resp, respPayload, Outcome{Success: true, Attempts: attempts, StatusCode: resp.Status}
	}
}

func (p *Processor) dispatchComplete(t task.Task, resp *asyncerr.Response) {
	defer p.recoverDispatch("OnComplete")
	t.Handler.OnComplete(resp, t.Callback, t.CallbackArgs)
}

func (p *Processor) dispatchError(t task.Task, err error) {
	defer p.recoverDispatch("OnError")
	t.Handler.OnError(err, t.Callback, t.CallbackArgs)
}

func (p *Processor) recoverDispatch(context string) {
	if r := recover(); r != nil {
		p.notifyError(fmt.Errorf("asyncx/processor: handler panic: %v", r), context)
	}
}

func planMethodAndURL(plan *request.Plan) (method, reqURL string) {
	if plan == nil {
		return "", ""
	}
	method = plan.Method
	if plan.URL != nil {
		reqURL = plan.URL.String()
	}
	return method, reqURL
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// redirectMethodAndBody implements the same method/body-preservation
// rule as the Go standard library's http.Client: 307 and 308 preserve
// method and body; 301, 302, and 303 downgrade any non-GET/HEAD method
// to GET and drop the body.
func redirectMethodAndBody(status int, method string, body []byte) (string, []byte) {
	switch status {
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return method, body
	default:
		if method != http.MethodGet && method != http.MethodHead {
			return http.MethodGet, nil
		}
		return method, body
	}
}

// stripCrossOriginHeaders returns a copy of header with the fields that
// must not follow a redirect to a different origin removed: Authorization,
// Cookie, and WWW-Authenticate.
func stripCrossOriginHeaders(header http.Header) http.Header {
	h := header.Clone()
	h.Del("Authorization")
	h.Del("Cookie")
	h.Del("WWW-Authenticate")
	return h
}

func normalizeURL(u *url.URL) string {
	v := *u
	v.Scheme = strings.ToLower(v.Scheme)
	v.Host = strings.ToLower(v.Host)
	v.Fragment = ""
	return v.String()
}

func classifyRequestErr(err error) asyncerr.RequestErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return asyncerr.DNS
	}

	var recordErr tls.RecordHeaderError
	var hostnameErr x509.HostnameError
	var unknownAuthorityErr x509.UnknownAuthorityError
	var certInvalidErr x509.CertificateInvalidError
	switch {
	case errors.As(err, &recordErr),
		errors.As(err, &hostnameErr),
		errors.As(err, &unknownAuthorityErr),
		errors.As(err, &certInvalidErr):
		return asyncerr.TLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return asyncerr.Timeout
	}

	switch transient.Categorize(err) {
	case transient.Timeout:
		return asyncerr.Timeout
	case transient.ConnRefused, transient.ConnReset:
		return asyncerr.Connect
	}
	return asyncerr.IO
}

func (p *Processor) notifyStarted() {
	for _, o := range p.snapshotObservers() {
		o.Started()
	}
}

func (p *Processor) notifyStopped() {
	for _, o := range p.snapshotObservers() {
		o.Stopped()
	}
}

func (p *Processor) notifyRequestStarted(id task.ID, plan *request.Plan) {
	for _, o := range p.snapshotObservers() {
		o.RequestStarted(id, plan)
	}
}

func (p *Processor) notifyRequestEnded(id task.ID, outcome Outcome) {
	for _, o := range p.snapshotObservers() {
		o.RequestEnded(id, outcome)
	}
}

func (p *Processor) notifyError(err error, context string) {
	for _, o := range p.snapshotObservers() {
		o.Error(err, context)
	}
}

func (p *Processor) notifyCapacityExceeded(queueSize, inFlight int) {
	for _, o := range p.snapshotObservers() {
		o.CapacityExceeded(queueSize, inFlight)
	}
}

func (p *Processor) notifyStateTransition(from, to lifecycle.State) {
	for _, o := range p.snapshotObservers() {
		o.StateTransition(from, to)
	}
}

func (p *Processor) snapshotObservers() []ProcessorObserver {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	out := make([]ProcessorObserver, len(p.observers))
	copy(out, p.observers)
	return out
}
