// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package clientpool

import (
	"container/list"
	"crypto/tls"
	"net/http"
	urlpkg "net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/gogama/httpx"
)

// Config configures a Pool. Proxy and TLS options are derived once, at
// pool construction, from this Config.
type Config struct {
	// MaxClients is the maximum number of distinct origin clients the
	// pool retains at once. The least-recently-used entry is evicted
	// when a new origin would exceed this limit. Zero means unbounded.
	MaxClients int

	// IdleTimeout is how long an origin's client may sit unused before
	// Sweep evicts it. Zero disables idle eviction.
	IdleTimeout time.Duration

	// TransportFailureThreshold is the number of consecutive
	// transport-categorized failures (see package transient) after
	// which an origin's client is retired and rebuilt from scratch on
	// its next use. Zero disables health-check-driven retirement.
	TransportFailureThreshold int

	// Proxy, if non-nil, is used for every client the pool builds.
	Proxy *urlpkg.URL

	// TLSClientConfig, if non-nil, is used for every client the pool
	// builds.
	TLSClientConfig *tls.Config
}

type entry struct {
	origin       Origin
	client       *httpx.Client
	transport    *http.Transport
	lastUsed     time.Time
	failureCount int
	elem         *list.Element
}

// A Pool maps Origin to a long-lived *httpx.Client, bounding the number
// of retained origins and evicting idle or unhealthy ones.
//
// A Pool is safe for concurrent use: every per-task execution goroutine
// resolves its own origin independently, and a redirect hop may retarget
// a different origin mid-task, so Get, ReportFailure, ReportSuccess, and
// Sweep all take an internal mutex rather than assuming a single caller.
// The mutex only guards bookkeeping (the map and LRU list); it is never
// held across network I/O, which happens on the pooled *httpx.Client
// returned by Get, outside the lock.
type Pool struct {
	cfg     Config
	mu      sync.Mutex
	entries map[Origin]*entry
	lru     *list.List // front = most recently used
}

// New constructs a Pool from cfg.
func New(cfg Config) *Pool {
	return &Pool{
		cfg:     cfg,
		entries: make(map[Origin]*entry),
		lru:     list.New(),
	}
}

// Get returns the pooled client for origin, building and caching one
// (evicting the least-recently-used entry first, if necessary) if none
// exists yet. The returned client's HTTPDoer is the pooled, connection
// caching *http.Client for origin; callers should not mutate the
// returned *httpx.Client's fields, as it is shared across calls.
func (p *Pool) Get(origin Origin) *httpx.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[origin]; ok {
		e.lastUsed = time.Now()
		p.lru.MoveToFront(e.elem)
		return e.client
	}

	p.evictIfFull()

	transport := p.newTransport(origin)
	e := &entry{
		origin:    origin,
		transport: transport,
		client: &httpx.Client{
			HTTPDoer: &http.Client{
				Transport: transport,
				// Redirect following is done by the processor, one hop
				// at a time, so it can enforce a per-task redirect cap
				// and detect recursive chains instead of deferring to
				// net/http's own fixed limit.
				CheckRedirect: func(*http.Request, []*http.Request) error {
					return http.ErrUseLastResponse
				},
			},
		},
		lastUsed: time.Now(),
	}
	e.elem = p.lru.PushFront(origin)
	p.entries[origin] = e
	return e.client
}

// newTransport builds an *http.Transport for origin using the pool's
// configured proxy and TLS settings, then explicitly configures it for
// HTTP/2 multiplexing via golang.org/x/net/http2 (the same package
// httptest.Server's EnableHTTP2 option relies on) rather than depending
// only on net/http's implicit, version-dependent ALPN negotiation.
func (p *Pool) newTransport(origin Origin) *http.Transport {
	t := &http.Transport{
		TLSClientConfig: p.cfg.TLSClientConfig,
	}
	if p.cfg.Proxy != nil {
		proxyURL := p.cfg.Proxy
		t.Proxy = http.ProxyURL(proxyURL)
	}
	if origin.Scheme == "https" {
		_ = http2.ConfigureTransport(t)
	}
	return t
}

// ReportFailure increments origin's consecutive transport-failure
// counter. If the counter reaches cfg.TransportFailureThreshold, the
// entry is retired: the next Get for origin builds a fresh client and
// transport instead of reusing the unhealthy one.
func (p *Pool) ReportFailure(origin Origin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[origin]
	if !ok {
		return
	}
	e.failureCount++
	if p.cfg.TransportFailureThreshold > 0 && e.failureCount >= p.cfg.TransportFailureThreshold {
		p.remove(origin)
	}
}

// ReportSuccess resets origin's consecutive transport-failure counter.
func (p *Pool) ReportSuccess(origin Origin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[origin]; ok {
		e.failureCount = 0
	}
}

// Sweep evicts every origin whose client has been idle longer than
// cfg.IdleTimeout, as of now.
func (p *Pool) Sweep(now time.Time) {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for origin, e := range p.entries {
		if now.Sub(e.lastUsed) >= p.cfg.IdleTimeout {
			p.remove(origin)
		}
	}
}

// Close evicts every pooled entry, closing idle connections on each
// underlying transport first.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for origin := range p.entries {
		p.remove(origin)
	}
}

// Len reports the number of distinct origins currently pooled.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) remove(origin Origin) {
	e, ok := p.entries[origin]
	if !ok {
		return
	}
	e.transport.CloseIdleConnections()
	p.lru.Remove(e.elem)
	delete(p.entries, origin)
}

func (p *Pool) evictIfFull() {
	if p.cfg.MaxClients <= 0 || len(p.entries) < p.cfg.MaxClients {
		return
	}
	back := p.lru.Back()
	if back == nil {
		return
	}
	p.remove(back.Value.(Origin))
}
