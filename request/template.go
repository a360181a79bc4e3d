// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"fmt"
	"net/http"
	urlpkg "net/url"
	"time"
)

// DefaultTemplateTimeout is the timeout EffectiveTimeout reports when the
// template itself has no Timeout set.
const DefaultTemplateTimeout = 30 * time.Second

// bodyForbiddenMethods is the set of methods that may never carry a
// request body.
var bodyForbiddenMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodDelete: true,
}

// A Template is an immutable factory for Plan values which merges a set
// of defaults (base URL, default headers, and default query parameters)
// onto each Plan it builds, with per-plan headers taking precedence over
// the template's defaults. A Plan has no timeout, redirect cap or
// raise-error-responses field, so Plan does not apply the template's
// Timeout, MaxRedirects or RaiseErrorResponses.
//
// Template mirrors the role NewPlan/NewPlanWithContext play for one-off
// plans, but for the common case of many requests sharing a base URL and
// baseline configuration (for example, all requests issued against one
// upstream API).
type Template struct {
	// BaseURL, if non-nil, is resolved against a relative URL passed to
	// Plan. An absolute URL passed to Plan is used as-is.
	BaseURL *urlpkg.URL

	// Header contains default header fields merged into every Plan this
	// Template builds. Per-plan headers of the same name take precedence.
	Header http.Header

	// Params contains default query parameters appended to every Plan's
	// URL query string. Per-plan query parameters of the same name are
	// preserved alongside, not replaced.
	Params urlpkg.Values

	// Timeout is the template's default timeout, as reported by
	// EffectiveTimeout. If zero, DefaultTemplateTimeout is reported.
	Timeout time.Duration

	// MaxRedirects is a redirect cap carried by the template. Plan does
	// not apply it, and nothing in this module reads it.
	MaxRedirects int

	// RaiseErrorResponses is a raise-error-responses default carried by
	// the template. Plan does not apply it; the processor reads
	// task.Task.RaiseErrorResponses instead.
	RaiseErrorResponses bool
}

// Plan builds a new Plan for method and url (absolute, or relative to
// t.BaseURL), applying t's defaults, then validates the following
// invariants:
//
//   - a body is forbidden on GET and DELETE;
//   - an empty string body is normalized to absent;
//   - if body is a JSONBody and no explicit Content-Type header was set
//     (neither on the template nor the per-plan header), Content-Type
//     defaults to "application/json; encoding=utf-8".
func (t *Template) Plan(method, url string, body interface{}, header http.Header) (*Plan, error) {
	resolved, err := t.resolveURL(url)
	if err != nil {
		return nil, err
	}

	if s, ok := body.(string); ok && s == "" {
		body = nil
	}

	_, isJSON := body.(JSONBody)

	p, err := NewPlan(method, resolved, body)
	if err != nil {
		return nil, err
	}

	if bodyForbiddenMethods[p.Method] && len(p.Body) > 0 {
		return nil, fmt.Errorf("httpx/request: method %s may not carry a body", p.Method)
	}

	mergeHeader(p.Header, header)
	mergeHeader(p.Header, t.Header)

	if isJSON && p.Header.Get("Content-Type") == "" {
		p.Header.Set("Content-Type", "application/json; encoding=utf-8")
	}

	mergeParams(p.URL, t.Params)

	return p, nil
}

// resolveURL resolves url against t.BaseURL if url is relative and
// t.BaseURL is set; otherwise it returns url unchanged.
func (t *Template) resolveURL(url string) (string, error) {
	if t.BaseURL == nil {
		return url, nil
	}
	ref, err := urlpkg.Parse(url)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return url, nil
	}
	return t.BaseURL.ResolveReference(ref).String(), nil
}

// EffectiveTimeout returns t.Timeout, or DefaultTemplateTimeout if unset.
func (t *Template) EffectiveTimeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTemplateTimeout
	}
	return t.Timeout
}

// mergeHeader copies entries from src into dst without overwriting any
// key dst already has set, so a more specific header always wins over a
// more general default.
func mergeHeader(dst, src http.Header) {
	for k, vs := range src {
		if _, ok := dst[k]; ok {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// mergeParams appends src's query parameters onto u's existing query
// string, preserving any parameters already present on u.
func mergeParams(u *urlpkg.URL, src urlpkg.Values) {
	if len(src) == 0 {
		return
	}
	q := u.Query()
	for k, vs := range src {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
}
