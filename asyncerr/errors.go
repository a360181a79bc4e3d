// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asyncerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// A RequestError indicates an HTTP request attempt could not be formed or
// dispatched at all: no HTTP response was ever received. It is delivered
// to TaskHandler.OnError, never returned synchronously.
type RequestError struct {
	Kind         RequestErrorKind
	Method       string
	URL          string
	CallbackArgs interface{}
	Cause        error
}

func (e *RequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("asyncx: %s %s: %s: %v", e.Method, e.URL, e.Kind, e.Cause)
	}
	return fmt.Sprintf("asyncx: %s %s: %s", e.Method, e.URL, e.Kind)
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *RequestError) Unwrap() error { return e.Cause }

type requestErrorJSON struct {
	Kind         string      `json:"kind"`
	Method       string      `json:"method"`
	URL          string      `json:"url"`
	CallbackArgs interface{} `json:"callback_args,omitempty"`
	Cause        string      `json:"cause,omitempty"`
}

func (e *RequestError) MarshalJSON() ([]byte, error) {
	j := requestErrorJSON{
		Kind:         e.Kind.String(),
		Method:       e.Method,
		URL:          e.URL,
		CallbackArgs: e.CallbackArgs,
	}
	if e.Cause != nil {
		j.Cause = e.Cause.Error()
	}
	return json.Marshal(j)
}

func (e *RequestError) UnmarshalJSON(data []byte) error {
	var j requestErrorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.Kind = parseRequestErrorKind(j.Kind)
	e.Method = j.Method
	e.URL = j.URL
	e.CallbackArgs = j.CallbackArgs
	if j.Cause != "" {
		e.Cause = errors.New(j.Cause)
	} else {
		e.Cause = nil
	}
	return nil
}

// An HTTPError indicates a response was received but is being treated as
// a failure because the originating task.Task set
// RaiseErrorResponses and the response status was >= 400. HTTPError is
// only ever constructed as one of its two subtypes, ClientError or
// ServerError.
type HTTPError struct {
	Response *Response
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("asyncx: %s %s: unexpected status %d", e.Response.Method, e.Response.URL, e.Response.Status)
}

// A ClientError is an HTTPError whose response status is in the 4xx
// range.
type ClientError struct{ HTTPError }

// A ServerError is an HTTPError whose response status is in the 5xx
// range.
type ServerError struct{ HTTPError }

// NewHTTPError constructs a ClientError or ServerError according to
// resp.Status, or returns nil if resp.Status is not an error status
// (i.e. it is less than 400).
func NewHTTPError(resp *Response) error {
	switch {
	case resp.Status >= 500:
		return &ServerError{HTTPError{Response: resp}}
	case resp.Status >= 400:
		return &ClientError{HTTPError{Response: resp}}
	default:
		return nil
	}
}

// A RedirectError indicates the redirect-following logic aborted the
// exchange, either because the chain grew too long (TooMany) or because
// it revisited a previously-visited normalized URL (Recursive).
type RedirectError struct {
	Kind         RedirectErrorKind
	Method       string
	CallbackArgs interface{}
	Chain        []string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("asyncx: %s %s: redirect error: %s", e.Method, e.finalURL(), e.Kind)
}

func (e *RedirectError) finalURL() string {
	if len(e.Chain) == 0 {
		return ""
	}
	return e.Chain[len(e.Chain)-1]
}

type redirectErrorJSON struct {
	Kind         string      `json:"kind"`
	Method       string      `json:"method"`
	CallbackArgs interface{} `json:"callback_args,omitempty"`
	Chain        []string    `json:"chain"`
}

func (e *RedirectError) MarshalJSON() ([]byte, error) {
	return json.Marshal(redirectErrorJSON{
		Kind:         e.Kind.String(),
		Method:       e.Method,
		CallbackArgs: e.CallbackArgs,
		Chain:        e.Chain,
	})
}

func (e *RedirectError) UnmarshalJSON(data []byte) error {
	var j redirectErrorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.Kind = parseRedirectErrorKind(j.Kind)
	e.Method = j.Method
	e.CallbackArgs = j.CallbackArgs
	e.Chain = j.Chain
	return nil
}

// URL returns the final URL in the redirect chain, which is the URL
// where the error condition was detected.
func (e *RedirectError) URL() string {
	return e.finalURL()
}

// A ResponseTooLargeError indicates the response body exceeded the
// configured maximum response size. The connection is closed without
// reading the remainder of the body.
type ResponseTooLargeError struct {
	Method       string
	URL          string
	CallbackArgs interface{}
	Limit        int64
	Received     int64
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("asyncx: %s %s: response body exceeded limit of %d bytes (received at least %d)",
		e.Method, e.URL, e.Limit, e.Received)
}

// A NotRunningError is returned synchronously from Processor.Enqueue when
// the processor is not in a state that accepts new tasks.
type NotRunningError struct {
	Method       string
	URL          string
	CallbackArgs interface{}
	State        string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("asyncx: %s %s: processor is not running (state=%s)", e.Method, e.URL, e.State)
}

// A MaxCapacityError is returned synchronously from Processor.Enqueue
// when the processor's queue and in-flight set are both full.
type MaxCapacityError struct {
	Method       string
	URL          string
	CallbackArgs interface{}
	QueueSize    int
	InFlight     int
}

func (e *MaxCapacityError) Error() string {
	return fmt.Sprintf("asyncx: %s %s: at max capacity (queue=%d, in_flight=%d)",
		e.Method, e.URL, e.QueueSize, e.InFlight)
}
