// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package asyncerr provides the serializable result and error types which
flow from an asyncx Processor across the boundary to a user-supplied
TaskHandler. Every type in this package can be marshalled to JSON and
back without loss, because a TaskHandler implementation may live in a
different process (for example, behind an external job queue) from the
Processor that produced the result.
*/
package asyncerr

import (
	"github.com/gogama/httpx/header"
)

// A Response is the immutable, serializable result of a successful HTTP
// exchange, as delivered to TaskHandler.OnComplete.
type Response struct {
	// Status is the HTTP response status code, in the range 100-599.
	Status int `json:"status"`

	// Header contains the HTTP response header fields.
	Header *header.Headers `json:"header"`

	// Body is the complete, already-materialized response body. It is
	// nil if the response had no body.
	Body []byte `json:"body,omitempty"`

	// Method is the HTTP method of the originating request.
	Method string `json:"method"`

	// URL is the URL that produced this Response: the task's original
	// URL, or the final URL in the chain if one or more redirects were
	// followed.
	URL string `json:"url"`

	// CallbackArgs is the opaque value forwarded verbatim from the
	// RequestTask that produced this Response.
	CallbackArgs interface{} `json:"callback_args,omitempty"`
}
