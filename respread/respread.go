// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package respread streams an HTTP response body into a byte slice while
enforcing a hard maximum size and transparently decompressing
gzip/deflate-encoded bodies, turning an unbounded io.ReadAll into a
size-limited read suitable for an untrusted or misbehaving upstream.
*/
package respread

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/gogama/httpx/asyncerr"
)

// Read reads r to completion (or until maxBytes is exceeded) and returns
// the resulting bytes.
//
// If contentEncoding is "gzip" or "deflate" (case-insensitive), r is
// transparently decompressed first, and maxBytes bounds the decompressed
// size, not the wire size.
//
// If more than maxBytes would be produced, Read aborts without
// completing the read and returns an *asyncerr.ResponseTooLargeError;
// the caller is responsible for closing the underlying response body so
// the connection is torn down instead of drained to completion.
//
// If r ends before a well-formed body has been fully read (for example a
// connection reset mid-stream, or a truncated gzip stream), Read returns
// an *asyncerr.RequestError with Kind asyncerr.IO.
func Read(r io.Reader, maxBytes int64, contentEncoding, method, url string) ([]byte, error) {
	decoded, err := decompress(r, contentEncoding)
	if err != nil {
		return nil, &asyncerr.RequestError{Kind: asyncerr.IO, Method: method, URL: url, Cause: err}
	}

	limited := io.LimitReader(decoded, maxBytes+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, &asyncerr.RequestError{Kind: asyncerr.IO, Method: method, URL: url, Cause: err}
	}

	if int64(len(buf)) > maxBytes {
		return nil, &asyncerr.ResponseTooLargeError{
			Method:   method,
			URL:      url,
			Limit:    maxBytes,
			Received: maxBytes + 1,
		}
	}

	return buf, nil
}

func decompress(r io.Reader, contentEncoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("asyncx/respread: invalid gzip stream: %w", err)
		}
		return gr, nil
	case "deflate":
		return flate.NewReader(r), nil
	case "", "identity":
		return r, nil
	default:
		return r, nil
	}
}
