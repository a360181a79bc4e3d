// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package header provides a case-insensitive multimap for HTTP headers,
suitable for use on the serializable boundary between the processor and
a TaskHandler, where net/http's own http.Header is not always the right
fit (a TaskHandler may be receiving headers into a process that never
imports net/http, for example a JSON-over-the-wire job queue consumer).
*/
package header

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Headers is a case-insensitive multimap of HTTP header fields. The zero
// value is an empty Headers ready to use.
//
// Headers stores field names in canonical lowercase form internally, but
// Names and MarshalJSON return field names in their originally-supplied
// case for the first value seen for a given name.
type Headers struct {
	values map[string][]string
	names  map[string]string
}

// canon lowercases a header field name for use as the internal map key.
// Headers does not use net/http's CanonicalMIMEHeaderKey because this
// package's canonical form must round-trip through JSON without the
// title-casing convention net/http applies, which is specific to the
// wire format of HTTP/1.1 and not a property of the header value itself.
func canon(name string) string {
	return strings.ToLower(name)
}

// Set sets the header field name to the single value, replacing any
// existing values.
func (h *Headers) Set(name, value string) {
	h.ensure()
	key := canon(name)
	h.values[key] = []string{value}
	h.names[key] = name
}

// Add appends value to the list of values for name, preserving any
// existing values.
func (h *Headers) Add(name, value string) {
	h.ensure()
	key := canon(name)
	h.values[key] = append(h.values[key], value)
	if _, ok := h.names[key]; !ok {
		h.names[key] = name
	}
}

// Get returns the first value associated with name, or "" if there are
// no values.
func (h *Headers) Get(name string) string {
	vs := h.Values(name)
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values associated with name, in the order they were
// added. The returned slice must not be modified by the caller.
func (h *Headers) Values(name string) []string {
	if h.values == nil {
		return nil
	}
	return h.values[canon(name)]
}

// Del removes all values associated with name.
func (h *Headers) Del(name string) {
	if h.values == nil {
		return
	}
	key := canon(name)
	delete(h.values, key)
	delete(h.names, key)
}

// Has reports whether name has at least one value set.
func (h *Headers) Has(name string) bool {
	return len(h.Values(name)) > 0
}

// Names returns the distinct header field names present, in their
// originally-supplied case, sorted for deterministic iteration.
func (h *Headers) Names() []string {
	if h.names == nil {
		return nil
	}
	names := make([]string, 0, len(h.names))
	for _, n := range h.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of h.
func (h *Headers) Clone() *Headers {
	h2 := &Headers{}
	if h.values == nil {
		return h2
	}
	h2.ensure()
	for k, vs := range h.values {
		cp := make([]string, len(vs))
		copy(cp, vs)
		h2.values[k] = cp
	}
	for k, v := range h.names {
		h2.names[k] = v
	}
	return h2
}

func (h *Headers) ensure() {
	if h.values == nil {
		h.values = make(map[string][]string)
		h.names = make(map[string]string)
	}
}

// FromHTTP converts a net/http Header into Headers.
func FromHTTP(hdr http.Header) *Headers {
	h := &Headers{}
	for name, vs := range hdr {
		for _, v := range vs {
			h.Add(name, v)
		}
	}
	return h
}

// ToHTTP converts Headers into a net/http Header, canonicalizing field
// names per net/http's own MIME-header convention.
func (h *Headers) ToHTTP() http.Header {
	out := make(http.Header)
	if h.values == nil {
		return out
	}
	for key, vs := range h.values {
		name := h.names[key]
		for _, v := range vs {
			out.Add(name, v)
		}
	}
	return out
}

// MarshalJSON renders Headers as a JSON object mapping each header field
// name (in its originally-supplied case) to an array of its values, so
// that round-tripping through JSON preserves both multi-valued fields and
// the case a TaskHandler may rely on for display purposes.
func (h *Headers) MarshalJSON() ([]byte, error) {
	plain := make(map[string][]string, len(h.names))
	for key, vs := range h.values {
		plain[h.names[key]] = vs
	}
	return json.Marshal(plain)
}

// UnmarshalJSON restores Headers from the format produced by MarshalJSON.
func (h *Headers) UnmarshalJSON(data []byte) error {
	var plain map[string][]string
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	*h = Headers{}
	for name, vs := range plain {
		for _, v := range vs {
			h.Add(name, v)
		}
	}
	return nil
}
