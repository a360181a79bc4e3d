// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package payload provides the Payload value type and the ExternalStorage
policy that decides when a request or response body should be offloaded
to an external Store rather than carried inline in process memory.
*/
package payload

// A Payload is either an Inline byte slice or a Stored reference which
// must be resolved through a Store to obtain the underlying bytes.
//
// Payload is a closed sum type with exactly two shapes, modeled as a
// single struct with a discriminant rather than an interface, the same
// way request.Plan models "request with or without a body" as one
// struct rather than a type hierarchy: a Payload's shape is determined
// entirely by whether Stored is non-nil.
type Payload struct {
	// Inline holds the payload bytes directly. Non-nil iff Stored is nil.
	Inline []byte

	// Stored holds a reference to externally-stored payload bytes.
	// Non-nil iff Inline is nil (for a zero-length inline payload,
	// Inline is a non-nil empty slice, not nil).
	Stored *StoredRef
}

// A StoredRef identifies payload bytes held in an external Store.
type StoredRef struct {
	// StoreID names the Store the reference was put into. The zero value
	// refers to ExternalStorage's own configured Store.
	StoreID string `json:"store_id,omitempty"`

	// Key is the opaque key under which the bytes were stored.
	Key string `json:"key"`

	// Size is the size of the stored bytes, in bytes, as of the Put
	// call that created this reference.
	Size int64 `json:"size"`

	// ContentType is the MIME content type associated with the stored
	// bytes at the time they were put.
	ContentType string `json:"content_type,omitempty"`
}

// InlinePayload constructs an inline Payload wrapping data directly.
func InlinePayload(data []byte) Payload {
	if data == nil {
		data = []byte{}
	}
	return Payload{Inline: data}
}

// IsStored reports whether p must be resolved through a Store before its
// bytes are available.
func (p Payload) IsStored() bool {
	return p.Stored != nil
}

// Size returns the payload's size without requiring resolution: the
// length of Inline, or the recorded Size of Stored.
func (p Payload) Size() int64 {
	if p.Stored != nil {
		return p.Stored.Size
	}
	return int64(len(p.Inline))
}
