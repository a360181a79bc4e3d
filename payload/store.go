// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package payload

import "context"

// Store is the capability set an external payload store backend must
// implement. Keys are opaque strings; UUIDs are recommended but not
// required.
//
// Implementations of Store must be safe for concurrent use by multiple
// goroutines, and Delete must be idempotent (deleting a key that does
// not exist is not an error).
//
// Store is modeled as a capability-set interface, not a type hierarchy,
// matching storage.Store's shape: a context-first, []byte-valued,
// key-addressed contract that any of a file, key-value, object, or
// relational backend can satisfy identically.
type Store interface {
	// Put stores data under key with the given content type, and
	// returns an opaque reference which Get, Delete, and Exists accept.
	// The returned ref is usually just key itself, but is not required
	// to be.
	Put(ctx context.Context, key string, data []byte, contentType string) (ref string, err error)

	// Get retrieves the bytes previously stored under ref.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete removes the bytes stored under ref. Delete on a
	// non-existent ref returns nil, not an error.
	Delete(ctx context.Context, ref string) error

	// Exists reports whether ref currently refers to stored bytes.
	Exists(ctx context.Context, ref string) (bool, error)
}
