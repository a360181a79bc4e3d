// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package payload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ExternalStorage decides when a byte slice exceeds a configured
// threshold and should be offloaded to a Store, and resolves previously
// offloaded Payload values back into bytes.
//
// The zero value has a nil Store and a zero Threshold, which means
// MaybeOffload always returns an Inline payload: offload is opt-in by
// configuring a Store.
type ExternalStorage struct {
	// Store is the backend payloads are offloaded to. If nil,
	// MaybeOffload never offloads.
	Store Store

	// Threshold is the size, in bytes, above which a payload is
	// offloaded. A payload of exactly Threshold bytes is not offloaded.
	Threshold int64

	// StoreID is recorded on every StoredRef this ExternalStorage
	// creates, so a Payload can be routed back to the Store that
	// produced it even if multiple stores are in play.
	StoreID string

	// Logger receives best-effort diagnostics, such as a failed
	// Delete during cleanup. If nil, slog.Default() is used.
	Logger *slog.Logger
}

func (s *ExternalStorage) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// MaybeOffload returns an Inline Payload wrapping data if s.Store is nil
// or len(data) does not exceed s.Threshold. Otherwise it puts data into
// s.Store under a freshly generated key and returns a Stored Payload
// referencing it.
func (s *ExternalStorage) MaybeOffload(ctx context.Context, data []byte, contentType string) (Payload, error) {
	if s.Store == nil || int64(len(data)) <= s.Threshold {
		return InlinePayload(data), nil
	}

	key := uuid.NewString()
	ref, err := s.Store.Put(ctx, key, data, contentType)
	if err != nil {
		return Payload{}, fmt.Errorf("asyncx/payload: offload failed: %w", err)
	}

	return Payload{
		Stored: &StoredRef{
			StoreID:     s.StoreID,
			Key:         ref,
			Size:        int64(len(data)),
			ContentType: contentType,
		},
	}, nil
}

// Materialize returns p's bytes, resolving a Stored payload through
// s.Store if necessary. Resolving the same Stored payload twice is safe
// and returns the same bytes both times (idempotent), since Materialize
// never mutates the backing store.
func (s *ExternalStorage) Materialize(ctx context.Context, p Payload) ([]byte, error) {
	if !p.IsStored() {
		return p.Inline, nil
	}
	if s.Store == nil {
		return nil, fmt.Errorf("asyncx/payload: payload references store %q but no store is configured", p.Stored.StoreID)
	}
	data, err := s.Store.Get(ctx, p.Stored.Key)
	if err != nil {
		return nil, fmt.Errorf("asyncx/payload: materialize failed: %w", err)
	}
	return data, nil
}

// Release deletes the bytes backing a Stored payload, if any. Release
// on an Inline payload does nothing. Deletion failures are logged at
// Warn and never returned.
func (s *ExternalStorage) Release(ctx context.Context, p Payload) {
	if !p.IsStored() || s.Store == nil {
		return
	}
	if err := s.Store.Delete(ctx, p.Stored.Key); err != nil {
		s.logger().Warn("asyncx: failed to delete offloaded payload",
			slog.String("key", p.Stored.Key),
			slog.Any("error", err))
	}
}
