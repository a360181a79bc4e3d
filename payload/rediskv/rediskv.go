// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package rediskv implements payload.Store on top of Redis, using
github.com/redis/go-redis/v9.
*/
package rediskv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisNewClient is a package-level indirection over redis.NewClient so
// tests can substitute a mocked client, the same seam
// onix/plugins/rediscache uses for its own redisNewClient variable.
var redisNewClient = redis.NewClient

// Config configures a Store.
type Config struct {
	// Addr is the Redis server address, host:port.
	Addr string

	// Password is the Redis AUTH password, if any.
	Password string

	// DB selects the Redis logical database.
	DB int

	// TTL, if positive, is applied to every key this Store puts, so
	// offloaded payloads expire automatically rather than accumulating
	// forever if a caller's cleanup path is skipped.
	TTL time.Duration
}

// Store is a payload.Store backed by Redis. Values are stored as plain
// Redis strings; content type is not currently persisted since Redis
// has no native sidecar-metadata concept analogous to filestore's
// ".ctype" file, and this adapter does not need it for Materialize to
// work (the content type travels separately on the StoredRef produced
// by payload.ExternalStorage).
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a Store from cfg, verifying connectivity with a Ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("asyncx/payload/rediskv: missing required config 'Addr'")
	}
	client := redisNewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("asyncx/payload/rediskv: %w", err)
	}
	return &Store{client: client, ttl: cfg.TTL}, nil
}

// Put stores data under key with an optional TTL.
func (s *Store) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("asyncx/payload/rediskv: %w", err)
	}
	return key, nil
}

// Get retrieves the bytes stored under ref.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := s.client.Get(ctx, ref).Bytes()
	if err != nil {
		return nil, fmt.Errorf("asyncx/payload/rediskv: %w", err)
	}
	return data, nil
}

// Delete removes ref. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, ref string) error {
	if err := s.client.Del(ctx, ref).Err(); err != nil {
		return fmt.Errorf("asyncx/payload/rediskv: %w", err)
	}
	return nil
}

// Exists reports whether ref currently refers to a value.
func (s *Store) Exists(ctx context.Context, ref string) (bool, error) {
	n, err := s.client.Exists(ctx, ref).Result()
	if err != nil {
		return false, fmt.Errorf("asyncx/payload/rediskv: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
