// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package filestore implements payload.Store on top of the local
filesystem, storing each payload as a single file under a configured
root directory, and its content type alongside it in a sidecar file.
*/
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is a payload.Store backed by the local filesystem.
type Store struct {
	root string
}

// New constructs a Store rooted at dir. The directory is created if it
// does not already exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("asyncx/payload/filestore: %w", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(key string) (string, error) {
	if strings.Contains(key, "..") || filepath.IsAbs(key) {
		return "", fmt.Errorf("asyncx/payload/filestore: invalid key %q", key)
	}
	return filepath.Join(s.root, key), nil
}

// Put writes data to a file named key under the store's root directory,
// creating any intermediate directories key's "/"-separated segments
// imply, and records contentType in a sidecar ".ctype" file.
func (s *Store) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("asyncx/payload/filestore: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("asyncx/payload/filestore: %w", err)
	}
	if contentType != "" {
		if err := os.WriteFile(p+".ctype", []byte(contentType), 0o644); err != nil {
			return "", fmt.Errorf("asyncx/payload/filestore: %w", err)
		}
	}
	return key, nil
}

// Get reads back the bytes stored under ref.
func (s *Store) Get(_ context.Context, ref string) ([]byte, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("asyncx/payload/filestore: %w", err)
	}
	return data, nil
}

// Delete removes the file stored under ref and its content-type
// sidecar, if any. Deleting a key that does not exist is not an error.
func (s *Store) Delete(_ context.Context, ref string) error {
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("asyncx/payload/filestore: %w", err)
	}
	_ = os.Remove(p + ".ctype")
	return nil
}

// Exists reports whether ref currently refers to a file under the
// store's root directory.
func (s *Store) Exists(_ context.Context, ref string) (bool, error) {
	p, err := s.path(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("asyncx/payload/filestore: %w", err)
}
