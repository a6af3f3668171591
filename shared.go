// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import "sync"

// The shared client serves code without a composition root to inject a
// *Client through. Everything else should construct its own with New.
var (
	sharedMu sync.Mutex
	shared   *Client
)

// Init creates the shared client.
func Init(cfg Config, opts ...Option) error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		return ErrAlreadyInitialized
	}
	c, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	shared = c
	return nil
}

// Configure creates the shared client with cfg, or replaces the configuration
// of the existing one.
func Configure(cfg Config, opts ...Option) error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		return shared.Configure(cfg)
	}
	c, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	shared = c
	return nil
}

// Shared returns the shared client.
func Shared() (*Client, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		return nil, ErrNotInitialized
	}
	return shared, nil
}

// Teardown closes and forgets the shared client.
func Teardown() error {
	sharedMu.Lock()
	c := shared
	shared = nil
	sharedMu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
