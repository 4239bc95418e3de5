// Package cache backs the rule client with an optional cross-restart
// byte cache. A Valkey-compatible server is used when configured; the
// noop provider keeps the pipeline working without one.
package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the byte cache behind the rule client.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data, so every rule
// lookup falls through to the upstream source.
type NoopProvider struct{}

// Get always reports a miss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// Del is a no-op.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
