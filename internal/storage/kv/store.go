// Package kv defines the key/value collaborator used for chats, research
// state and usage tallies. Implementations live in storage/redis and
// storage/memory.
package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// Store is the subset of Redis semantics the service relies on: hashes,
// lists, sorted sets and atomic pipelines.
type Store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, values map[string]string) error
	Del(ctx context.Context, keys ...string) error
	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
	// Pipeline queues writes and applies them atomically. Nothing is applied
	// when fn returns an error.
	Pipeline(ctx context.Context, fn func(p Pipe) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Pipe is the write side available inside Store.Pipeline.
type Pipe interface {
	HSet(key string, values map[string]string)
	Del(keys ...string)
	LPush(key string, values ...string)
	ZAdd(key string, score float64, member string)
	ZRem(key string, members ...string)
}
