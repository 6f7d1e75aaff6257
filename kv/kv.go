// Package kv is the key-value store records are persisted into.
//
// A Store maps opaque string keys to byte values (JSON blobs in practice).
// Stores don't support listing keys: enumerating records is the job of
// package index.
//
// Drivers:
//   - Memory: in-process map, for tests and local runs
//   - Dir: one file per key, written atomically
//   - Redis: github.com/redis/go-redis/v9
//   - Minio: any S3-compatible object storage
//   - DynamoDB: one item per key in a DynamoDB table
//
// Stores that can apply a read-modify-write atomically implement Updater.
// Minio doesn't, callers must serialize updates themselves.
package kv

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get for a key that was never written
	ErrNotFound = errors.New("kv: key not found")
	// ErrConflict is returned by Update when another writer kept winning
	ErrConflict = errors.New("kv: too many concurrent updates")
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// UpdateFunc receives the current value (nil if the key doesn't exist)
// and returns the value to store. It can be called more than once so
// it must not have side effects.
type UpdateFunc func(old []byte) ([]byte, error)

// Updater is implemented by stores that apply UpdateFunc atomically
// with respect to other writers of the same key.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

const maxUpdateAttempts = 32

// retryOnConflict calls try until it succeeds, fails with an error other
// than ErrConflict or runs out of attempts
func retryOnConflict(ctx context.Context, try func() error) error {
	for i := 0; i < maxUpdateAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := try()
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return ErrConflict
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("kv: empty key")
	}
	return nil
}
