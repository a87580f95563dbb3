package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the store implementation cannot find the value
	// for a given key.
	ErrNotFound = errors.New("store: key not found")

	// ErrCantDecode is returned when a store adaptor cannot decode the store format
	// to a value used by the code.
	ErrCantDecode = errors.New("store: can't decode value")

	// ErrCantEncode is returned when a store adaptor cannot encode the value into
	// the format that the store uses.
	ErrCantEncode = errors.New("store: can't encode value")

	// ErrBadConfig is returned when a store adaptor's configuration is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")

	// ErrConflict is returned when an atomic update could not be applied because
	// the value kept changing underneath it.
	ErrConflict = errors.New("store: concurrent modification")
)

// Interface defines the calls that linecaptcha uses for storage in a local or
// remote datastore. This can be implemented with an in-memory, on-disk, or
// in-database storage backend.
type Interface interface {
	// Delete removes a value from the store by key.
	Delete(ctx context.Context, key string) error

	// Get returns the value of a key assuming that value exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set puts a value into the store that expires according to its expiry.
	Set(ctx context.Context, key string, value []byte, expiry time.Duration) error

	// Update atomically replaces the value of a live key with the result of fn,
	// keeping the key's remaining expiry. It returns ErrNotFound when the key
	// does not exist or has expired. Errors returned by fn abort the update and
	// are passed through unchanged. fn may be called more than once.
	Update(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error
}

func z[T any]() T { return *new(T) }

// JSON wraps an Interface and stores values of type T as JSON documents,
// optionally under a key prefix.
type JSON[T any] struct {
	Underlying Interface
	Prefix     string
}

func (j *JSON[T]) key(key string) string {
	if j.Prefix != "" {
		return j.Prefix + key
	}

	return key
}

func (j *JSON[T]) Delete(ctx context.Context, key string) error {
	return j.Underlying.Delete(ctx, j.key(key))
}

func (j *JSON[T]) Get(ctx context.Context, key string) (T, error) {
	data, err := j.Underlying.Get(ctx, j.key(key))
	if err != nil {
		return z[T](), err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return z[T](), fmt.Errorf("%w: %w", ErrCantDecode, err)
	}

	return result, nil
}

func (j *JSON[T]) Set(ctx context.Context, key string, value T, expiry time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCantEncode, err)
	}

	if err := j.Underlying.Set(ctx, j.key(key), data, expiry); err != nil {
		return err
	}

	return nil
}

// Update decodes the current value, hands a pointer to it to fn and stores
// the result atomically. The final decoded value is returned.
func (j *JSON[T]) Update(ctx context.Context, key string, fn func(*T) error) (T, error) {
	var result T

	err := j.Underlying.Update(ctx, j.key(key), func(data []byte) ([]byte, error) {
		var val T
		if err := json.Unmarshal(data, &val); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCantDecode, err)
		}

		if err := fn(&val); err != nil {
			return nil, err
		}

		next, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCantEncode, err)
		}

		result = val
		return next, nil
	})
	if err != nil {
		return z[T](), err
	}

	return result, nil
}
