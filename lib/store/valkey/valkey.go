package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

// maxUpdateRetries bounds how often an optimistic transaction is retried
// after another client touched the watched key.
const maxUpdateRetries = 16

type Store struct {
	rdb    *valkey.Client
	prefix string
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("can't delete %q from valkey: %w", key, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	switch {
	case errors.Is(err, valkey.Nil):
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	case err != nil:
		return nil, fmt.Errorf("can't fetch %q from valkey: %w", key, err)
	}

	return result, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(key), value, expiry).Err(); err != nil {
		return fmt.Errorf("can't set %q in valkey: %w", key, err)
	}

	return nil
}

// Update runs fn inside a WATCH/MULTI transaction. The new value is written
// with KEEPTTL so the key keeps its deadline. Transactions aborted by a
// concurrent writer are retried.
func (s *Store) Update(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	full := s.key(key)

	txf := func(tx *valkey.Tx) error {
		current, err := tx.Get(ctx, full).Bytes()
		if err != nil {
			if errors.Is(err, valkey.Nil) {
				return fmt.Errorf("%w: %q", store.ErrNotFound, key)
			}

			return fmt.Errorf("can't fetch from valkey: %w", err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe valkey.Pipeliner) error {
			pipe.Set(ctx, full, next, valkey.KeepTTL)
			return nil
		})
		return err
	}

	for range maxUpdateRetries {
		err := s.rdb.Watch(ctx, txf, full)
		if errors.Is(err, valkey.TxFailedErr) {
			continue
		}

		return err
	}

	return fmt.Errorf("%w: %q", store.ErrConflict, key)
}
