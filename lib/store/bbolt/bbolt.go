package bbolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/store"
	"go.etcd.io/bbolt"
)

var ErrCorrupt = errors.New("bbolt: database layout is corrupt")

var (
	dataBucket   = []byte("data")
	expiryBucket = []byte("expiry")
)

// Store implements store.Interface on top of a bbolt[1] file.
//
// Values live in the "data" bucket. Their deadlines live under the same key
// in the "expiry" bucket as big-endian Unix nanoseconds, so the sweeper only
// walks eight byte values and never touches challenge documents.
//
// A bbolt file can only be opened by one process at a time. Replicas that
// need to share challenges should use the valkey backend.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb *bbolt.DB
}

func open(path string) (*Store, error) {
	bdb, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("can't open bbolt database %s: %w", path, err)
	}

	if err := bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{dataBucket, expiryBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("can't create buckets in %s: %w", path, err)
	}

	return &Store{bdb: bdb}, nil
}

func buckets(tx *bbolt.Tx) (data, expiry *bbolt.Bucket, err error) {
	data, expiry = tx.Bucket(dataBucket), tx.Bucket(expiryBucket)
	if data == nil || expiry == nil {
		return nil, nil, ErrCorrupt
	}
	return data, expiry, nil
}

func encodeExpiry(t time.Time) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(t.UnixNano()))
}

// live reports whether key has a deadline in the future.
func live(expiry *bbolt.Bucket, key []byte, now time.Time) (bool, error) {
	raw := expiry.Get(key)
	switch {
	case raw == nil:
		return false, nil
	case len(raw) != 8:
		return false, fmt.Errorf("%w: %w: expiry of %q is %d bytes", store.ErrCantDecode, ErrCorrupt, key, len(raw))
	}
	return now.UnixNano() < int64(binary.BigEndian.Uint64(raw)), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		data, expiry, err := buckets(tx)
		if err != nil {
			return err
		}

		k := []byte(key)
		if data.Get(k) == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		return errors.Join(data.Delete(k), expiry.Delete(k))
	})
}

// Get returns a copy of the value. Expired values read as missing and are
// left for the sweeper.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte

	err := s.bdb.View(func(tx *bbolt.Tx) error {
		data, expiry, err := buckets(tx)
		if err != nil {
			return err
		}

		k := []byte(key)
		ok, err := live(expiry, k, time.Now())
		if err != nil {
			return err
		}

		value := data.Get(k)
		if !ok || value == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		// bbolt memory is only valid for the life of the transaction.
		result = append([]byte(nil), value...)
		return nil
	})

	return result, err
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	deadline := encodeExpiry(time.Now().Add(ttl))

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		data, expiry, err := buckets(tx)
		if err != nil {
			return err
		}

		k := []byte(key)
		if err := data.Put(k, value); err != nil {
			return fmt.Errorf("%w: %q (data): %w", store.ErrCantEncode, key, err)
		}
		if err := expiry.Put(k, deadline); err != nil {
			return fmt.Errorf("%w: %q (expiry): %w", store.ErrCantEncode, key, err)
		}
		return nil
	})
}

// Update runs fn inside one read-write transaction. bbolt allows a single
// writer at a time, so fn sees no concurrent changes and runs once.
func (s *Store) Update(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		data, expiry, err := buckets(tx)
		if err != nil {
			return err
		}

		k := []byte(key)
		ok, err := live(expiry, k, time.Now())
		if err != nil {
			return err
		}

		value := data.Get(k)
		if !ok || value == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		next, err := fn(append([]byte(nil), value...))
		if err != nil {
			return err
		}

		if err := data.Put(k, next); err != nil {
			return fmt.Errorf("%w: %q (data): %w", store.ErrCantEncode, key, err)
		}
		return nil
	})
}

// sweep deletes every expired value and returns how many it removed.
func (s *Store) sweep(now time.Time) (int, error) {
	var removed int

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		data, expiry, err := buckets(tx)
		if err != nil {
			return err
		}

		// Keys are collected first; bbolt forbids mutating a bucket while
		// iterating it.
		var expired [][]byte
		if err := expiry.ForEach(func(k, _ []byte) error {
			ok, err := live(expiry, k, now)
			if err != nil {
				slog.Warn("dropping value with unreadable expiry", "key", string(k), "err", err)
				ok = false
			}
			if !ok {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range expired {
			if err := errors.Join(data.Delete(k), expiry.Delete(k)); err != nil {
				return err
			}
		}

		removed = len(expired)
		return nil
	})

	return removed, err
}

func (s *Store) sweepThread(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.bdb.Close(); err != nil {
				slog.Error("can't close bbolt database", "err", err)
			}
			return
		case now := <-t.C:
			n, err := s.sweep(now)
			if err != nil {
				slog.Error("error during bbolt cleanup", "err", err)
				continue
			}
			slog.Debug("swept expired values", "backend", "bbolt", "count", n)
		}
	}
}
