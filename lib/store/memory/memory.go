// Package memory keeps challenges in process memory. It does not share state
// between linecaptcha replicas, so a challenge issued by one replica can only
// be peeked and verified on the same one.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TecharoHQ/linecaptcha/decaymap"
	"github.com/TecharoHQ/linecaptcha/lib/store"
)

const defaultCleanupInterval = 5 * time.Minute

var ErrBadCleanupInterval = errors.New("memory: cleanupInterval must be a positive duration")

// Config is the optional parameters block of a memory store.
type Config struct {
	CleanupInterval string `json:"cleanupInterval,omitempty"`
}

func (c Config) interval() (time.Duration, error) {
	if c.CleanupInterval == "" {
		return defaultCleanupInterval, nil
	}

	d, err := time.ParseDuration(c.CleanupInterval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w, got %q", ErrBadCleanupInterval, c.CleanupInterval)
	}
	return d, nil
}

type factory struct{}

func parse(data json.RawMessage) (Config, error) {
	var c Config
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return c, nil
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}
	return c, nil
}

func (factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	c, err := parse(data)
	if err != nil {
		return nil, err
	}

	interval, err := c.interval()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return newStore(ctx, interval), nil
}

func (factory) Valid(data json.RawMessage) error {
	c, err := parse(data)
	if err != nil {
		return err
	}

	if _, err := c.interval(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return nil
}

func init() {
	store.Register("memory", factory{})
}

type impl struct {
	data *decaymap.Impl[string, []byte]
}

func notFound(key string) error {
	return fmt.Errorf("%w: %q", store.ErrNotFound, key)
}

func (i *impl) Get(_ context.Context, key string) ([]byte, error) {
	if value, ok := i.data.Get(key); ok {
		return value, nil
	}
	return nil, notFound(key)
}

func (i *impl) Set(_ context.Context, key string, value []byte, expiry time.Duration) error {
	i.data.Set(key, value, expiry)
	return nil
}

func (i *impl) Delete(_ context.Context, key string) error {
	if !i.data.Delete(key) {
		return notFound(key)
	}
	return nil
}

// Update runs fn under the map's lock, which is what makes consuming a
// challenge atomic on this backend.
func (i *impl) Update(_ context.Context, key string, fn func([]byte) ([]byte, error)) error {
	found, err := i.data.Update(key, fn)
	switch {
	case err != nil:
		return err
	case !found:
		return notFound(key)
	}
	return nil
}

func (i *impl) sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			i.data.Cleanup()
		}
	}
}

func newStore(ctx context.Context, cleanup time.Duration) *impl {
	result := &impl{data: decaymap.New[string, []byte]()}
	go result.sweep(ctx, cleanup)
	return result
}

// New creates an in-memory store that sweeps expired challenges every five
// minutes until ctx is done.
func New(ctx context.Context) store.Interface {
	return newStore(ctx, defaultCleanupInterval)
}
