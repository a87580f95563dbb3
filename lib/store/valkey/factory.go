// Package valkey stores challenges in valkey (or redis) so that every
// linecaptcha replica sees the same challenges.
package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

var (
	ErrNoURL  = errors.New("valkey.Config: no URL defined")
	ErrBadURL = errors.New("valkey.Config: URL is invalid")
)

const pingTimeout = 5 * time.Second

func init() {
	store.Register("valkey", Factory{})
}

type Config struct {
	URL string `json:"url"`
	// KeyPrefix namespaces every key, for valkey instances shared with
	// other applications.
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

func (c Config) Valid() error {
	if c.URL == "" {
		return fmt.Errorf("valkey.Config: invalid config: %w", ErrNoURL)
	}

	if _, err := valkey.ParseURL(c.URL); err != nil {
		return fmt.Errorf("valkey.Config: invalid config: %w: %w", ErrBadURL, err)
	}

	return nil
}

type Factory struct{}

func parse(data json.RawMessage) (Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return config, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return config, nil
}

// Build connects to valkey and fails unless the server answers a PING.
func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	config, err := parse(data)
	if err != nil {
		return nil, err
	}

	opts, _ := valkey.ParseURL(config.URL)
	rdb := valkey.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("can't ping valkey instance: %w", err)
	}

	go func() {
		<-ctx.Done()
		rdb.Close()
	}()

	return &Store{rdb: rdb, prefix: config.KeyPrefix}, nil
}

func (Factory) Valid(data json.RawMessage) error {
	_, err := parse(data)
	return err
}
