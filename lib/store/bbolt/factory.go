// Package bbolt stores challenges in a single bbolt database file.
package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/store"
)

var (
	ErrMissingPath      = errors.New("bbolt: path is missing from config")
	ErrCantWriteToPath  = errors.New("bbolt: can't write to path")
	ErrBadSweepInterval = errors.New("bbolt: sweepInterval must be a positive duration")
)

const defaultSweepInterval = 5 * time.Minute

func init() {
	store.Register("bbolt", Factory{})
}

// Config is the bbolt storage backend configuration.
type Config struct {
	// Path of the database file. Its directory must be writable.
	Path string `json:"path"`
	// SweepInterval is how often expired challenges are deleted. Defaults
	// to five minutes.
	SweepInterval string `json:"sweepInterval,omitempty"`
}

func (c Config) sweepInterval() (time.Duration, error) {
	if c.SweepInterval == "" {
		return defaultSweepInterval, nil
	}

	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w, got %q", ErrBadSweepInterval, c.SweepInterval)
	}
	return d, nil
}

// Valid checks every field and probes the database directory for write
// access.
func (c Config) Valid() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, ErrMissingPath)
	} else {
		probe, err := os.CreateTemp(filepath.Dir(c.Path), ".linecaptcha-probe-*")
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrCantWriteToPath, err))
		} else {
			probe.Close()
			os.Remove(probe.Name())
		}
	}

	if _, err := c.sweepInterval(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Factory builds bbolt stores from the parameters block of a store config.
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

// Build opens the database and starts sweeping it until ctx is done, at
// which point the file is closed.
func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	config, err := parse(data)
	if err != nil {
		return nil, err
	}

	s, err := open(config.Path)
	if err != nil {
		return nil, err
	}

	every, _ := config.sweepInterval()
	go s.sweepThread(ctx, every)

	return s, nil
}

func (Factory) Valid(data json.RawMessage) error {
	_, err := parse(data)
	return err
}
