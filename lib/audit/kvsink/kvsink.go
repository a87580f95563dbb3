// Package kvsink stores attempt records in any registered key/value store
// backend.
package kvsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/audit"
	"github.com/TecharoHQ/linecaptcha/lib/store"
)

const defaultRetention = 24 * time.Hour

var (
	ErrNoBackend      = errors.New("kvsink: no store backend defined")
	ErrUnknownBackend = errors.New("kvsink: unknown store backend")
	ErrBadRetention   = errors.New("kvsink: retention must be a positive duration")
)

func init() {
	audit.Register("store", Factory{})
}

type Config struct {
	Backend    string          `json:"backend"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Retention  string          `json:"retention,omitempty"`
}

func (c Config) retention() (time.Duration, error) {
	if c.Retention == "" {
		return defaultRetention, nil
	}

	d, err := time.ParseDuration(c.Retention)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBadRetention, err)
	}

	if d <= 0 {
		return 0, ErrBadRetention
	}

	return d, nil
}

func (c Config) Valid() error {
	var errs []error

	if c.Backend == "" {
		errs = append(errs, ErrNoBackend)
	}

	if fac, ok := store.Get(c.Backend); ok {
		if err := fac.Valid(c.Parameters); err != nil {
			errs = append(errs, err)
		}
	} else if c.Backend != "" {
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend))
	}

	if _, err := c.retention(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", audit.ErrBadConfig, errors.Join(errs...))
	}

	return nil
}

type Factory struct{}

func parse(data json.RawMessage) (Config, error) {
	var cfg Config

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", audit.ErrBadConfig, err)
	}

	return cfg, cfg.Valid()
}

func (Factory) Valid(data json.RawMessage) error {
	_, err := parse(data)
	return err
}

func (Factory) Build(ctx context.Context, data json.RawMessage) (audit.Sink, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}

	fac, _ := store.Get(cfg.Backend)
	backend, err := fac.Build(ctx, cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("kvsink: can't build %s backend: %w", cfg.Backend, err)
	}

	retention, _ := cfg.retention()

	return New(backend, retention), nil
}

// New stores records in backend for retention.
func New(backend store.Interface, retention time.Duration) *Sink {
	return &Sink{
		db: &store.JSON[audit.Record]{
			Underlying: backend,
			Prefix:     "attempt:",
		},
		retention: retention,
	}
}

type Sink struct {
	db        *store.JSON[audit.Record]
	retention time.Duration
}

func (s *Sink) Log(ctx context.Context, r *audit.Record) error {
	if err := s.db.Set(ctx, r.AttemptID, *r, s.retention); err != nil {
		return fmt.Errorf("kvsink: can't store attempt %s: %w", r.AttemptID, err)
	}

	return nil
}

// Get loads a stored record. It exists for operators and tests; the server
// never reads attempts back.
func (s *Sink) Get(ctx context.Context, attemptID string) (audit.Record, error) {
	return s.db.Get(ctx, attemptID)
}
