package config

import (
	"encoding/json"
	"errors"

	"github.com/TecharoHQ/linecaptcha/lib/store"
	_ "github.com/TecharoHQ/linecaptcha/lib/store/all"
)

var (
	ErrNoStoreBackend      = errors.New("config.Store: no backend defined")
	ErrUnknownStoreBackend = errors.New("config.Store: unknown backend")
)

// Store selects where issued challenges live until they expire.
type Store struct {
	Backend    string          `json:"backend"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

func (s *Store) Valid() error {
	return validBackend(s.Backend, s.Parameters, store.Get, store.Methods(), ErrNoStoreBackend, ErrUnknownStoreBackend)
}
