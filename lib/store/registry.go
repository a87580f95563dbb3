package store

import (
	"context"
	"encoding/json"

	"github.com/TecharoHQ/linecaptcha/internal"
)

var registry internal.Registry[Factory]

// Factory builds a store backend from its JSON parameters.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Interface, error)
	Valid(config json.RawMessage) error
}

func Register(name string, impl Factory) { registry.Register(name, impl) }

func Get(name string) (Factory, bool) { return registry.Get(name) }

// Methods lists the backend names that can appear in a store config.
func Methods() []string { return registry.Methods() }
