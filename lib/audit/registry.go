package audit

import (
	"context"
	"encoding/json"

	"github.com/TecharoHQ/linecaptcha/internal"
)

var registry internal.Registry[Factory]

// Factory builds an audit sink from its JSON parameters.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Sink, error)
	Valid(config json.RawMessage) error
}

func Register(name string, impl Factory) { registry.Register(name, impl) }

func Get(name string) (Factory, bool) { return registry.Get(name) }

func Methods() []string { return registry.Methods() }
