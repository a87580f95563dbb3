package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

type backendFactory interface {
	Valid(json.RawMessage) error
}

// validBackend checks a backend name against a registry and hands the
// parameters block to the named factory.
func validBackend[F backendFactory](name string, params json.RawMessage, get func(string) (F, bool), methods []string, errNone, errUnknown error) error {
	if name == "" {
		return errNone
	}

	fac, ok := get(name)
	if !ok {
		return fmt.Errorf("%w: %q, want one of: %s", errUnknown, name, strings.Join(methods, ", "))
	}

	if err := fac.Valid(params); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}
