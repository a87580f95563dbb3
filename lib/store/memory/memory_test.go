package memory

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/TecharoHQ/linecaptcha/lib/store"
	"github.com/TecharoHQ/linecaptcha/lib/store/storetest"
)

func TestImpl(t *testing.T) {
	storetest.Common(t, factory{}, nil)
}

func TestImplWithInterval(t *testing.T) {
	storetest.Common(t, factory{}, json.RawMessage(`{"cleanupInterval": "30s"}`))
}

func TestFactoryValid(t *testing.T) {
	for _, tt := range []struct {
		name string
		cfg  string
		err  error
	}{
		{"empty", ``, nil},
		{"null", `null`, nil},
		{"no parameters", `{}`, nil},
		{"interval", `{"cleanupInterval": "1m"}`, nil},
		{"bad interval", `{"cleanupInterval": "soon"}`, ErrBadCleanupInterval},
		{"negative interval", `{"cleanupInterval": "-1m"}`, ErrBadCleanupInterval},
		{"not an object", `[]`, store.ErrBadConfig},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := factory{}.Valid(json.RawMessage(tt.cfg))
			if !errors.Is(err, tt.err) {
				t.Errorf("Valid(%s) = %v, want %v", tt.cfg, err, tt.err)
			}
		})
	}
}
