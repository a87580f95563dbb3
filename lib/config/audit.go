package config

import (
	"encoding/json"
	"errors"

	"github.com/TecharoHQ/linecaptcha/lib/audit"
	_ "github.com/TecharoHQ/linecaptcha/lib/audit/all"
)

var (
	ErrNoAuditBackend      = errors.New("config.AuditSink: no backend defined")
	ErrUnknownAuditBackend = errors.New("config.AuditSink: unknown backend")
)

// AuditSink selects one attempt log destination.
type AuditSink struct {
	Backend    string          `json:"backend"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

func (a *AuditSink) Valid() error {
	return validBackend(a.Backend, a.Parameters, audit.Get, audit.Methods(), ErrNoAuditBackend, ErrUnknownAuditBackend)
}
