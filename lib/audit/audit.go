// Package audit records every scored verification attempt for offline
// analysis. Nothing in linecaptcha ever reads these records back.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/verify"
)

var (
	ErrBadConfig = errors.New("audit: configuration is invalid")
)

// Record is one scored attempt.
type Record struct {
	AttemptID        string  `json:"attemptId"`
	ChallengeID      string  `json:"challengeId"`
	SessionID        string  `json:"sessionId,omitempty"`
	PointerType      string  `json:"pointerType"`
	OSFamily         string  `json:"osFamily,omitempty"`
	BrowserFamily    string  `json:"browserFamily,omitempty"`
	DevicePixelRatio float64 `json:"devicePixelRatio,omitempty"`

	PathSeed   string  `json:"pathSeed"`
	PathLength float64 `json:"pathLength"`

	// Tolerance is the radius the trajectory was judged against, after
	// every matching tolerance rule was applied.
	Tolerance      float64  `json:"tolerance"`
	BaseTolerance  float64  `json:"baseTolerance"`
	ToleranceRules []string `json:"toleranceRules,omitempty"`
	TTLMs          int64    `json:"ttlMs"`

	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	VerifiedAt time.Time `json:"verifiedAt"`

	// Client clock of the first and last samples, in milliseconds.
	StartedAtMs float64 `json:"startedAtMs"`
	EndedAtMs   float64 `json:"endedAtMs"`

	Outcome verify.Reason  `json:"outcome"`
	Passed  bool           `json:"passed"`
	Metrics verify.Metrics `json:"metrics"`

	Trajectory []verify.Sample `json:"trajectory"`
}

// Sink is somewhere attempt records go.
type Sink interface {
	Log(ctx context.Context, r *Record) error
}

// Closer is implemented by sinks that hold resources.
type Closer interface {
	Close() error
}

// Multi fans a record out to every sink. Every sink is tried; their errors
// are joined.
type Multi []Sink

func (m Multi) Log(ctx context.Context, r *Record) error {
	var errs []error

	for _, s := range m {
		if err := s.Log(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error

	for _, s := range m {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}
