package challenge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TecharoHQ/linecaptcha/internal"
	"github.com/TecharoHQ/linecaptcha/lib/pathgen"
	"github.com/TecharoHQ/linecaptcha/lib/store"
	"github.com/TecharoHQ/linecaptcha/lib/tolerance"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// lockStripes is the number of in-process locks challenge keys are spread
// over.
const lockStripes = 64

// Use says what an authenticated challenge is about to be used for.
type Use int

const (
	// UsePeek only accepts challenges before their deadline.
	UsePeek Use = iota
	// UseVerify also accepts challenges during the verify grace window so
	// a late submission can be scored as a timeout.
	UseVerify
)

func (u Use) String() string {
	if u == UseVerify {
		return "verify"
	}
	return "peek"
}

type StoreOptions struct {
	Backend     store.Interface
	Signer      *Signer
	Clock       Clock
	TTL         time.Duration
	VerifyGrace time.Duration
	Retention   time.Duration
}

// Store owns every challenge. All state changes go through it.
type Store struct {
	db          *store.JSON[Challenge]
	signer      *Signer
	clock       Clock
	ttl         time.Duration
	verifyGrace time.Duration
	retention   time.Duration
	locks       [lockStripes]sync.Mutex
}

func NewStore(opts StoreOptions) *Store {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	return &Store{
		db: &store.JSON[Challenge]{
			Underlying: opts.Backend,
			Prefix:     "challenge:",
		},
		signer:      opts.Signer,
		clock:       clock,
		ttl:         opts.TTL,
		verifyGrace: opts.VerifyGrace,
		retention:   opts.Retention,
	}
}

func (s *Store) Clock() Clock { return s.clock }

func (s *Store) lock(id string) func() {
	mu := &s.locks[internal.Shard(id, lockStripes)]
	mu.Lock()
	return mu.Unlock
}

// Issued is a freshly created challenge together with its token. The token
// is only ever available here.
type Issued struct {
	Challenge *Challenge
	Token     string
}

func randomNonce() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf[:]), nil
}

// Issue persists a new challenge for path and signs its token.
func (s *Store) Issue(ctx context.Context, path *pathgen.Path, radii tolerance.Radii) (*Issued, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("can't generate challenge id: %w", err)
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, fmt.Errorf("can't generate nonce: %w", err)
	}

	now := s.clock.Now()
	chall := &Challenge{
		ID:        id.String(),
		Nonce:     nonce,
		Seed:      path.Seed,
		Points:    path.Polyline,
		Length:    path.Length,
		Tolerance: radii,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	// The token outlives the challenge by the verify grace window; the
	// stored deadline is what actually gates peek and verify.
	token, err := s.signer.Sign(&Claims{
		ChallengeID: chall.ID,
		Nonce:       nonce,
		TTLMs:       s.ttl.Milliseconds(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(chall.ExpiresAt.Add(s.verifyGrace + time.Second)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("can't sign challenge token: %w", err)
	}

	chall.TokenHash = internal.SHA256sum(token)

	if err := s.db.Set(ctx, chall.ID, *chall, s.ttl+s.verifyGrace+s.retention); err != nil {
		return nil, fmt.Errorf("can't store challenge: %w", err)
	}

	challengesIssued.Inc()

	return &Issued{Challenge: chall, Token: token}, nil
}

func (s *Store) reject(use Use, cause error) error {
	challengesRejected.WithLabelValues(use.String(), rejectionCause(cause)).Inc()
	return Reject(use.String(), cause)
}

// deadline is the last instant a challenge may be used for use.
func (s *Store) deadline(c *Challenge, use Use) time.Time {
	if use == UseVerify {
		return c.ExpiresAt.Add(s.verifyGrace)
	}

	return c.ExpiresAt
}

func equalString(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate checks the (id, nonce, token) triple and the challenge's
// state. Every failure is reported as ErrRejected; errors that are not
// rejections come from the storage backend.
func (s *Store) Authenticate(ctx context.Context, id, nonce, token string, use Use) (*Challenge, error) {
	now := s.clock.Now()

	claims, err := s.signer.Parse(token, now)
	if err != nil {
		return nil, s.reject(use, err)
	}

	if !equalString(claims.ChallengeID, id) || !equalString(claims.Nonce, nonce) {
		return nil, s.reject(use, ErrTokenMismatch)
	}

	chall, err := s.db.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, s.reject(use, ErrUnknownChallenge)
	case err != nil:
		return nil, fmt.Errorf("can't load challenge %s: %w", id, err)
	}

	if !equalString(chall.Nonce, nonce) || !equalString(chall.TokenHash, internal.SHA256sum(token)) {
		return nil, s.reject(use, ErrTokenMismatch)
	}

	if chall.Consumed {
		return nil, s.reject(use, ErrConsumed)
	}

	if now.After(s.deadline(&chall, use)) {
		return nil, s.reject(use, ErrExpired)
	}

	return &chall, nil
}

// mutate applies fn to a live, unconsumed challenge atomically.
func (s *Store) mutate(ctx context.Context, id string, use Use, fn func(c *Challenge, now time.Time) error) (*Challenge, error) {
	defer s.lock(id)()

	chall, err := s.db.Update(ctx, id, func(c *Challenge) error {
		now := s.clock.Now()

		if c.Consumed {
			return ErrConsumed
		}

		if now.After(s.deadline(c, use)) {
			return ErrExpired
		}

		return fn(c, now)
	})

	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, s.reject(use, ErrUnknownChallenge)
	case errors.Is(err, ErrConsumed), errors.Is(err, ErrExpired):
		return nil, s.reject(use, err)
	case err != nil:
		return nil, fmt.Errorf("can't update challenge %s: %w", id, err)
	}

	return &chall, nil
}

// AdvanceProgress moves the challenge's progress forward to idx. Progress
// never moves backwards.
func (s *Store) AdvanceProgress(ctx context.Context, id string, idx int) (*Challenge, error) {
	return s.mutate(ctx, id, UsePeek, func(c *Challenge, _ time.Time) error {
		c.Progress = max(c.Progress, min(idx, len(c.Points)-1))
		return nil
	})
}

// Consume marks the challenge as used with the given outcome. Exactly one
// caller can consume a challenge; everyone else is rejected.
func (s *Store) Consume(ctx context.Context, id, outcome string) (*Challenge, error) {
	return s.mutate(ctx, id, UseVerify, func(c *Challenge, now time.Time) error {
		c.Consumed = true
		c.ConsumedAt = now
		c.Outcome = outcome
		return nil
	})
}
