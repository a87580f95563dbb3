// Package challengetest has helpers for tests that need challenges.
package challengetest

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/challenge"
	"github.com/TecharoHQ/linecaptcha/lib/geometry"
	"github.com/TecharoHQ/linecaptcha/lib/pathgen"
	"github.com/TecharoHQ/linecaptcha/lib/store/memory"
)

// Epoch is the instant every FakeClock starts at.
var Epoch = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

// FakeClock is a challenge.Clock that only moves when told to.
type FakeClock struct {
	lock sync.Mutex
	now  time.Time
}

func NewClock() *FakeClock {
	return &FakeClock{now: Epoch}
}

func (c *FakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

// Signer returns an EdDSA signer with a throwaway key.
func Signer(t *testing.T) *challenge.Signer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	s, err := challenge.NewSigner(priv, nil)
	if err != nil {
		t.Fatal(err)
	}

	return s
}

// NewStore builds an in-memory challenge store driven by clock with a 12
// second TTL and a 30 second verify grace window.
func NewStore(t *testing.T, clock challenge.Clock) *challenge.Store {
	t.Helper()

	return challenge.NewStore(challenge.StoreOptions{
		Backend:     memory.New(t.Context()),
		Signer:      Signer(t),
		Clock:       clock,
		TTL:         12 * time.Second,
		VerifyGrace: 30 * time.Second,
		Retention:   time.Minute,
	})
}

// Path is a fixed 200px horizontal line with a vertex every 4px.
func Path() *pathgen.Path {
	controls := geometry.Polyline{{X: 100, Y: 200}, {X: 300, Y: 200}}
	dense := controls.Densify(4)

	return &pathgen.Path{
		Seed:     "0123456789abcdef",
		Controls: controls,
		Polyline: dense,
		Start:    dense[0],
		End:      dense[len(dense)-1],
		Length:   controls.Length(),
	}
}
