package challenge

import (
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/geometry"
	"github.com/TecharoHQ/linecaptcha/lib/tolerance"
)

// Challenge is the server-held state of a single line tracing challenge.
type Challenge struct {
	ID        string            `json:"id"`        // UUID identifying the challenge
	Nonce     string            `json:"nonce"`     // Random value paired with the token
	TokenHash string            `json:"tokenHash"` // SHA-256 of the issued token, hex encoded
	Seed      string            `json:"seed"`      // Path identifier the polyline was generated from
	Points    geometry.Polyline `json:"points"`    // Dense polyline the solver traces
	Length    float64           `json:"length"`    // Total arc length of Points
	Tolerance tolerance.Radii   `json:"tolerance"` // Corridor half-width per pointer profile
	IssuedAt  time.Time         `json:"issuedAt"`
	ExpiresAt time.Time         `json:"expiresAt"`

	// Progress is the index of the furthest vertex the solver has been seen
	// at. It never decreases.
	Progress int `json:"progress"`

	Consumed   bool      `json:"consumed"`
	ConsumedAt time.Time `json:"consumedAt,omitzero"`
	Outcome    string    `json:"outcome,omitempty"`
}

func (c *Challenge) Start() geometry.Point {
	return c.Points[0]
}

func (c *Challenge) End() geometry.Point {
	return c.Points[len(c.Points)-1]
}

// TTL is how long the challenge was valid for when it was issued.
func (c *Challenge) TTL() time.Duration {
	return c.ExpiresAt.Sub(c.IssuedAt)
}

// Expired reports whether now is past the challenge's deadline.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
