package challenge

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSigningKey = errors.New("challenge: either an ed25519 key or an HS512 secret is required")

// Claims are carried by every challenge token.
type Claims struct {
	ChallengeID string `json:"cid"`
	Nonce       string `json:"nonce"`
	TTLMs       int64  `json:"ttl"`
	jwt.RegisteredClaims
}

// Signer issues and checks challenge tokens. Tokens are signed with EdDSA
// unless an HS512 secret is configured.
type Signer struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	secret []byte
}

func NewSigner(priv ed25519.PrivateKey, hs512Secret []byte) (*Signer, error) {
	switch {
	case len(hs512Secret) != 0:
		return &Signer{secret: hs512Secret}, nil
	case len(priv) == ed25519.PrivateKeySize:
		return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
	default:
		return nil, ErrNoSigningKey
	}
}

func (s *Signer) method() jwt.SigningMethod {
	if len(s.secret) != 0 {
		return jwt.SigningMethodHS512
	}

	return jwt.SigningMethodEdDSA
}

func (s *Signer) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(s.method(), claims)

	if len(s.secret) != 0 {
		return token.SignedString(s.secret)
	}

	return token.SignedString(s.priv)
}

// Parse checks the token signature and expiry against now and returns its
// claims.
func (s *Signer) Parse(tokenString string, now time.Time) (*Claims, error) {
	var claims Claims

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if len(s.secret) != 0 {
			return s.secret, nil
		}
		return s.pub, nil
	},
		jwt.WithValidMethods([]string{s.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadToken, err)
	}

	if !token.Valid {
		return nil, ErrBadToken
	}

	return &claims, nil
}
