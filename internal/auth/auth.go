// Package auth supplies the verified caller identity the domain services
// operate on. Token issuance lives outside this service; we only validate
// HS256 tokens and expose signing for tooling and tests.
package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin marks a caller allowed to manage orders and moderate reviews.
const RoleAdmin = "admin"

var (
	// ErrInvalidToken is returned for malformed, mis-signed, or expired tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Actor is the authenticated caller identity passed into every domain
// operation that performs ownership or role checks.
type Actor struct {
	ID    string
	Admin bool
}

// Claims are the JWT claims carried by storefront access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and validates storefront access tokens.
type Service struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewService creates a token service with the given HMAC secret and token
// lifetime.
func NewService(secret string, expiry time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// Sign issues an access token for the given user.
func (s *Service) Sign(userID, role string) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return token, nil
}

// Verify parses and validates a token, returning the actor it identifies.
func (s *Service) Verify(tokenString string) (Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid || claims.UserID == "" {
		return Actor{}, ErrInvalidToken
	}

	return Actor{
		ID:    claims.UserID,
		Admin: claims.Role == RoleAdmin,
	}, nil
}
