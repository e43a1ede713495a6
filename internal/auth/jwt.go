// Package auth validates the bearer tokens issued by the identity service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "tradehub-identity"

// Claims carries the identity of an authenticated user
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the validated caller
type Identity struct {
	UserID uuid.UUID
	Name   string
	Role   string
}

var ErrInvalidToken = errors.New("invalid or expired token")

type Validator struct {
	secret []byte
}

// NewValidator creates a validator for HS256 tokens signed with secret
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// GenerateToken signs a token for id, valid for ttl. Production tokens are
// issued by the identity service; this is used by tests and local tooling.
func (v *Validator) GenerateToken(id Identity, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: id.UserID.String(),
		Name:   id.Name,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ValidateToken parses and verifies a token
func (v *Validator) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad user id", ErrInvalidToken)
	}
	return &Identity{UserID: userID, Name: claims.Name, Role: claims.Role}, nil
}
