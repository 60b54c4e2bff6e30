// Package identity carries the acting user through the sync core. Components
// receive an Identity value explicitly instead of reading session state from
// a global, so every permission check names its subject.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller: a stable user id plus the display
// profile the identity provider supplied.
type Identity struct {
	UserID string
	Name   string
	Avatar string
}

// Anonymous reports whether the identity carries no user.
func (id Identity) Anonymous() bool { return id.UserID == "" }

// Claims is the JWT payload issued at login and verified on every request.
type Claims struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Sign issues a token for id valid for the given duration.
func Sign(id Identity, secret string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: id.UserID,
		Name:   id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Verify parses and validates a token and returns the identity it names.
func Verify(tokenString, secret string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, jwt.ErrTokenUnverifiable
	}
	return Identity{UserID: claims.UserID, Name: claims.Name}, nil
}
