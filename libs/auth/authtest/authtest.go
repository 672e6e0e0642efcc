// Package authtest mints bearer tokens for tests of code behind auth.RequireBearer.
package authtest

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/md-rashed-zaman/peerhours/libs/auth"
)

// SignHS256 returns a token for subject with role, valid for ttl from now.
func SignHS256(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
