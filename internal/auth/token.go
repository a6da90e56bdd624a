package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenMalformed is returned when a token cannot be decoded or its
	// signature does not verify against the shared secret.
	ErrTokenMalformed = errors.New("auth: token is invalid")
	// ErrTokenExpired is returned when the token decodes fine but its expiry
	// has passed.
	ErrTokenExpired = errors.New("auth: token has expired")
)

// Claims is the payload the account service embeds into webhook and
// subscription tokens.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Decode verifies token against secret and returns the embedded user id.
// Decoding fails closed: any signature or structural problem maps to
// ErrTokenMalformed, an expired token to ErrTokenExpired.
func Decode(token string, secret []byte) (int64, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, ErrTokenMalformed
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == 0 {
		return 0, ErrTokenMalformed
	}
	return claims.UserID, nil
}
