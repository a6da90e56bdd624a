package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("collector-test-secret")

func signToken(t *testing.T, secret []byte, userID int64, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     time.Now().Add(-time.Minute).Unix(),
		"exp":     expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return token
}

func TestDecode(t *testing.T) {
	valid := signToken(t, testSecret, 42, time.Now().Add(time.Hour))
	expired := signToken(t, testSecret, 42, time.Now().Add(-time.Hour))
	tampered := signToken(t, []byte("another-secret"), 42, time.Now().Add(time.Hour))
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"user_id": int64(42),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	tests := []struct {
		name       string
		token      string
		wantUserID int64
		wantErr    error
	}{
		{name: "valid token", token: valid, wantUserID: 42},
		{name: "expired token", token: expired, wantErr: ErrTokenExpired},
		{name: "tampered signature", token: tampered, wantErr: ErrTokenMalformed},
		{name: "unsigned token", token: unsigned, wantErr: ErrTokenMalformed},
		{name: "missing user id", token: noUser, wantErr: ErrTokenMalformed},
		{name: "garbage", token: "not-a-token", wantErr: ErrTokenMalformed},
		{name: "empty", token: "", wantErr: ErrTokenMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := Decode(tt.token, testSecret)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if userID != tt.wantUserID {
				t.Fatalf("Decode user id = %d, want %d", userID, tt.wantUserID)
			}
		})
	}
}
