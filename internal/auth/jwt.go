package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Subscription roles.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// WSClaims scope a live-connection subscription. Browsers cannot attach
// the X-API-Key header to a WebSocket dial, so the secret is exchanged for
// one of these short-lived tokens instead.
type WSClaims struct {
	StudentID string `json:"student_id,omitempty"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// IssueWSToken signs a subscription token with HS256.
func IssueWSToken(studentID, role, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	if role != RoleStudent && role != RoleAdmin {
		return "", time.Time{}, errors.New("unknown role")
	}
	if role == RoleStudent && studentID == "" {
		return "", time.Time{}, errors.New("student id required")
	}
	exp := time.Now().Add(ttl)
	claims := WSClaims{
		StudentID: studentID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// ParseWSToken validates a subscription token and returns its claims.
func ParseWSToken(tokenStr, key, issuer string) (WSClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &WSClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return WSClaims{}, err
	}
	claims, ok := parsed.Claims.(*WSClaims)
	if !ok || !parsed.Valid {
		return WSClaims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return WSClaims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
