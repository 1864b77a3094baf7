package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "sessionid"

// Sessions signs and verifies session tokens.
type Sessions struct {
	secret   []byte
	issuer   string
	duration time.Duration
}

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewSessions(secret []byte, issuer string, duration time.Duration) *Sessions {
	return &Sessions{secret: secret, issuer: issuer, duration: duration}
}

func (s *Sessions) Duration() time.Duration {
	return s.duration
}

// Sign returns a session token for userID and its expiry.
func (s *Sessions) Sign(userID int64, username string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.duration)

	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies a session token and returns the user id it was issued for.
func (s *Sessions) Parse(tokenString string) (int64, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return 0, fmt.Errorf("failed to parse session: %w", err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return 0, fmt.Errorf("invalid session claims")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid session subject: %w", err)
	}
	return id, nil
}
