package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// DefaultTokenTTL is the lifetime of tokens issued by the login endpoint.
	DefaultTokenTTL = time.Hour

	// TokenIssuer identifies the issuer of the token.
	TokenIssuer = "relaychat"
)

// ErrUnauthenticated is returned for missing, malformed, expired or forged tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// GenerateToken signs an HS256 token identifying userID, valid for ttl.
func GenerateToken(userID string, secretKey string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id is required")
	}

	now := time.Now()
	payload := &Payload{
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(ttl).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    TokenIssuer,
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseToken validates tokenString and returns its claims.
// Every failure is reported as ErrUnauthenticated wrapping the underlying cause.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
	}

	if claims.ExpiresAt == 0 {
		return nil, fmt.Errorf("%w: token has no expiry", ErrUnauthenticated)
	}

	if strings.TrimSpace(claims.UserID) == "" {
		return nil, fmt.Errorf("%w: token has no user id", ErrUnauthenticated)
	}

	return claims, nil
}
