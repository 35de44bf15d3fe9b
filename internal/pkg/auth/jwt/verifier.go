package jwt

import (
	"net/http"
	"strings"
)

// Verifier checks the bearer credential a client presents at handshake time.
type Verifier struct {
	secretKey string
}

// NewVerifier returns a Verifier for tokens signed with secretKey.
func NewVerifier(secretKey string) *Verifier {
	return &Verifier{secretKey: secretKey}
}

// Verify returns the user id carried by token, or an error wrapping ErrUnauthenticated.
func (v *Verifier) Verify(token string) (string, error) {
	payload, err := ParseToken(token, v.secretKey)
	if err != nil {
		return "", err
	}
	return payload.UserID, nil
}

// VerifyRequest extracts the token from r and verifies it.
func (v *Verifier) VerifyRequest(r *http.Request) (*Payload, error) {
	return ParseToken(TokenFromRequest(r), v.secretKey)
}

// TokenFromRequest looks for a bearer token in the Authorization header first,
// then in the token and auth_token query parameters (browsers cannot set headers
// on a WebSocket handshake).
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	query := r.URL.Query()
	if token := strings.TrimSpace(query.Get("token")); token != "" {
		return token
	}
	return strings.TrimSpace(query.Get("auth_token"))
}
