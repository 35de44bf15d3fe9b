package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set carried by chat access tokens.
type Payload struct {
	// StandardClaims carries exp, iat and iss; expiry is mandatory for chat tokens.
	jwt.StandardClaims

	// UserID identifies the author of every message sent over the connection.
	UserID string `json:"userId"`
}
