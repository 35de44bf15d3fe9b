/*
Package user contains the identity attached to an authenticated connection.
*/
package user

import "strings"

// User is the authenticated participant behind a connection.
// The ID is the userId claim of the bearer token and doubles as the display name.
type User struct {
	ID string `json:"id"`
}

// New returns the User for a verified user id.
func New(id string) User {
	return User{ID: strings.TrimSpace(id)}
}

// IsZero reports whether the user carries no identity.
func (u User) IsZero() bool {
	return u.ID == ""
}
