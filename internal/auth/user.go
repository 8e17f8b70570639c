package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrBadCredentials is returned when username or password don't match
var ErrBadCredentials = errors.New("invalid username or password")

// DefaultUsername is the single local account the API exposes
const DefaultUsername = "admin"

// User represents an authenticated API user
type User struct {
	Username string `json:"username"`
}

// LocalAuth verifies credentials against the configured API password.
// The portal account stays separate: these credentials only guard the
// local HTTP API.
type LocalAuth struct {
	username string
	password string
}

// NewLocalAuth creates a single-user authenticator
func NewLocalAuth(password string) *LocalAuth {
	return &LocalAuth{
		username: DefaultUsername,
		password: password,
	}
}

// Authenticate verifies username and password in constant time
func (a *LocalAuth) Authenticate(username, password string) (*User, error) {
	if a.password == "" {
		return nil, errors.New("API password is not configured")
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return nil, ErrBadCredentials
	}

	return &User{Username: a.username}, nil
}
