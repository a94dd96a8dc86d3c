// Package auth issues and verifies the signed tokens that carry a caller's
// role and game, and tracks revoked token ids.
package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidToken indicates the token is definitively invalid.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrRevoked indicates the token was valid but has been revoked.
	ErrRevoked = errors.New("auth: token revoked")

	// ErrUnavailable indicates the revocation store could not be reached.
	// Callers may choose to fail open (allow) or fail closed (reject).
	ErrUnavailable = errors.New("auth: unavailable")
)

// Role is the kind of client a token was issued to.
type Role string

const (
	RolePlayer Role = "player"
	RoleHost   Role = "host"
	RoleScreen Role = "screen"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePlayer, RoleHost, RoleScreen:
		return true
	}
	return false
}

// Identity is the verified content of a token.
type Identity struct {
	Subject   string    `json:"sub"`
	Role      Role      `json:"role"`
	GameID    string    `json:"gameId"`
	TokenID   string    `json:"jti"`
	ExpiresAt time.Time `json:"exp"`
}

// Validator validates authentication tokens.
type Validator interface {
	// Validate checks a token and returns the identity it carries.
	// Returns:
	//   - (*Identity, nil) if the token is valid
	//   - (nil, ErrInvalidToken) if the token is malformed, expired or forged
	//   - (nil, ErrRevoked) if the token id has been revoked
	//   - (nil, ErrUnavailable) if revocation could not be checked
	Validate(ctx context.Context, token string) (*Identity, error)
}

// RevocationChecker is implemented by validators that can re-check a token
// after the handshake, for sockets that outlive a session rotation.
type RevocationChecker interface {
	Revoked(ctx context.Context, id *Identity) (bool, error)
}
