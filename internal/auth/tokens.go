package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "bingo"

// Claims is the JWT body.
type Claims struct {
	Role   Role   `json:"role"`
	GameID string `json:"gameId,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 tokens.
type Tokens struct {
	secret      []byte
	issuer      string
	clock       quartz.Clock
	revocations RevocationStore
}

// NewTokens returns a signer/verifier. revocations may be nil.
func NewTokens(secret string, clock quartz.Clock, revocations RevocationStore) *Tokens {
	return &Tokens{
		secret:      []byte(secret),
		issuer:      defaultIssuer,
		clock:       clock,
		revocations: revocations,
	}
}

// Issue signs a token for subject with the given role and game.
func (t *Tokens) Issue(subject string, role Role, gameID string, ttl time.Duration) (string, *Identity, error) {
	if !role.Valid() {
		return "", nil, fmt.Errorf("auth: unknown role %q", role)
	}
	now := t.clock.Now()
	id := &Identity{
		Subject:   subject,
		Role:      role,
		GameID:    gameID,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
	}
	claims := Claims{
		Role:   role,
		GameID: gameID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject,
			ID:        id.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(id.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, id, nil
}

// Validate verifies signature, expiry and issuer, then checks revocation.
func (t *Tokens) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return t.clock.Now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, mapJWTError(err))
	}
	if !claims.Role.Valid() || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing role or token id", ErrInvalidToken)
	}

	if t.revocations != nil {
		revoked, err := t.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if revoked {
			return nil, ErrRevoked
		}
	}

	return &Identity{
		Subject:   claims.Subject,
		Role:      claims.Role,
		GameID:    claims.GameID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke marks a token id as revoked until the token would have expired.
func (t *Tokens) Revoke(ctx context.Context, id *Identity) error {
	if t.revocations == nil || id == nil || id.TokenID == "" {
		return nil
	}
	ttl := id.ExpiresAt.Sub(t.clock.Now())
	if ttl <= 0 {
		return nil
	}
	return t.revocations.Revoke(ctx, id.TokenID, ttl)
}

// Revoked reports whether an already validated identity has since been revoked.
func (t *Tokens) Revoked(ctx context.Context, id *Identity) (bool, error) {
	if t.revocations == nil || id == nil || id.TokenID == "" {
		return false, nil
	}
	revoked, err := t.revocations.IsRevoked(ctx, id.TokenID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return revoked, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.New("token expired")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errors.New("signature invalid")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return errors.New("token malformed")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return errors.New("issuer invalid")
	default:
		return err
	}
}
