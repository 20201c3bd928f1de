// Package identity authenticates mutation submitters. Tokens are HS256
// JWTs carrying the user id and username; verification happens before
// any speculative apply so an unauthenticated intent never touches the
// local view.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the authenticated identity attached to an intent.
type User struct {
	ID       string
	Username string
}

// Verification errors.
var (
	ErrNoToken      = errors.New("no auth token")
	ErrInvalidToken = errors.New("invalid auth token")
)

// Verifier validates session tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier with the given HMAC secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// CurrentUser parses and validates the token, returning the identity
// it carries. Expiry and signature method are enforced by the parser.
func (v *Verifier) CurrentUser(token string) (*User, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	username, _ := claims["username"].(string)

	return &User{ID: sub, Username: username}, nil
}

// MintToken issues a signed session token for the user. Used by tests
// and the local dev command.
func MintToken(secret []byte, user User, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
