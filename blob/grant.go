package blob

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultGrantTTL bounds how long an issued upload grant stays valid.
const DefaultGrantTTL = 5 * time.Minute

// Grant errors.
var (
	ErrInvalidGrant = errors.New("invalid upload grant")
	ErrWrongPath    = errors.New("grant does not cover this path")
)

// Granter issues and verifies single-path upload grants. A grant binds
// one user to one object path under their own prefix, so a leaked
// token cannot write anywhere else.
type Granter struct {
	secret   []byte
	ttl      time.Duration
	patterns []string
}

// NewGranter creates a granter. Zero ttl means DefaultGrantTTL; empty
// patterns fall back to DefaultAllowPatterns.
func NewGranter(secret []byte, ttl time.Duration, patterns []string) *Granter {
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}
	if len(patterns) == 0 {
		patterns = DefaultAllowPatterns
	}
	return &Granter{secret: secret, ttl: ttl, patterns: patterns}
}

// Issue mints a grant for the user to upload to path. The path must
// pass the allow patterns and live under the user's prefix.
func (g *Granter) Issue(userID, path string) (string, error) {
	if !Allowed(g.patterns, path) {
		return "", fmt.Errorf("%w: %s", ErrPathNotAllowed, path)
	}
	if !strings.HasPrefix(path, userID+"/") {
		return "", fmt.Errorf("%w: path must live under %s/", ErrPathNotAllowed, userID)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"path": path,
		"iat":  now.Unix(),
		"exp":  now.Add(g.ttl).Unix(),
	})
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return signed, nil
}

// Verify checks the grant against the path being written and returns
// the granted user id.
func (g *Granter) Verify(token, path string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidGrant, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: unexpected claims type", ErrInvalidGrant)
	}
	granted, _ := claims["path"].(string)
	if granted != path {
		return "", fmt.Errorf("%w: granted %s", ErrWrongPath, granted)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidGrant)
	}
	return sub, nil
}
