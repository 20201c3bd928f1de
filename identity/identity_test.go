package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-0123456789")

func TestMintAndVerifyRoundTrip(t *testing.T) {
	token, err := MintToken(testSecret, User{ID: "u-1", Username: "alice"}, time.Minute)
	require.NoError(t, err)

	v := NewVerifier(testSecret)
	user, err := v.CurrentUser(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "alice", user.Username)
}

func TestEmptyTokenRejected(t *testing.T) {
	v := NewVerifier(testSecret)
	_, err := v.CurrentUser("")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := MintToken([]byte("other-secret"), User{ID: "u-1"}, time.Minute)
	require.NoError(t, err)

	v := NewVerifier(testSecret)
	_, err = v.CurrentUser(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := MintToken(testSecret, User{ID: "u-1"}, -time.Minute)
	require.NoError(t, err)

	v := NewVerifier(testSecret)
	_, err = v.CurrentUser(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMissingSubjectRejected(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": "ghost",
		"exp":      time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)

	v := NewVerifier(testSecret)
	_, err = v.CurrentUser(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNoneAlgorithmRejected(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u-1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	v := NewVerifier(testSecret)
	_, err = v.CurrentUser(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
