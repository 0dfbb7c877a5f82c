package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/airactl/internal/auth"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestFromToken(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signedToken(t, jwt.MapClaims{
		"sub":   "user-42",
		"email": "dev@example.com",
		"exp":   exp.Unix(),
	})

	id, err := auth.FromToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.Subject)
	assert.Equal(t, "dev@example.com", id.Email)
	assert.Equal(t, exp.Unix(), id.ExpiresAt.Unix())
	assert.False(t, id.Expired(time.Now()))
}

func TestFromToken_Empty(t *testing.T) {
	t.Parallel()

	_, err := auth.FromToken("")
	require.ErrorIs(t, err, auth.ErrNoToken)
}

func TestFromToken_Garbage(t *testing.T) {
	t.Parallel()

	_, err := auth.FromToken("not.a.token")
	require.Error(t, err)
}

func TestFromToken_MinimalClaims(t *testing.T) {
	t.Parallel()

	raw := signedToken(t, jwt.MapClaims{"sub": "user-1"})

	id, err := auth.FromToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.Subject)
	assert.True(t, id.ExpiresAt.IsZero())
	assert.False(t, id.Expired(time.Now()), "a token without expiry never expires locally")
}

func TestIdentity_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	id := &auth.Identity{ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, id.Expired(now))

	id.ExpiresAt = now.Add(time.Minute)
	assert.False(t, id.Expired(now))
}

func TestIdentity_Display(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "dev@example.com", (&auth.Identity{Subject: "u1", Email: "dev@example.com"}).Display())
	assert.Equal(t, "u1", (&auth.Identity{Subject: "u1"}).Display())
	assert.Equal(t, "anonymous", (&auth.Identity{}).Display())
}
