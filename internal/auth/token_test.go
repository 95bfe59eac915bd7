// ABOUTME: Tests for JWT verification and identity claim extraction
// ABOUTME: Covers round-trips, expiry, claim defaults, and role validation

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-for-hallway"

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	_, err := NewJWTVerifier(nil)
	assert.Error(t, err)
}

func TestGenerateAndVerify(t *testing.T) {
	v := newTestVerifier(t)

	identity := Identity{
		UserID:        "user-1",
		DisplayName:   "Alice",
		Role:          RoleCollaborator,
		Notifications: false,
	}

	token, err := v.Generate(identity, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}

func TestVerify_Expired(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Generate(Identity{UserID: "user-1", Role: RoleViewer}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	v := newTestVerifier(t)

	other, err := NewJWTVerifier([]byte("a-different-secret"))
	require.NoError(t, err)
	token, err := other.Generate(Identity{UserID: "user-1", Role: RoleViewer}, time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerify_Garbage(t *testing.T) {
	v := newTestVerifier(t)

	_, err := v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerify_MissingSub(t *testing.T) {
	v := newTestVerifier(t)

	claims := jwt.MapClaims{
		"name": "Nameless",
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestVerify_ClaimDefaults(t *testing.T) {
	v := newTestVerifier(t)

	claims := jwt.MapClaims{
		"sub": "user-2",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-2", identity.UserID)
	assert.Equal(t, "user-2", identity.DisplayName, "display name defaults to sub")
	assert.Equal(t, RoleViewer, identity.Role, "role defaults to viewer")
	assert.True(t, identity.Notifications, "notifications default on")
}

func TestVerify_UnknownRole(t *testing.T) {
	v := newTestVerifier(t)

	claims := jwt.MapClaims{
		"sub":  "user-3",
		"role": "superuser",
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleOwner))
	assert.True(t, ValidRole(RoleCollaborator))
	assert.True(t, ValidRole(RoleViewer))
	assert.False(t, ValidRole("admin"))
	assert.False(t, ValidRole(""))
}
