// ABOUTME: JWT token verification for authenticating websocket handshakes
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	// ErrUnauthorized is a fatal handshake rejection. It is never retried.
	ErrUnauthorized = errors.New("unauthorized")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Roles a connecting user can hold.
const (
	RoleOwner        = "owner"
	RoleCollaborator = "collaborator"
	RoleViewer       = "viewer"
)

// Identity is the resolved identity of a connecting user.
type Identity struct {
	UserID      string
	DisplayName string
	Role        string
	// Notifications reports whether the user opted into desktop/push
	// notification payloads for out-of-room events.
	Notifications bool
}

// Verifier defines the interface for token verification
type Verifier interface {
	Verify(tokenString string) (Identity, error)
}

// JWTVerifier implements Verifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts the identity from its claims.
// All failures wrap ErrUnauthorized so the handshake handler has a single
// sentinel to check.
func (v *JWTVerifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrExpiredToken)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if !token.Valid {
		return Identity{}, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrUnauthorized
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Identity{}, fmt.Errorf("%w: %w: sub", ErrUnauthorized, ErrMissingClaim)
	}

	identity := Identity{
		UserID:        sub,
		DisplayName:   sub,
		Role:          RoleViewer,
		Notifications: true,
	}
	if name, ok := claims["name"].(string); ok && name != "" {
		identity.DisplayName = name
	}
	if role, ok := claims["role"].(string); ok && role != "" {
		if !ValidRole(role) {
			return Identity{}, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, role)
		}
		identity.Role = role
	}
	if notify, ok := claims["notify"].(bool); ok {
		identity.Notifications = notify
	}

	return identity, nil
}

// Generate creates a new JWT token for the given identity with expiration
func (v *JWTVerifier) Generate(identity Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    identity.UserID,
		"name":   identity.DisplayName,
		"role":   identity.Role,
		"notify": identity.Notifications,
		"iat":    now.Unix(),
		"exp":    now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ValidRole reports whether the role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleCollaborator, RoleViewer:
		return true
	}
	return false
}
