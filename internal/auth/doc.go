// Package auth resolves the identity of connecting users from HS256 JWTs.
//
// Session issuance lives outside the chat core; this package only verifies
// tokens presented at the websocket handshake and extracts the user ID,
// display name, role (owner, collaborator, viewer), and notification
// preference. Any verification failure wraps ErrUnauthorized, which the
// handshake handler treats as a fatal, non-retried rejection.
package auth
