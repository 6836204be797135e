// Package auth verifies the optional server-auth token carried in a
// HandshakeRequest (spec §4.5 state machine, AwaitHandshake -> Active).
// Narrowed from go-server/internal/auth/jwt.go's full user-claims JWTManager
// down to a signature-and-expiry check against one shared HMAC secret:
// WorldQL peers authenticate to each other via the per-connection token the registry issues at
// handshake (spec §4.2), not via user identity: the server-auth token only
// gates whether a handshake is accepted at all.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ServerAuthClaims is the minimal claim set a server-auth token carries.
// Only expiry is checked beyond signature validity; WorldQL has no notion
// of per-user identity at the handshake layer.
type ServerAuthClaims struct {
	jwt.RegisteredClaims
}

// Verifier validates the server_auth field of a HandshakeRequest against a
// configured HMAC secret. A nil Verifier (no secret configured) means
// server auth is disabled and every handshake is accepted.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier over secret. An empty secret disables
// verification; Required reports false in that case.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

// Required reports whether the transport acceptor must demand a server_auth
// token before admitting a handshake.
func (v *Verifier) Required() bool {
	return v != nil
}

// Verify checks token's signature and expiry against the configured
// secret. Called only when Required() is true.
func (v *Verifier) Verify(token string) error {
	parsed, err := jwt.ParseWithClaims(token, &ServerAuthClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("server auth: %w", err)
	}
	if !parsed.Valid {
		return errors.New("server auth: token invalid")
	}
	return nil
}
