package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt"

	"wade/internal/directus"
)

// ErrNoCredential is returned by TokenStore.Load when nothing is stored.
var ErrNoCredential = errors.New("no stored credential")

// Credential is the only value persisted for a session.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token is past its expiry. A zero
// expiry never expires.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// TokenStore persists credentials by session id.
type TokenStore interface {
	Save(ctx context.Context, sessionID string, cred Credential) error
	Load(ctx context.Context, sessionID string) (Credential, error)
	Delete(ctx context.Context, sessionID string) error
}

// credentialFrom builds a Credential from a login response. The expiry is
// taken from the token's exp claim; when the token is not a readable JWT
// the response's expires (milliseconds) is used instead.
func credentialFrom(res *directus.AuthResult, now time.Time) Credential {
	cred := Credential{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	}
	var claims jwt.StandardClaims
	if _, _, err := new(jwt.Parser).ParseUnverified(res.AccessToken, &claims); err == nil && claims.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(claims.ExpiresAt, 0)
		return cred
	}
	if res.Expires > 0 {
		cred.ExpiresAt = now.Add(time.Duration(res.Expires) * time.Millisecond)
	}
	return cred
}
