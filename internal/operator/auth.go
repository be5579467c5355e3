package operator

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by Authenticator.Verify for any token that
// fails signature verification, has expired, or carries no subject.
var ErrInvalidToken = errors.New("operator: invalid or expired session token")

// tokenEnvVar names the environment variable holding the HMAC signing
// secret for operator session tokens.
const tokenEnvVar = "TRIDENT_OPERATOR_SECRET"

// devSecret is used only when tokenEnvVar is unset, for local bench
// operation against a loopback bind; NewAuthenticator refuses to fall
// back to it when the server is bound to a non-loopback address.
const devSecret = "trident-dev-operator-secret-not-for-field-use"

// Authenticator issues and verifies short-lived HMAC-signed session tokens
// for the operator connection. One token authorizes one WebSocket session;
// the protocol otherwise has no concept of distinct operator identities.
type Authenticator struct {
	secret []byte
	expiry time.Duration
}

// NewAuthenticator reads the signing secret from TRIDENT_OPERATOR_SECRET.
// loopbackOnly reports whether the server binds to a loopback address;
// when it is false, a missing secret is an error rather than a silent
// fall back to devSecret.
func NewAuthenticator(loopbackOnly bool) (*Authenticator, error) {
	secret := os.Getenv(tokenEnvVar)
	if secret == "" {
		if !loopbackOnly {
			return nil, fmt.Errorf("operator: %s must be set when bound to a non-loopback address", tokenEnvVar)
		}
		secret = devSecret
	}
	return &Authenticator{secret: []byte(secret), expiry: 24 * time.Hour}, nil
}

// Issue mints a session token for the given operator id (free-form, e.g.
// an operator console's hostname).
func (a *Authenticator) Issue(operatorID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": operatorID,
		"exp": time.Now().Add(a.expiry).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify validates a bearer token and returns the operator id it was
// issued for.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// bearerToken extracts the token from an Authorization: Bearer header or,
// failing that, a "token" query parameter (WebSocket clients in browsers
// cannot always set custom headers on the upgrade request).
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return r.URL.Query().Get("token")
}
