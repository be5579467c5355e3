package operator

import (
	"net/http"
	"net/url"
	"testing"
)

func TestNewAuthenticator_FallsBackToDevSecretOnLoopback(t *testing.T) {
	t.Setenv(tokenEnvVar, "")
	a, err := NewAuthenticator(true)
	if err != nil {
		t.Fatalf("NewAuthenticator(loopbackOnly=true): %v", err)
	}
	if string(a.secret) != devSecret {
		t.Error("expected dev secret fallback on loopback bind with no env secret set")
	}
}

func TestNewAuthenticator_RejectsMissingSecretOnNonLoopback(t *testing.T) {
	t.Setenv(tokenEnvVar, "")
	if _, err := NewAuthenticator(false); err == nil {
		t.Error("expected error when binding non-loopback with no TRIDENT_OPERATOR_SECRET set")
	}
}

func TestNewAuthenticator_UsesEnvSecretWhenSet(t *testing.T) {
	t.Setenv(tokenEnvVar, "a-real-secret")
	a, err := NewAuthenticator(false)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	if string(a.secret) != "a-real-secret" {
		t.Error("did not pick up secret from environment")
	}
}

func TestIssueVerify_RoundTrips(t *testing.T) {
	t.Setenv(tokenEnvVar, "round-trip-secret")
	a, err := NewAuthenticator(false)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	token, err := a.Issue("console-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	sub, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "console-1" {
		t.Errorf("Verify returned subject %q, want %q", sub, "console-1")
	}
}

func TestVerify_RejectsTokenFromDifferentSecret(t *testing.T) {
	t.Setenv(tokenEnvVar, "secret-one")
	a1, err := NewAuthenticator(false)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	token, err := a1.Issue("console-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	t.Setenv(tokenEnvVar, "secret-two")
	a2, err := NewAuthenticator(false)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	if _, err := a2.Verify(token); err != ErrInvalidToken {
		t.Errorf("Verify across secrets = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_RejectsGarbageToken(t *testing.T) {
	t.Setenv(tokenEnvVar, "some-secret")
	a, err := NewAuthenticator(false)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	if _, err := a.Verify("not-a-jwt"); err != ErrInvalidToken {
		t.Errorf("Verify(garbage) = %v, want ErrInvalidToken", err)
	}
}

func TestBearerToken_PrefersAuthorizationHeader(t *testing.T) {
	r, _ := http.NewRequest("GET", "/ws/operator?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	if got := bearerToken(r); got != "header-token" {
		t.Errorf("bearerToken = %q, want %q", got, "header-token")
	}
}

func TestBearerToken_FallsBackToQueryParam(t *testing.T) {
	r, _ := http.NewRequest("GET", "/ws/operator?token=query-token", nil)
	if got := bearerToken(r); got != "query-token" {
		t.Errorf("bearerToken = %q, want %q", got, "query-token")
	}
}

func TestBearerToken_EmptyWhenNeitherPresent(t *testing.T) {
	r, _ := http.NewRequest("GET", "/ws/operator", nil)
	if got := bearerToken(r); got != "" {
		t.Errorf("bearerToken = %q, want empty", got)
	}
}

func TestBearerToken_IgnoresNonBearerScheme(t *testing.T) {
	u := url.URL{Path: "/ws/operator"}
	r, _ := http.NewRequest("GET", u.String(), nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := bearerToken(r); got != "" {
		t.Errorf("bearerToken with a Basic auth header = %q, want empty", got)
	}
}
