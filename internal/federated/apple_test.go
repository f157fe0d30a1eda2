package federated

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/url"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jamesacres/bubblyclouds-auth/internal/identity"
	"github.com/jamesacres/bubblyclouds-auth/internal/secrets"
)

func newTestApple(t *testing.T) (*Apple, *fakeIssuer, *ecdsa.PrivateKey) {
	t.Helper()
	issuer := newFakeIssuer(t)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	a, err := NewApple(context.Background(), AppleConfig{
		ClientID:    "com.example.web",
		TeamID:      "TEAM123",
		KeyID:       "KEY456",
		KeySecret:   "apple-private-key",
		RedirectURL: "https://auth.example.com/oidc/interaction/callback/apple",
		IssuerURL:   issuer.URL(),
	}, secrets.Static{"apple-private-key": pemKey})
	if err != nil {
		t.Fatalf("NewApple: %v", err)
	}
	return a, issuer, key
}

func TestApple_AuthorizationURL(t *testing.T) {
	a, _, _ := newTestApple(t)

	u, err := url.Parse(a.AuthorizationURL("uid-1", "nonce-1", DefaultScopes))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("response_type") != "code" || q.Get("response_mode") != "form_post" {
		t.Fatalf("unexpected response params: %v", q)
	}
	if q.Get("scope") != "email" {
		t.Fatalf("scope = %q, want only scopes apple understands", q.Get("scope"))
	}
	if q.Get("nonce") != "nonce-1" || q.Get("state") != "uid-1" {
		t.Fatalf("state/nonce not propagated: %v", q)
	}
}

func TestApple_ExchangeCallback(t *testing.T) {
	a, issuer, key := newTestApple(t)
	ctx := context.Background()

	claims := issuer.claims("com.example.web", "nonce-1")
	claims["email_verified"] = "true"
	delete(claims, "name")
	delete(claims, "given_name")
	issuer.queueIDToken(issuer.sign(claims))

	params := url.Values{
		"state": {"uid-1"},
		"code":  {"good-code"},
		"user":  {`{"name":{"firstName":"Grace","lastName":"Hopper"},"email":"a@b.com"}`},
	}
	got, err := a.ExchangeCallback(ctx, params, "nonce-1", "uid-1")
	if err != nil {
		t.Fatalf("ExchangeCallback: %v", err)
	}
	if !got.Profile.IsEmailVerified() {
		t.Fatal(`string "true" email_verified should count as verified`)
	}
	if got.Profile.GivenName != "Grace" || got.Profile.FamilyName != "Hopper" || got.Profile.Name != "Grace Hopper" {
		t.Fatalf("user payload not applied: %+v", got.Profile)
	}
	if got.Tokens.AccessToken != "at-1" || got.Tokens.RefreshToken != "rt-1" || got.Tokens.ExpiresAt == 0 {
		t.Fatalf("tokens = %+v", got.Tokens)
	}

	// The client secret is an ES256 assertion signed with our key.
	form := issuer.lastTokenForm()
	if form.Get("client_id") != "com.example.web" {
		t.Fatalf("client_id = %q", form.Get("client_id"))
	}
	parsed, err := jwt.Parse(form.Get("client_secret"), func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithAudience(AppleIssuer), jwt.WithIssuer("TEAM123"), jwt.WithSubject("com.example.web"))
	if err != nil {
		t.Fatalf("client secret does not verify: %v", err)
	}
	if parsed.Header["kid"] != "KEY456" {
		t.Fatalf("kid header = %v", parsed.Header["kid"])
	}
}

func TestApple_ExchangeCallbackFailures(t *testing.T) {
	a, issuer, _ := newTestApple(t)
	ctx := context.Background()
	issuer.queueIDToken(issuer.sign(issuer.claims("com.example.web", "nonce-1")))

	tests := []struct {
		name    string
		params  url.Values
		nonce   string
		wantErr error
	}{
		{name: "missing code", params: url.Values{"state": {"uid-1"}}, nonce: "nonce-1", wantErr: identity.ErrInvalidRequest},
		{name: "rejected code", params: url.Values{"state": {"uid-1"}, "code": {"bad-code"}}, nonce: "nonce-1", wantErr: identity.ErrInvalidToken},
		{name: "nonce mismatch", params: url.Values{"state": {"uid-1"}, "code": {"good-code"}}, nonce: "nope", wantErr: identity.ErrInvalidToken},
		{name: "state mismatch", params: url.Values{"state": {"uid-9"}, "code": {"good-code"}}, nonce: "nonce-1", wantErr: identity.ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ExchangeCallback(ctx, tt.params, tt.nonce, "uid-1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != nil {
				t.Fatal("no identity may be returned alongside an error")
			}
		})
	}
}

func TestApple_MissingKeyIsInvalidToken(t *testing.T) {
	a, _, _ := newTestApple(t)
	a.secrets = secrets.Static{}

	_, err := a.ExchangeCallback(context.Background(), url.Values{"state": {"uid-1"}, "code": {"good-code"}}, "nonce-1", "uid-1")
	if !errors.Is(err, identity.ErrInvalidToken) {
		t.Fatalf("error = %v, want ErrInvalidToken", err)
	}
}
