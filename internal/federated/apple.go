package federated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jamesacres/bubblyclouds-auth/internal/identity"
	"github.com/jamesacres/bubblyclouds-auth/internal/secrets"
	"golang.org/x/oauth2"
)

// AppleIssuer is Apple's OIDC issuer and the audience of client secrets.
const AppleIssuer = "https://appleid.apple.com"

// AppleConfig configures Sign in with Apple.
type AppleConfig struct {
	ClientID    string // services id
	TeamID      string
	KeyID       string
	KeySecret   string // secret name holding the PKCS#8 PEM key
	RedirectURL string // .../interaction/callback/apple
	IssuerURL   string // defaults to AppleIssuer
	SecretTTL   time.Duration
	HTTPClient  *http.Client
}

// Apple uses the authorization code flow with form_post. The client secret
// is an ES256 JWT minted per exchange from a key held in a secret source.
type Apple struct {
	cfg      AppleConfig
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	secrets  secrets.Source
	now      func() time.Time
}

// NewApple runs discovery against the issuer.
func NewApple(ctx context.Context, cfg AppleConfig, src secrets.Source) (*Apple, error) {
	if cfg.ClientID == "" || cfg.TeamID == "" || cfg.KeyID == "" || cfg.KeySecret == "" || cfg.RedirectURL == "" {
		return nil, errors.New("apple client config missing required fields")
	}
	if cfg.IssuerURL == "" {
		cfg.IssuerURL = AppleIssuer
	}
	if cfg.SecretTTL <= 0 {
		cfg.SecretTTL = 5 * time.Minute
	}
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to init apple oidc provider: %w", err)
	}
	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &Apple{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Endpoint:    endpoint,
			Scopes:      []string{"name", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		secrets:  src,
		now:      time.Now,
	}, nil
}

// AppleFactory adapts NewApple for the Registry.
func AppleFactory(cfg AppleConfig, src secrets.Source) Factory {
	return func(ctx context.Context) (Provider, error) {
		return NewApple(ctx, cfg, src)
	}
}

func (a *Apple) Name() string {
	return "apple"
}

func (a *Apple) AuthorizationURL(state, nonce string, scopes []string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_mode", "form_post"),
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if len(scopes) > 0 {
		// Apple only knows name and email.
		var kept []string
		for _, s := range scopes {
			if s == "name" || s == "email" {
				kept = append(kept, s)
			}
		}
		if len(kept) > 0 {
			opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(kept, " ")))
		}
	}
	return a.oauth.AuthCodeURL(state, opts...)
}

func (a *Apple) ExchangeCallback(ctx context.Context, params url.Values, nonce, expectedState string) (*identity.Identity, error) {
	if err := checkState(params, expectedState); err != nil {
		return nil, err
	}
	code := params.Get("code")
	if code == "" {
		return nil, identity.InvalidRequest("missing code")
	}

	secret, err := a.clientSecret(ctx)
	if err != nil {
		return nil, identity.InvalidToken("invalid apple id_token", err)
	}
	cfg := *a.oauth
	cfg.ClientSecret = secret
	if a.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.cfg.HTTPClient)
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, identity.InvalidToken("invalid apple id_token", err)
	}
	raw, _ := tok.Extra("id_token").(string)
	claims, err := verifyIDToken(ctx, a.verifier, "apple", raw, nonce)
	if err != nil {
		return nil, err
	}

	profile := claims.Profile
	applyAppleUser(&profile, params.Get("user"))

	tokens := &identity.Tokens{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		IDToken:      raw,
	}
	if !tok.Expiry.IsZero() {
		tokens.ExpiresAt = tok.Expiry.Unix()
	}

	return &identity.Identity{
		Provider: a.Name(),
		Subject:  claims.Subject,
		Profile:  profile,
		Tokens:   tokens,
	}, nil
}

// clientSecret signs the short-lived ES256 assertion Apple expects as
// client_secret.
func (a *Apple) clientSecret(ctx context.Context) (string, error) {
	pem, err := a.secrets.GetSecret(ctx, a.cfg.KeySecret)
	if err != nil {
		return "", fmt.Errorf("load apple key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return "", fmt.Errorf("parse apple key: %w", err)
	}

	now := a.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": a.cfg.TeamID,
		"sub": a.cfg.ClientID,
		"aud": AppleIssuer,
		"iat": now.Unix(),
		"exp": now.Add(a.cfg.SecretTTL).Unix(),
	})
	tok.Header["kid"] = a.cfg.KeyID
	return tok.SignedString(key)
}

// applyAppleUser folds in the "user" form field Apple posts on the first
// authorization only.
func applyAppleUser(p *identity.Profile, raw string) {
	if raw == "" {
		return
	}
	var u struct {
		Name struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return
	}
	if u.Name.FirstName != "" {
		p.GivenName = u.Name.FirstName
	}
	if u.Name.LastName != "" {
		p.FamilyName = u.Name.LastName
	}
	if full := strings.TrimSpace(u.Name.FirstName + " " + u.Name.LastName); full != "" && p.Name == "" {
		p.Name = full
	}
}
