package federated

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jamesacres/bubblyclouds-auth/internal/identity"
	"golang.org/x/oauth2"
)

// GoogleIssuer is Google's OIDC issuer.
const GoogleIssuer = "https://accounts.google.com"

// GoogleConfig configures the Google client.
type GoogleConfig struct {
	ClientID    string
	RedirectURL string // .../interaction/callback/google
	IssuerURL   string // defaults to GoogleIssuer
	HTTPClient  *http.Client
}

// Google uses the implicit flow: the id_token comes back in the URL
// fragment and is reposted to us by the callback page.
type Google struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogle runs discovery against the issuer.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("google client config missing required fields")
	}
	issuer := cfg.IssuerURL
	if issuer == "" {
		issuer = GoogleIssuer
	}
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init google oidc provider: %w", err)
	}

	return &Google{
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Endpoint:    provider.Endpoint(),
			Scopes:      DefaultScopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// GoogleFactory adapts NewGoogle for the Registry.
func GoogleFactory(cfg GoogleConfig) Factory {
	return func(ctx context.Context) (Provider, error) {
		return NewGoogle(ctx, cfg)
	}
}

func (g *Google) Name() string {
	return "google"
}

func (g *Google) AuthorizationURL(state, nonce string, scopes []string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", "id_token"),
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if len(scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(scopes, " ")))
	}
	return g.oauth.AuthCodeURL(state, opts...)
}

func (g *Google) ExchangeCallback(ctx context.Context, params url.Values, nonce, expectedState string) (*identity.Identity, error) {
	if err := checkState(params, expectedState); err != nil {
		return nil, err
	}

	raw := params.Get("id_token")
	claims, err := verifyIDToken(ctx, g.verifier, "google", raw, nonce)
	if err != nil {
		return nil, err
	}

	tokens := &identity.Tokens{
		IDToken:      raw,
		AccessToken:  params.Get("access_token"),
		TokenType:    params.Get("token_type"),
		Scope:        params.Get("scope"),
		SessionState: params.Get("session_state"),
	}
	if secs, err := strconv.ParseInt(params.Get("expires_in"), 10, 64); err == nil && secs > 0 {
		tokens.ExpiresAt = time.Now().Unix() + secs
	}

	return &identity.Identity{
		Provider: g.Name(),
		Subject:  claims.Subject,
		Profile:  claims.Profile,
		Tokens:   tokens,
	}, nil
}
