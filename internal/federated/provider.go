// Package federated signs users in through external OpenID providers.
package federated

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jamesacres/bubblyclouds-auth/internal/identity"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownProvider is returned for provider names that were never registered.
var ErrUnknownProvider = errors.New("unknown federated provider")

// DefaultScopes is requested when the caller passes none.
var DefaultScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// Provider is one upstream identity provider.
type Provider interface {
	Name() string
	// AuthorizationURL is where the browser is sent. The caller binds
	// state and nonce to the interaction before redirecting.
	AuthorizationURL(state, nonce string, scopes []string) string
	// ExchangeCallback turns callback parameters into a verified identity.
	// Every verification failure is an identity.ErrInvalidToken.
	ExchangeCallback(ctx context.Context, params url.Values, nonce, expectedState string) (*identity.Identity, error)
}

// Factory builds a provider, usually by running OIDC discovery.
type Factory func(ctx context.Context) (Provider, error)

// Registry builds each provider once per process and hands out the cached
// handle. Concurrent cold lookups share one discovery.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	built     map[string]Provider
	group     singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		built:     make(map[string]Provider),
	}
}

// Register adds a provider factory under name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	delete(r.built, name)
}

// Names lists registered providers in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the provider registered as name, building it on first use.
// Failed builds are not cached.
func (r *Registry) Get(ctx context.Context, name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.built[name]
	f, registered := r.factories[name]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		r.mu.RLock()
		p, ok := r.built[name]
		r.mu.RUnlock()
		if ok {
			return p, nil
		}
		p, err := f(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.built[name] = p
		r.mu.Unlock()
		log.Printf("[Federated] ✅ %s client ready", name)
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("init %s provider: %w", name, err)
	}
	return v.(Provider), nil
}

// checkState validates the echoed state before any token work happens.
func checkState(params url.Values, expected string) error {
	if e := params.Get("error"); e != "" {
		return identity.InvalidToken("provider returned "+e, errors.New(params.Get("error_description")))
	}
	state := params.Get("state")
	if state == "" {
		return identity.InvalidRequest("missing state")
	}
	if state != expected {
		return identity.InvalidToken("state mismatch", nil)
	}
	return nil
}

// idTokenClaims is the subset of id_token claims we keep.
type idTokenClaims struct {
	identity.Profile
	Subject string `json:"sub"`
}

// verifyIDToken checks signature, issuer, audience, expiry and nonce.
func verifyIDToken(ctx context.Context, verifier *oidc.IDTokenVerifier, provider, raw, nonce string) (*idTokenClaims, error) {
	if raw == "" {
		return nil, identity.InvalidRequest("missing id_token")
	}
	idt, err := verifier.Verify(ctx, raw)
	if err != nil {
		return nil, identity.InvalidToken("invalid "+provider+" id_token", err)
	}
	if nonce == "" || idt.Nonce != nonce {
		return nil, identity.InvalidToken("invalid "+provider+" id_token", errors.New("nonce mismatch"))
	}
	var c idTokenClaims
	if err := idt.Claims(&c); err != nil {
		return nil, identity.InvalidToken("invalid "+provider+" id_token", err)
	}
	if c.Subject == "" {
		c.Subject = idt.Subject
	}
	return &c, nil
}
