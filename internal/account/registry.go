// Package account maps verified identities onto stable account ids.
package account

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jamesacres/bubblyclouds-auth/internal/artifact"
	"github.com/jamesacres/bubblyclouds-auth/internal/identity"
)

// ProviderEmail marks identities proven by a one-time code.
const ProviderEmail = "email"

// DefaultIDPrefix is prepended to minted account ids.
const DefaultIDPrefix = "bubblyclouds"

// ErrNotFound is returned by Claims for unknown account ids.
var ErrNotFound = errors.New("account not found")

// Account is the stored record. UID is the verified email and backs the
// uid index.
type Account struct {
	AccountID         string                     `json:"accountId"`
	UID               string                     `json:"uid"`
	Profile           identity.Profile           `json:"profile"`
	FederatedProvider string                     `json:"federatedProvider,omitempty"`
	FederatedTokens   map[string]identity.Tokens `json:"federatedTokens,omitempty"`
	CreatedAt         string                     `json:"createdAt"`
	UpdatedAt         string                     `json:"updatedAt"`
}

// Registry resolves identities to accounts.
type Registry struct {
	store  *artifact.Typed[Account]
	prefix string
	now    func() time.Time
}

type Option func(*Registry)

// WithIDPrefix sets the "<prefix>|" part of new account ids.
func WithIDPrefix(prefix string) Option {
	return func(r *Registry) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New builds a registry over the Account store.
func New(store *artifact.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  artifact.NewTyped[Account](store),
		prefix: DefaultIDPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds or creates the account for a verified identity. The email
// must be present and verified. An existing account keeps its id; its
// profile is merged field by field and the provider's token set replaced.
//
// Two concurrent first logins for the same new email both create an
// account; the later write wins the uid index.
func (r *Registry) Resolve(ctx context.Context, ident *identity.Identity) (*Account, error) {
	if ident == nil {
		return nil, identity.InvalidToken("account not found", nil)
	}
	email := strings.ToLower(strings.TrimSpace(ident.Profile.Email))
	if email == "" || !ident.Profile.IsEmailVerified() {
		// All accounts require a verified email.
		return nil, identity.InvalidToken("account not found", errors.New("email missing or unverified"))
	}

	incoming := ident.Profile
	incoming.Email = email
	now := r.now().UTC().Format(time.RFC3339)

	acct, found := r.store.FindByUID(ctx, email)
	created := !found || acct.AccountID == ""
	if !created {
		acct.Profile = identity.MergeProfile(acct.Profile, incoming)
	} else {
		acct = Account{
			AccountID: r.prefix + "|" + uuid.NewString(),
			Profile:   incoming,
			CreatedAt: now,
		}
	}
	acct.UID = email
	acct.UpdatedAt = now
	if ident.Provider != ProviderEmail && ident.Provider != "" {
		acct.FederatedProvider = ident.Provider
	}
	if ident.Tokens != nil {
		if acct.FederatedTokens == nil {
			acct.FederatedTokens = make(map[string]identity.Tokens)
		}
		acct.FederatedTokens[ident.Provider] = *ident.Tokens
	}

	if err := r.store.Upsert(ctx, acct.AccountID, acct, 0); err != nil {
		return nil, err
	}
	if created {
		log.Printf("[Account] ✨ created %s via %s", acct.AccountID, ident.Provider)
	} else {
		log.Printf("[Account] updated %s via %s", acct.AccountID, ident.Provider)
	}
	return &acct, nil
}

// ResolveEmail resolves an address proven by a one-time code.
func (r *Registry) ResolveEmail(ctx context.Context, email string) (*Account, error) {
	return r.Resolve(ctx, &identity.Identity{
		Provider: ProviderEmail,
		Subject:  email,
		Profile:  identity.Profile{Email: email, EmailVerified: identity.Verified()},
	})
}

// Find returns the account stored under accountID.
func (r *Registry) Find(ctx context.Context, accountID string) (*Account, bool) {
	acct, ok := r.store.Find(ctx, accountID)
	if !ok {
		return nil, false
	}
	return &acct, true
}

// Claims returns the profile claims plus sub for the protocol engine.
func (r *Registry) Claims(ctx context.Context, accountID string) (map[string]any, error) {
	acct, ok := r.Find(ctx, accountID)
	if !ok {
		return nil, ErrNotFound
	}
	claims, err := artifact.ToPayload(acct.Profile)
	if err != nil {
		return nil, err
	}
	claims["sub"] = acct.AccountID
	return claims, nil
}

// Destroy removes the account. Sessions that reference it become absent
// on their next read; nothing else is cascaded.
func (r *Registry) Destroy(ctx context.Context, accountID string) error {
	if err := r.store.Store().Destroy(ctx, accountID); err != nil {
		return err
	}
	log.Printf("[Account] 🗑️ destroyed %s", accountID)
	return nil
}
