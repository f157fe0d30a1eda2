// Package interaction drives a login interaction from the first prompt to
// the result handed back to the OpenID protocol engine.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jamesacres/bubblyclouds-auth/internal/artifact"
)

// ErrInteractionNotFound means the uid is unknown or the interaction expired.
var ErrInteractionNotFound = errors.New("interaction not found")

// DefaultInteractionTTL is used when an interaction carries no exp.
const DefaultInteractionTTL = time.Hour

// Prompt is what the engine is asking the user for ("login" or "consent").
type Prompt struct {
	Name    string         `json:"name"`
	Reasons []string       `json:"reasons,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Details is the engine's view of one interaction.
type Details struct {
	UID      string         `json:"uid"`
	Prompt   Prompt         `json:"prompt"`
	Params   map[string]any `json:"params,omitempty"`
	ReturnTo string         `json:"returnTo"`
	Exp      int64          `json:"exp,omitempty"`
	Result   *Result        `json:"result,omitempty"`
}

// ClientID returns params.client_id when present.
func (d *Details) ClientID() string {
	s, _ := d.Params["client_id"].(string)
	return s
}

// LoginResult tells the engine who logged in.
type LoginResult struct {
	AccountID string `json:"accountId"`
	Remember  bool   `json:"remember"`
}

// Result is handed back to the engine when an interaction ends.
type Result struct {
	Login            *LoginResult `json:"login,omitempty"`
	Error            string       `json:"error,omitempty"`
	ErrorDescription string       `json:"error_description,omitempty"`
}

// AbortResult is the result of a user-cancelled interaction.
func AbortResult() Result {
	return Result{Error: "access_denied", ErrorDescription: "End-User aborted interaction"}
}

// Engine is the slice of the protocol engine the login flow needs.
type Engine interface {
	Details(ctx context.Context, uid string) (*Details, error)
	// Finish records result and sends the browser back to the engine.
	Finish(w http.ResponseWriter, r *http.Request, uid string, result Result) error
}

// StoreEngine implements Engine over Interaction artifacts written by the
// protocol engine through the same store.
type StoreEngine struct {
	store *artifact.Store
	now   func() time.Time
}

// NewStoreEngine binds to the Interaction store.
func NewStoreEngine(store *artifact.Store, now func() time.Time) *StoreEngine {
	if now == nil {
		now = time.Now
	}
	return &StoreEngine{store: store, now: now}
}

// Begin stores a new interaction. The protocol engine normally does this;
// it is exposed for tooling and tests.
func (e *StoreEngine) Begin(ctx context.Context, d Details, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultInteractionTTL
	}
	if d.Exp == 0 {
		d.Exp = e.now().Add(ttl).Unix()
	}
	payload, err := artifact.ToPayload(d)
	if err != nil {
		return err
	}
	return e.store.Upsert(ctx, d.UID, payload, ttl)
}

func (e *StoreEngine) Details(ctx context.Context, uid string) (*Details, error) {
	p, ok := e.store.Find(ctx, uid)
	if !ok {
		return nil, ErrInteractionNotFound
	}
	var d Details
	if err := p.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode interaction %s: %w", uid, err)
	}
	if d.UID == "" {
		d.UID = uid
	}
	return &d, nil
}

func (e *StoreEngine) Finish(w http.ResponseWriter, r *http.Request, uid string, result Result) error {
	ctx := r.Context()
	p, ok := e.store.Find(ctx, uid)
	if !ok {
		return ErrInteractionNotFound
	}
	var d Details
	if err := p.Decode(&d); err != nil {
		return fmt.Errorf("decode interaction %s: %w", uid, err)
	}
	if d.ReturnTo == "" {
		return fmt.Errorf("interaction %s has no returnTo", uid)
	}

	resultPayload, err := artifact.ToPayload(result)
	if err != nil {
		return err
	}
	p["result"] = resultPayload

	ttl := DefaultInteractionTTL
	if d.Exp != 0 {
		ttl = time.Unix(d.Exp, 0).Sub(e.now())
		if ttl <= 0 {
			return ErrInteractionNotFound
		}
	}
	if err := e.store.Upsert(ctx, uid, p, ttl); err != nil {
		return err
	}

	http.Redirect(w, r, d.ReturnTo, http.StatusSeeOther)
	return nil
}
