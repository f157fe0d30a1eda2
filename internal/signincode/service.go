// Package signincode issues and verifies the one-time codes emailed to
// users who sign in without a federated provider.
package signincode

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jamesacres/bubblyclouds-auth/internal/artifact"
	"github.com/jamesacres/bubblyclouds-auth/internal/metrics"
	"github.com/jamesacres/bubblyclouds-auth/internal/util"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = time.Hour

type record struct {
	SignInCode string `json:"signInCode"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

// Service keeps one live code per normalized email.
type Service struct {
	store   *artifact.Store
	ttl     time.Duration
	now     func() time.Time
	metrics metrics.Recorder
}

// Option configures a Service.
type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// New builds a Service over the SignInCode store.
func New(store *artifact.Store, opts ...Option) *Service {
	s := &Service{store: store, ttl: DefaultTTL, now: time.Now, metrics: metrics.Nop{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue returns the current code for email, minting one when there is no
// unconsumed, unexpired code. Repeated calls return the same code.
func (s *Service) Issue(ctx context.Context, rawEmail string) (string, error) {
	email, err := util.NormalizeEmail(rawEmail)
	if err != nil {
		return "", err
	}
	return s.issue(ctx, email)
}

func (s *Service) issue(ctx context.Context, email string) (string, error) {
	if p, ok := s.store.Find(ctx, email); ok && !p.Consumed() {
		if code := p.String("signInCode"); code != "" {
			s.metrics.RecordCodeIssued(true)
			return code, nil
		}
	}

	now := s.now().UTC().Format(time.RFC3339)
	code := util.RandomHumanCode()
	payload, err := artifact.ToPayload(record{SignInCode: code, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return "", err
	}
	if err := s.store.Upsert(ctx, email, payload, s.ttl); err != nil {
		return "", err
	}
	s.metrics.RecordCodeIssued(false)
	log.Printf("[SignInCode] issued code %s", util.MaskSecret(code))
	return code, nil
}

// Verify consumes the code for email when submitted matches it, ignoring
// case and separators. A mismatch, a consumed code and a missing code all
// return false, and only one of several concurrent matching calls succeeds.
// Verifying without a prior Issue mints a code that the submission cannot
// match.
func (s *Service) Verify(ctx context.Context, rawEmail, submitted string) (bool, error) {
	email, err := util.NormalizeEmail(rawEmail)
	if err != nil {
		return false, err
	}
	want := util.CanonicalCode(submitted)
	if want == "" {
		return false, nil
	}

	current, err := s.issue(ctx, email)
	if err != nil {
		return false, err
	}
	if util.CanonicalCode(current) != want {
		return false, nil
	}
	if err := s.store.ConsumeOnce(ctx, email); err != nil {
		if errors.Is(err, artifact.ErrAlreadyConsumed) || errors.Is(err, artifact.ErrNotFound) {
			log.Printf("[SignInCode] ⚠️ code already spent or gone")
			return false, nil
		}
		return false, err
	}
	return true, nil
}
