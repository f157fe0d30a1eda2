package artifact

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/jamesacres/bubblyclouds-auth/internal/metrics"
)

// RevokePageSize is the grant-index page size and the bulk delete size.
const RevokePageSize = 25

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMetrics reports read outcomes and revocations.
func WithMetrics(m metrics.Recorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry hands out one Store per kind over a shared backend.
type Registry struct {
	backend Backend
	now     func() time.Time
	metrics metrics.Recorder

	mu     sync.Mutex
	stores map[Kind]*Store
}

// NewRegistry builds a registry. Wrap backend with WithReadRetry first if
// reads should be retried.
func NewRegistry(backend Backend, opts ...Option) *Registry {
	r := &Registry{
		backend: backend,
		now:     time.Now,
		metrics: metrics.Nop{},
		stores:  make(map[Kind]*Store),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// For returns the store bound to kind.
func (r *Registry) For(kind Kind) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[kind]; ok {
		return s
	}
	s := &Store{kind: kind, registry: r}
	r.stores[kind] = s
	return s
}

// Backend exposes the underlying backend for maintenance jobs.
func (r *Registry) Backend() Backend {
	return r.backend
}

// Now is the registry clock.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Store is the kind-scoped storage adapter handed to the protocol engine.
// Reads never return errors: missing, expired and unreadable artifacts are
// all reported as absent.
type Store struct {
	kind     Kind
	registry *Registry
}

// Kind returns the kind this store is bound to.
func (s *Store) Kind() Kind {
	return s.kind
}

// Upsert writes or overwrites id. A zero ttl stores without expiry.
// uid, grantId and userCode are re-derived from payload on every write.
func (s *Store) Upsert(ctx context.Context, id string, payload Payload, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.registry.now().Unix() + int64(math.Ceil(ttl.Seconds()))
	}
	if payload == nil {
		payload = Payload{}
	}
	if err := s.registry.backend.Put(ctx, newRecord(s.kind, id, payload, expiresAt)); err != nil {
		return fmt.Errorf("upsert %s %s: %w", s.kind, id, err)
	}
	return nil
}

// Find returns the payload stored under id.
func (s *Store) Find(ctx context.Context, id string) (Payload, bool) {
	rec, err := s.registry.backend.Get(ctx, s.kind, id)
	return s.resolve(ctx, "find", rec, err)
}

// FindByUID returns the first artifact whose uid matches.
func (s *Store) FindByUID(ctx context.Context, uid string) (Payload, bool) {
	rec, err := s.registry.backend.QueryIndex(ctx, s.kind, IndexUID, uid)
	return s.resolve(ctx, "findByUid", rec, err)
}

// FindByUserCode returns the first artifact whose userCode matches.
func (s *Store) FindByUserCode(ctx context.Context, userCode string) (Payload, bool) {
	rec, err := s.registry.backend.QueryIndex(ctx, s.kind, IndexUserCode, userCode)
	return s.resolve(ctx, "findByUserCode", rec, err)
}

// Consume sets the consumed marker. It fails with ErrNotFound when id does
// not exist. A second call succeeds at this layer; callers that care must
// look at the marker on the payload.
func (s *Store) Consume(ctx context.Context, id string) error {
	err := s.registry.backend.MarkConsumed(ctx, s.kind, id, s.registry.now().Unix())
	if err != nil {
		return fmt.Errorf("consume %s %s: %w", s.kind, id, err)
	}
	return nil
}

// ConsumeOnce sets the consumed marker only if it is unset. Of several
// concurrent callers exactly one succeeds; the rest get ErrAlreadyConsumed.
func (s *Store) ConsumeOnce(ctx context.Context, id string) error {
	err := s.registry.backend.MarkConsumedOnce(ctx, s.kind, id, s.registry.now().Unix())
	if err != nil {
		return fmt.Errorf("consume once %s %s: %w", s.kind, id, err)
	}
	return nil
}

// Destroy deletes id. Deleting a missing key is not an error.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if err := s.registry.backend.Delete(ctx, s.kind, id); err != nil {
		return fmt.Errorf("destroy %s %s: %w", s.kind, id, err)
	}
	return nil
}

// RevokeByGrantID deletes every artifact carrying grantID, one page at a
// time. It is not atomic; running it again finishes a partial run.
func (s *Store) RevokeByGrantID(ctx context.Context, grantID string) error {
	backend := s.registry.backend
	cursor := ""
	total := 0
	for {
		keys, next, err := backend.GrantPage(ctx, grantID, cursor, RevokePageSize)
		if err != nil {
			return fmt.Errorf("revoke grant %s: query: %w", grantID, err)
		}
		if len(keys) == 0 {
			break
		}
		if err := backend.BatchDelete(ctx, keys); err != nil {
			return fmt.Errorf("revoke grant %s: delete: %w", grantID, err)
		}
		total += len(keys)
		if next == "" {
			break
		}
		cursor = next
	}
	if total > 0 {
		s.registry.metrics.RecordRevoked(total)
		log.Printf("[Store] revoked %d artifacts for grant %s", total, grantID)
	}
	return nil
}

func (s *Store) resolve(ctx context.Context, op string, rec *Record, err error) (Payload, bool) {
	m := s.registry.metrics
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.RecordStoreRead(string(s.kind), metrics.ReadMiss)
			return nil, false
		}
		m.RecordStoreRead(string(s.kind), metrics.ReadError)
		log.Printf("[Store] %s %s failed, treating as absent: %v", s.kind, op, err)
		return nil, false
	}
	if rec.Expired(s.registry.now()) {
		m.RecordStoreRead(string(s.kind), metrics.ReadExpired)
		return nil, false
	}

	payload := rec.View()
	if s.kind == KindSession && !s.accountExists(ctx, payload.String("accountId")) {
		m.RecordStoreRead(string(s.kind), metrics.ReadOrphan)
		log.Printf("[Store] ⚠️ session %s references missing account %q", rec.ID, payload.String("accountId"))
		return nil, false
	}
	m.RecordStoreRead(string(s.kind), metrics.ReadHit)
	return payload, true
}

// accountExists backs the session liveness rule: accounts are deleted
// without touching their sessions.
func (s *Store) accountExists(ctx context.Context, accountID string) bool {
	if accountID == "" {
		return false
	}
	_, ok := s.registry.For(KindAccount).Find(ctx, accountID)
	return ok
}
