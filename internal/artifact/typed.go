package artifact

import (
	"context"
	"log"
	"time"
)

// Typed is a Store view that converts payloads to and from T via JSON.
type Typed[T any] struct {
	store *Store
}

// NewTyped wraps store.
func NewTyped[T any](store *Store) *Typed[T] {
	return &Typed[T]{store: store}
}

// Store returns the untyped store.
func (t *Typed[T]) Store() *Store {
	return t.store
}

func (t *Typed[T]) Upsert(ctx context.Context, id string, v T, ttl time.Duration) error {
	payload, err := ToPayload(v)
	if err != nil {
		return err
	}
	return t.store.Upsert(ctx, id, payload, ttl)
}

func (t *Typed[T]) Find(ctx context.Context, id string) (T, bool) {
	p, ok := t.store.Find(ctx, id)
	return t.decode(p, ok)
}

func (t *Typed[T]) FindByUID(ctx context.Context, uid string) (T, bool) {
	p, ok := t.store.FindByUID(ctx, uid)
	return t.decode(p, ok)
}

func (t *Typed[T]) decode(p Payload, ok bool) (T, bool) {
	var v T
	if !ok {
		return v, false
	}
	if err := p.Decode(&v); err != nil {
		log.Printf("[Store] %s payload does not decode: %v", t.store.kind, err)
		return v, false
	}
	return v, true
}
