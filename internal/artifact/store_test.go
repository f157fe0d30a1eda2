package artifact

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStore_FindAfterDestroy(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestBackend(t))

	kinds := []Kind{KindAccessToken, KindGrant, KindInteraction, KindAccount, KindSignInCode}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			s := reg.For(kind)
			if err := s.Upsert(ctx, "id-1", Payload{"jti": "id-1"}, time.Hour); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if _, ok := s.Find(ctx, "id-1"); !ok {
				t.Fatal("expected artifact before destroy")
			}
			if err := s.Destroy(ctx, "id-1"); err != nil {
				t.Fatalf("destroy: %v", err)
			}
			if _, ok := s.Find(ctx, "id-1"); ok {
				t.Fatal("expected absent after destroy")
			}
			if err := s.Destroy(ctx, "id-1"); err != nil {
				t.Fatalf("destroy of missing key should succeed, got %v", err)
			}
		})
	}
}

func TestStore_KindsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestBackend(t))

	if err := reg.For(KindAccessToken).Upsert(ctx, "same", Payload{"kind": "at"}, 0); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, ok := reg.For(KindRefreshToken).Find(ctx, "same"); ok {
		t.Fatal("refresh token store should not see access token")
	}
}

func TestStore_TTLBoundary(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := NewRegistry(newTestBackend(t), WithClock(clock.Now))
	s := reg.For(KindAuthorizationCode)

	if err := s.Upsert(ctx, "code", Payload{"grantId": "g1"}, 60*time.Second); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	clock.Advance(59 * time.Second)
	if _, ok := s.Find(ctx, "code"); !ok {
		t.Fatal("expected artifact one second before expiry")
	}

	clock.Advance(time.Second)
	if _, ok := s.Find(ctx, "code"); ok {
		t.Fatal("expected absent at expiry")
	}

	// Row is still physically present until swept.
	rec, err := reg.Backend().Get(ctx, KindAuthorizationCode, "code")
	if err != nil || rec == nil {
		t.Fatalf("expected row to still exist, err=%v", err)
	}
}

func TestStore_NoTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := NewRegistry(newTestBackend(t), WithClock(clock.Now))
	s := reg.For(KindClient)

	if err := s.Upsert(ctx, "client", Payload{"client_id": "client"}, 0); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	clock.Advance(24 * 365 * time.Hour)
	if _, ok := s.Find(ctx, "client"); !ok {
		t.Fatal("artifact without ttl should not expire")
	}
}

func TestStore_UpsertOverwritesIndexes(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestBackend(t))
	s := reg.For(KindDeviceCode)

	if err := s.Upsert(ctx, "dc", Payload{"uid": "u-1", "userCode": "ABCD"}, time.Hour); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if p, ok := s.FindByUID(ctx, "u-1"); !ok || p.String("userCode") != "ABCD" {
		t.Fatalf("FindByUID() = %v, %v", p, ok)
	}
	if _, ok := s.FindByUserCode(ctx, "ABCD"); !ok {
		t.Fatal("expected FindByUserCode hit")
	}

	// Second write omits userCode: the index value must be cleared.
	if err := s.Upsert(ctx, "dc", Payload{"uid": "u-1"}, time.Hour); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, ok := s.FindByUserCode(ctx, "ABCD"); ok {
		t.Fatal("userCode index should be cleared by overwrite")
	}
	if _, ok := s.FindByUID(ctx, "u-1"); !ok {
		t.Fatal("uid index should survive overwrite that repeats it")
	}
}

func TestStore_IndexLookupIsKindScoped(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestBackend(t))

	if err := reg.For(KindInteraction).Upsert(ctx, "i1", Payload{"uid": "shared"}, time.Hour); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, ok := reg.For(KindSession).FindByUID(ctx, "shared"); ok {
		t.Fatal("session store should not return an interaction")
	}
	if _, ok := reg.For(KindInteraction).FindByUID(ctx, "shared"); !ok {
		t.Fatal("interaction store should find its own uid")
	}
}

func TestStore_Consume(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestBackend(t))
	s := reg.For(KindAuthorizationCode)

	err := s.Consume(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Consume(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.Upsert(ctx, "code", Payload{"grantId": "g"}, time.Hour); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p, _ := s.Find(ctx, "code")
	if p.Consumed() {
		t.Fatal("fresh artifact should not be consumed")
	}

	if err := s.Consume(ctx, "code"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	p, ok := s.Find(ctx, "code")
	if !ok || !p.Consumed() {
		t.Fatalf("expected consumed marker, got %v (ok=%v)", p, ok)
	}
	if p.String("grantId") != "g" {
		t.Fatalf("consume must not disturb payload, got %v", p)
	}

	// An overwrite without the marker resets it.
	if err := s.Upsert(ctx, "code", Payload{"grantId": "g"}, time.Hour); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if p, _ := s.Find(ctx, "code"); p.Consumed() {
		t.Fatal("overwrite should clear consumed marker")
	}
}

func TestStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestBackend(t))
	s := reg.For(KindSignInCode)

	if err := s.ConsumeOnce(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ConsumeOnce(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Upsert(ctx, "a@b.com", Payload{"signInCode": "ABC-DEF-GHJ"}, time.Hour); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.ConsumeOnce(ctx, "a@b.com"); err != nil {
		t.Fatalf("first ConsumeOnce: %v", err)
	}
	if err := s.ConsumeOnce(ctx, "a@b.com"); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("second ConsumeOnce error = %v, want ErrAlreadyConsumed", err)
	}
	if p, ok := s.Find(ctx, "a@b.com"); !ok || !p.Consumed() {
		t.Fatalf("expected consumed marker, got %v (ok=%v)", p, ok)
	}
}

func TestStore_RevokeByGrantID(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestBackend(t))

	kinds := []Kind{KindAccessToken, KindRefreshToken, KindAuthorizationCode, KindDeviceCode}
	var written []struct {
		kind Kind
		id   string
	}
	// More than two pages worth.
	for i := 0; i < 60; i++ {
		kind := kinds[i%len(kinds)]
		id := fmt.Sprintf("tok-%02d", i)
		payload := Payload{"grantId": "grant-1", "uid": "uid-" + id, "userCode": "UC" + id}
		if err := reg.For(kind).Upsert(ctx, id, payload, time.Hour); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		written = append(written, struct {
			kind Kind
			id   string
		}{kind, id})
	}
	if err := reg.For(KindAccessToken).Upsert(ctx, "other", Payload{"grantId": "grant-2"}, time.Hour); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := reg.For(KindGrant).RevokeByGrantID(ctx, "grant-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	for _, w := range written {
		s := reg.For(w.kind)
		if _, ok := s.Find(ctx, w.id); ok {
			t.Fatalf("%s %s still findable by id", w.kind, w.id)
		}
		if _, ok := s.FindByUID(ctx, "uid-"+w.id); ok {
			t.Fatalf("%s %s still findable by uid", w.kind, w.id)
		}
		if _, ok := s.FindByUserCode(ctx, "UC"+w.id); ok {
			t.Fatalf("%s %s still findable by userCode", w.kind, w.id)
		}
	}
	if _, ok := reg.For(KindAccessToken).Find(ctx, "other"); !ok {
		t.Fatal("artifact of another grant should survive")
	}

	if err := reg.For(KindGrant).RevokeByGrantID(ctx, "grant-1"); err != nil {
		t.Fatalf("second revoke should be a no-op, got %v", err)
	}
}

func TestStore_SessionRequiresAccount(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestBackend(t))
	sessions := reg.For(KindSession)
	accounts := reg.For(KindAccount)

	if err := accounts.Upsert(ctx, "acct-1", Payload{"accountId": "acct-1"}, 0); err != nil {
		t.Fatalf("upsert account: %v", err)
	}
	if err := sessions.Upsert(ctx, "sess-1", Payload{"accountId": "acct-1"}, time.Hour); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	if err := sessions.Upsert(ctx, "sess-anon", Payload{"uid": "x"}, time.Hour); err != nil {
		t.Fatalf("upsert session: %v", err)
	}

	if _, ok := sessions.Find(ctx, "sess-1"); !ok {
		t.Fatal("session with live account should be found")
	}
	if _, ok := sessions.Find(ctx, "sess-anon"); ok {
		t.Fatal("session without account should be absent")
	}

	if err := accounts.Destroy(ctx, "acct-1"); err != nil {
		t.Fatalf("destroy account: %v", err)
	}
	if _, ok := sessions.Find(ctx, "sess-1"); ok {
		t.Fatal("session of destroyed account should be absent")
	}
	if _, ok := sessions.FindByUID(ctx, "x"); ok {
		t.Fatal("session lookups by uid apply the same rule")
	}
}

func TestStore_ReadRetry(t *testing.T) {
	ctx := context.Background()
	base := newTestBackend(t)
	if err := NewRegistry(base).For(KindGrant).Upsert(ctx, "g", Payload{"accountId": "a"}, 0); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	tests := []struct {
		name      string
		failGets  int
		id        string
		wantFound bool
		wantCalls int
	}{
		{name: "recovers after transient failures", failGets: 2, id: "g", wantFound: true, wantCalls: 3},
		{name: "gives up after max attempts", failGets: 10, id: "g", wantFound: false, wantCalls: DefaultMaxAttempts},
		{name: "not found is not retried", failGets: 0, id: "missing", wantFound: false, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flaky := &flakyBackend{Backend: base, failGets: tt.failGets}
			reg := NewRegistry(WithReadRetry(flaky, WithInitialInterval(time.Millisecond)))

			_, ok := reg.For(KindGrant).Find(ctx, tt.id)
			if ok != tt.wantFound {
				t.Fatalf("Find() found = %v, want %v", ok, tt.wantFound)
			}
			if got := flaky.calls(); got != tt.wantCalls {
				t.Fatalf("backend calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestStore_ReadRetryOnIndex(t *testing.T) {
	ctx := context.Background()
	base := newTestBackend(t)
	if err := NewRegistry(base).For(KindAccount).Upsert(ctx, "a", Payload{"uid": "a@b.com"}, 0); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	flaky := &flakyBackend{Backend: base, failGets: 1}
	reg := NewRegistry(WithReadRetry(flaky, WithInitialInterval(time.Millisecond), WithMaxAttempts(2)))
	if _, ok := reg.For(KindAccount).FindByUID(ctx, "a@b.com"); !ok {
		t.Fatal("expected index lookup to succeed on retry")
	}
}

func TestStore_WritesAreNotSwallowed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg := NewRegistry(newTestBackend(t))

	if err := reg.For(KindGrant).Upsert(ctx, "g", Payload{}, 0); err == nil {
		t.Fatal("expected upsert on cancelled context to fail")
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := ParseKind("Session"); !ok || k != KindSession {
		t.Fatalf("ParseKind(Session) = %q, %v", k, ok)
	}
	if _, ok := ParseKind("session"); ok {
		t.Fatal("kind names are case-sensitive")
	}
}
