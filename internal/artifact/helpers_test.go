package artifact

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jamesacres/bubblyclouds-auth/internal/db"
	"gorm.io/gorm"
)

func newTestBackend(t *testing.T) *GormBackend {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewGormBackend(gdb)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errUnavailable = errors.New("store unavailable")

// flakyBackend fails the first failGets reads with errUnavailable.
type flakyBackend struct {
	Backend
	mu       sync.Mutex
	failGets int
	gets     int
}

func (f *flakyBackend) Get(ctx context.Context, kind Kind, id string) (*Record, error) {
	if f.fail() {
		return nil, errUnavailable
	}
	return f.Backend.Get(ctx, kind, id)
}

func (f *flakyBackend) QueryIndex(ctx context.Context, kind Kind, index Index, value string) (*Record, error) {
	if f.fail() {
		return nil, errUnavailable
	}
	return f.Backend.QueryIndex(ctx, kind, index, value)
}

func (f *flakyBackend) fail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failGets > 0 {
		f.failGets--
		return true
	}
	return false
}

func (f *flakyBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}
