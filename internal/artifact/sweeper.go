package artifact

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically deletes rows whose expiresAt has passed. Readers still
// check expiry themselves since a sweep can lag by up to one interval.
type Sweeper struct {
	registry *Registry
	interval time.Duration
}

// NewSweeper creates a sweeper over the registry's backend.
func NewSweeper(registry *Registry, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{registry: registry, interval: interval}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					log.Printf("[Sweeper] ❌ sweep failed: %v", err)
				}
			}
		}
	}()
	log.Printf("🔄 Artifact expiry sweep started (interval: %s)", s.interval)
}

// SweepOnce deletes everything expired as of now and returns the count.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.registry.backend.DeleteExpired(ctx, s.registry.now().Unix())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.registry.metrics.RecordSwept(n)
		log.Printf("[Sweeper] removed %d expired artifacts", n)
	}
	return n, nil
}
