// Package metrics exposes Prometheus counters for the store and the login flow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Read outcomes reported by the artifact store.
const (
	ReadHit     = "hit"
	ReadMiss    = "miss"
	ReadExpired = "expired"
	ReadError   = "error"
	ReadOrphan  = "orphaned_session"
)

// Recorder is what the store, the code service and the orchestrator report to.
type Recorder interface {
	RecordStoreRead(kind, outcome string)
	RecordStoreRetry(kind string)
	RecordRevoked(count int)
	RecordSwept(count int64)
	RecordCodeIssued(reused bool)
	RecordLogin(method, outcome string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordStoreRead(string, string) {}
func (Nop) RecordStoreRetry(string)        {}
func (Nop) RecordRevoked(int)              {}
func (Nop) RecordSwept(int64)              {}
func (Nop) RecordCodeIssued(bool)          {}
func (Nop) RecordLogin(string, string)     {}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	storeReads   *prometheus.CounterVec
	storeRetries *prometheus.CounterVec
	revoked      prometheus.Counter
	swept        prometheus.Counter
	codesIssued  *prometheus.CounterVec
	logins       *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		storeReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bubblyauth_store_reads_total",
			Help: "Artifact store reads by kind and outcome",
		}, []string{"kind", "outcome"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bubblyauth_store_read_retries_total",
			Help: "Artifact store read attempts that were retried",
		}, []string{"kind"}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bubblyauth_artifacts_revoked_total",
			Help: "Artifacts deleted by grant revocation",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bubblyauth_artifacts_swept_total",
			Help: "Expired artifacts removed by the background sweep",
		}),
		codesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bubblyauth_signin_codes_issued_total",
			Help: "Sign-in codes handed out, split by whether an existing code was reused",
		}, []string{"reused"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bubblyauth_logins_total",
			Help: "Login attempts by method and outcome",
		}, []string{"method", "outcome"}),
	}

	reg.MustRegister(
		c.storeReads,
		c.storeRetries,
		c.revoked,
		c.swept,
		c.codesIssued,
		c.logins,
	)
	return c
}

func (c *Collector) RecordStoreRead(kind, outcome string) {
	c.storeReads.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) RecordStoreRetry(kind string) {
	c.storeRetries.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordRevoked(count int) {
	c.revoked.Add(float64(count))
}

func (c *Collector) RecordSwept(count int64) {
	c.swept.Add(float64(count))
}

func (c *Collector) RecordCodeIssued(reused bool) {
	label := "false"
	if reused {
		label = "true"
	}
	c.codesIssued.WithLabelValues(label).Inc()
}

func (c *Collector) RecordLogin(method, outcome string) {
	c.logins.WithLabelValues(method, outcome).Inc()
}

// Handler serves the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
