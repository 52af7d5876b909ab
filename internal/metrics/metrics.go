// Package metrics exposes Prometheus instrumentation and a slow-operation
// ring for the admin surface.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// slowOpThreshold marks an operation slow enough to record.
const slowOpThreshold = time.Second

// slowOpCapacity bounds the in-memory ring.
const slowOpCapacity = 100

// SlowOp is one recorded slow operation.
type SlowOp struct {
	Op        string    `json:"op"`
	Detail    string    `json:"detail,omitempty"`
	Elapsed   float64   `json:"elapsed_seconds"`
	Timestamp time.Time `json:"timestamp"`
}

// Registry holds all collectors on a private Prometheus registry so tests
// can run side by side without duplicate registration panics.
type Registry struct {
	registry *prometheus.Registry

	OpTotal       *prometheus.CounterVec
	OpDuration    *prometheus.HistogramVec
	ProviderCalls *prometheus.CounterVec
	CacheEvents   *prometheus.CounterVec
	LLMTokens     *prometheus.CounterVec
	TasksActive   prometheus.Gauge

	mu      sync.Mutex
	slowOps []SlowOp
	slowIdx int
}

// NewRegistry creates the metric registry with all collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		OpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loong_operations_total",
			Help: "Operations by name and outcome status.",
		}, []string{"op", "status"}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loong_operation_duration_seconds",
			Help:    "Operation latency by name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loong_provider_calls_total",
			Help: "Upstream provider calls by provider and outcome.",
		}, []string{"provider", "status"}),
		CacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loong_cache_events_total",
			Help: "Cache lookups by prefix and result.",
		}, []string{"prefix", "result"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loong_llm_tokens_total",
			Help: "LLM tokens consumed by direction.",
		}, []string{"model", "direction"}),
		TasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loong_analysis_tasks_active",
			Help: "Analysis tasks currently processing.",
		}),
		slowOps: make([]SlowOp, 0, slowOpCapacity),
	}

	reg.MustRegister(r.OpTotal, r.OpDuration, r.ProviderCalls, r.CacheEvents, r.LLMTokens, r.TasksActive)
	return r
}

// Track times fn under op, recording the counter, histogram and the slow
// ring in one place.
func (r *Registry) Track(op, detail string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	r.OpTotal.WithLabelValues(op, status).Inc()
	r.OpDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	if elapsed >= slowOpThreshold {
		r.recordSlowOp(op, detail, elapsed)
	}
	return err
}

func (r *Registry) recordSlowOp(op, detail string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := SlowOp{
		Op:        op,
		Detail:    detail,
		Elapsed:   elapsed.Seconds(),
		Timestamp: time.Now(),
	}
	if len(r.slowOps) < slowOpCapacity {
		r.slowOps = append(r.slowOps, entry)
		return
	}
	r.slowOps[r.slowIdx] = entry
	r.slowIdx = (r.slowIdx + 1) % slowOpCapacity
}

// SlowOps returns the recorded slow operations, newest first.
func (r *Registry) SlowOps() []SlowOp {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SlowOp, 0, len(r.slowOps))
	// The ring fills from slowIdx backwards once full.
	for i := len(r.slowOps) - 1; i >= 0; i-- {
		idx := (r.slowIdx + i) % len(r.slowOps)
		out = append(out, r.slowOps[idx])
	}
	return out
}

// RecordProviderCall counts one upstream call.
func (r *Registry) RecordProviderCall(provider string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.ProviderCalls.WithLabelValues(provider, status).Inc()
}

// RecordCache counts one cache lookup result.
func (r *Registry) RecordCache(prefix string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheEvents.WithLabelValues(prefix, result).Inc()
}

// RecordLLMTokens counts token usage for one generation.
func (r *Registry) RecordLLMTokens(model string, tokensIn, tokensOut int) {
	r.LLMTokens.WithLabelValues(model, "in").Add(float64(tokensIn))
	r.LLMTokens.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
