// Package health runs the periodic provider health monitor.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
)

// StorePinger lets the monitor probe the document store alongside the
// data providers. It appears in reports as the "store" pseudo-provider.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes each provider on a fixed tick and keeps per-provider
// metrics. Adapter call sites also feed it through RecordSuccess and
// RecordFailure so state reflects real traffic between probes.
type Monitor struct {
	mu      sync.Mutex
	metrics map[string]*models.HealthMetrics

	tick             time.Duration
	failureThreshold int
	responseTimeMax  time.Duration

	router interfaces.SourceRouter
	store  StorePinger
	logger *common.Logger
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor from config. Router and store may be nil in
// tests; Run then probes nothing but records still work.
func NewMonitor(cfg common.HealthMonitorConfig, router interfaces.SourceRouter, store StorePinger, logger *common.Logger) *Monitor {
	tick := time.Duration(cfg.TickSeconds) * time.Second
	if tick <= 0 {
		tick = 5 * time.Minute
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	rtMax := time.Duration(cfg.ResponseTimeThresholdSeconds) * time.Second
	if rtMax <= 0 {
		rtMax = 30 * time.Second
	}

	return &Monitor{
		metrics:          make(map[string]*models.HealthMetrics),
		tick:             tick,
		failureThreshold: threshold,
		responseTimeMax:  rtMax,
		router:           router,
		store:            store,
		logger:           logger,
		done:             make(chan struct{}),
	}
}

// Start launches the probe loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()

		m.probeAll()
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				m.probeAll()
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.wg.Wait()
}

// probeAll issues one lightweight probe per provider plus the store ping.
func (m *Monitor) probeAll() {
	if m.router != nil {
		for _, p := range m.router.Providers() {
			m.probeProvider(p)
		}
	}
	if m.store != nil {
		m.probeStore()
	}
}

func (m *Monitor) probeProvider(p interfaces.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), m.responseTimeMax)
	defer cancel()

	start := time.Now()
	_, err := p.LatestTradeDate(ctx)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		m.RecordFailure(p.Name(), err)
		m.logger.Warn().Str("provider", p.Name()).Err(err).Msg("[WARN] Provider probe failed")
	case elapsed > m.responseTimeMax:
		m.RecordFailure(p.Name(), fmt.Errorf("probe exceeded %s (%s)", m.responseTimeMax, elapsed))
	default:
		m.RecordSuccess(p.Name(), elapsed)
	}
}

func (m *Monitor) probeStore() {
	ctx, cancel := context.WithTimeout(context.Background(), m.responseTimeMax)
	defer cancel()

	start := time.Now()
	err := m.store.Ping(ctx)
	if err != nil {
		m.RecordFailure("store", err)
		m.logger.Warn().Err(err).Msg("[WARN] Store probe failed")
		return
	}
	m.RecordSuccess("store", time.Since(start))
}

// RecordSuccess resets the failure streak and updates the rolling average
// response time.
func (m *Monitor) RecordSuccess(provider string, elapsed time.Duration) {
	// A slow success still counts as a failure against the provider.
	if elapsed > m.responseTimeMax {
		m.RecordFailure(provider, fmt.Errorf("response time %s exceeded %s", elapsed, m.responseTimeMax))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.get(provider)
	now := time.Now().UTC()
	h.SuccessCount++
	h.ConsecutiveFailures = 0
	h.LastSuccess = &now

	ms := float64(elapsed.Milliseconds())
	if h.AvgResponseTimeMS == 0 {
		h.AvgResponseTimeMS = ms
	} else {
		h.AvgResponseTimeMS = (h.AvgResponseTimeMS + ms) / 2
	}

	if h.FailureCount > 0 {
		h.Status = models.HealthDegraded
	} else {
		h.Status = models.HealthHealthy
	}
}

// RecordFailure bumps the failure streak and degrades the provider; at the
// threshold the provider becomes unavailable.
func (m *Monitor) RecordFailure(provider string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.get(provider)
	now := time.Now().UTC()
	h.FailureCount++
	h.ConsecutiveFailures++
	h.LastFailure = &now

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	h.RecentErrors = append(h.RecentErrors, msg)
	if len(h.RecentErrors) > 10 {
		h.RecentErrors = h.RecentErrors[len(h.RecentErrors)-10:]
	}

	if h.ConsecutiveFailures >= m.failureThreshold {
		h.Status = models.HealthUnavailable
	} else {
		h.Status = models.HealthDegraded
	}
}

// Status returns the current health state for a provider.
func (m *Monitor) Status(provider string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.metrics[provider]
	if !ok {
		return models.HealthUnknown
	}
	return h.Status
}

// Unhealthy returns the providers currently marked unavailable.
func (m *Monitor) Unhealthy() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for name, h := range m.metrics {
		if h.Status == models.HealthUnavailable {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Report returns a copy of every provider's metrics, sorted by name.
func (m *Monitor) Report() []*models.HealthMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.HealthMetrics, 0, len(m.metrics))
	for _, h := range m.metrics {
		cp := *h
		cp.RecentErrors = append([]string(nil), h.RecentErrors...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// get returns the live metrics entry for provider, creating it if needed.
// Caller must hold the lock.
func (m *Monitor) get(provider string) *models.HealthMetrics {
	h, ok := m.metrics[provider]
	if !ok {
		h = &models.HealthMetrics{Provider: provider, Status: models.HealthUnknown}
		m.metrics[provider] = h
	}
	return h
}

// Compile-time check
var _ interfaces.HealthMonitor = (*Monitor)(nil)
