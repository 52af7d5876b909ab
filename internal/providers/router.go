package providers

import (
	"sort"
	"sync"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
)

// registration pairs an adapter with its config-declared routing attributes.
type registration struct {
	provider interfaces.Provider
	enabled  bool
	priority int
}

// Router resolves the provider order for a request class from configured
// priority, enabled flags and live health state. Registrations are
// hot-swappable under the lock.
type Router struct {
	mu      sync.RWMutex
	entries map[string]*registration
	health  interfaces.HealthMonitor
	logger  *common.Logger
}

// NewRouter creates an empty router. Health may be nil; all providers are
// then treated as healthy.
func NewRouter(health interfaces.HealthMonitor, logger *common.Logger) *Router {
	return &Router{
		entries: make(map[string]*registration),
		health:  health,
		logger:  logger,
	}
}

// SetHealth attaches the health monitor after construction. The monitor
// itself is built against the router, so wiring happens in two steps.
func (r *Router) SetHealth(health interfaces.HealthMonitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = health
}

// Register adds or replaces a provider with its routing attributes.
func (r *Router) Register(p interfaces.Provider, enabled bool, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p.Name()] = &registration{provider: p, enabled: enabled, priority: priority}
}

// Get returns a registered provider by name, enabled or not.
func (r *Router) Get(name string) (interfaces.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return reg.provider, true
}

// Providers returns all enabled providers in priority order.
func (r *Router) Providers() []interfaces.Provider {
	return r.Order("", false)
}

// Order returns enabled providers for the data class, configured priority
// first, with currently unavailable providers pushed to the end. When
// strict is true unavailable providers are omitted entirely. An empty
// dataClass matches every provider.
func (r *Router) Order(dataClass string, strict bool) []interfaces.Provider {
	r.mu.RLock()
	health := r.health
	regs := make([]*registration, 0, len(r.entries))
	for _, reg := range r.entries {
		if !reg.enabled {
			continue
		}
		if dataClass != "" && !servesClass(reg.provider.Type(), dataClass) {
			continue
		}
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].priority < regs[j].priority
	})

	var healthy, unavailable []interfaces.Provider
	for _, reg := range regs {
		if health != nil && health.Status(reg.provider.Name()) == models.HealthUnavailable {
			unavailable = append(unavailable, reg.provider)
			continue
		}
		healthy = append(healthy, reg.provider)
	}

	if strict {
		return healthy
	}
	return append(healthy, unavailable...)
}

// servesClass maps a provider capability class onto a request data class.
// CN-equity providers serve every CN data class; the financial and news
// classes additionally admit providers declared for exactly that purpose.
func servesClass(providerType, dataClass string) bool {
	switch dataClass {
	case "news":
		return providerType == "news" || providerType == "cn-equity"
	case "financial":
		return providerType == "financial" || providerType == "cn-equity"
	case "us-equity", "hk-equity":
		return providerType == dataClass
	default:
		return providerType == "cn-equity" || providerType == "hk-equity" || providerType == "us-equity"
	}
}

// Compile-time check
var _ interfaces.SourceRouter = (*Router)(nil)
