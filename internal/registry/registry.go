package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/observability"
)

// ServiceInfo is a point-in-time view of one registered service.
type ServiceInfo struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	LastCheck time.Time `json:"lastCheck"`
}

// Registry holds the set of registered services. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
	logger   observability.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		services: make(map[string]*Service),
		logger:   logger,
	}
}

// Register adds a service. Registering a name that already exists replaces
// the descriptor; health state is carried over when the base URL is
// unchanged, otherwise the service starts over as unknown.
func (r *Registry) Register(svc *Service) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.services[svc.Name]; exists {
		if prev.BaseURL == svc.BaseURL {
			svc.adopt(prev)
		}
		r.services[svc.Name] = svc
		r.logger.Info("service updated",
			observability.String("service", svc.Name),
			observability.String("url", svc.BaseURL),
		)
		return
	}

	r.services[svc.Name] = svc
	r.logger.Info("service registered",
		observability.String("service", svc.Name),
		observability.String("url", svc.BaseURL),
		observability.String("prefix", svc.Prefix),
	)
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, exists := r.services[name]
	return svc, exists
}

// Address returns the base URL for name only when the service's last
// recorded status is healthy. A false result means no route is available;
// it is not an error to retry.
func (r *Registry) Address(name string) (string, bool) {
	r.mu.RLock()
	svc, exists := r.services[name]
	r.mu.RUnlock()

	if !exists || svc.Status() != StatusHealthy {
		return "", false
	}
	return svc.BaseURL, true
}

// Services returns all registered descriptors sorted by name.
func (r *Registry) Services() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].Name < services[j].Name
	})
	return services
}

// Snapshot returns a point-in-time view of all services sorted by name.
func (r *Registry) Snapshot() []ServiceInfo {
	services := r.Services()
	infos := make([]ServiceInfo, 0, len(services))
	for _, svc := range services {
		infos = append(infos, ServiceInfo{
			Name:      svc.Name,
			Status:    svc.Status().String(),
			LastCheck: svc.LastCheck(),
		})
	}
	return infos
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Apply reconciles the registry against a new service list: new services
// are added, existing ones updated, and services absent from the list are
// removed. It returns the names of removed services.
func (r *Registry) Apply(configs []config.ServiceConfig) []string {
	keep := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		keep[cfg.Name] = true
		r.Register(NewService(cfg))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for name := range r.services {
		if !keep[name] {
			delete(r.services, name)
			removed = append(removed, name)
			r.logger.Info("service removed", observability.String("service", name))
		}
	}
	sort.Strings(removed)
	return removed
}

// DeregisterAll removes every service. Used during shutdown after the
// health checker has stopped.
func (r *Registry) DeregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range r.services {
		delete(r.services, name)
	}
	r.logger.Info("all services deregistered")
}
