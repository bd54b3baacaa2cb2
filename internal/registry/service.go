package registry

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/mstrukov/pylon/internal/config"
)

// Status represents the health status of a service.
type Status int32

const (
	// StatusUnknown indicates the service has not been probed yet.
	StatusUnknown Status = iota
	// StatusHealthy indicates the last probe succeeded.
	StatusHealthy
	// StatusUnhealthy indicates the last probe failed.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Service describes one registered upstream. Identity fields are immutable
// after construction; status and lastCheck are written by the health
// checker and read concurrently by the request path.
type Service struct {
	Name       string
	BaseURL    string
	Prefix     string
	Timeout    time.Duration
	Retries    int
	HealthPath string

	status    atomic.Int32
	lastCheck atomic.Int64
}

// NewService creates a service descriptor from configuration. Status starts
// as unknown until the first probe completes.
func NewService(cfg config.ServiceConfig) *Service {
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}
	s := &Service{
		Name:       cfg.Name,
		BaseURL:    strings.TrimSuffix(cfg.URL, "/"),
		Prefix:     cfg.Prefix,
		Timeout:    cfg.Timeout.Duration(),
		Retries:    cfg.Retries,
		HealthPath: healthPath,
	}
	s.status.Store(int32(StatusUnknown))
	return s
}

// Status returns the current health status.
func (s *Service) Status() Status {
	return Status(s.status.Load())
}

// SetStatus sets the health status.
func (s *Service) SetStatus(status Status) {
	s.status.Store(int32(status))
}

// LastCheck returns the time of the most recent probe, or the zero time if
// the service has never been probed.
func (s *Service) LastCheck() time.Time {
	n := s.lastCheck.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SetLastCheck records the time of a probe.
func (s *Service) SetLastCheck(t time.Time) {
	s.lastCheck.Store(t.UnixNano())
}

// HealthURL returns the absolute URL probed by the health checker.
func (s *Service) HealthURL() string {
	return s.BaseURL + s.HealthPath
}

// adopt carries health state over from a previous descriptor for the same
// service so that re-registration does not flap routing.
func (s *Service) adopt(prev *Service) {
	s.status.Store(prev.status.Load())
	s.lastCheck.Store(prev.lastCheck.Load())
}
