package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError describes a single invalid configuration value.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects all validation failures found in a config.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation error(s):", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "\n  %d. %s", i+1, err.Error())
	}
	return sb.String()
}

type validator struct {
	errors ValidationErrors
}

func (v *validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

// Validate checks the configuration and returns all problems found, or nil.
func Validate(cfg *Config) error {
	v := &validator{}
	v.validateServer(cfg.Server)
	v.validateLog(cfg.Log)
	v.validateMetrics(cfg.Metrics)
	v.validateTracing(cfg.Tracing)
	v.validateServices(cfg.Services)
	v.validateRegistry(cfg.Registry)
	v.validateBreaker(cfg.Breaker)
	v.validateCache(cfg.Cache)
	v.validateAuth(cfg.Auth)
	v.validateCORS(cfg.CORS)
	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *validator) validateServer(cfg ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", fmt.Sprintf("must be between 1 and 65535, got %d", cfg.Port))
	}
	if cfg.ReadTimeout < 0 {
		v.addError("server.readTimeout", "must not be negative")
	}
	if cfg.WriteTimeout < 0 {
		v.addError("server.writeTimeout", "must not be negative")
	}
	if cfg.IdleTimeout < 0 {
		v.addError("server.idleTimeout", "must not be negative")
	}
	if cfg.MaxBodyBytes < 0 {
		v.addError("server.maxBodyBytes", "must not be negative")
	}
	if cfg.ShutdownTimeout <= 0 {
		v.addError("server.shutdownTimeout", "must be positive")
	}
}

func (v *validator) validateLog(cfg LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", fmt.Sprintf("must be one of debug, info, warn, error, got %q", cfg.Level))
	}
	switch cfg.Format {
	case "json", "console":
	default:
		v.addError("log.format", fmt.Sprintf("must be json or console, got %q", cfg.Format))
	}
	if cfg.Output == "" {
		v.addError("log.output", "is required")
	}
}

func (v *validator) validateMetrics(cfg MetricsConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("metrics.port", fmt.Sprintf("must be between 1 and 65535, got %d", cfg.Port))
	}
}

func (v *validator) validateTracing(cfg TracingConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Endpoint == "" {
		v.addError("tracing.endpoint", "is required when tracing is enabled")
	}
	if cfg.ServiceName == "" {
		v.addError("tracing.serviceName", "is required when tracing is enabled")
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		v.addError("tracing.sampleRatio", fmt.Sprintf("must be between 0 and 1, got %g", cfg.SampleRatio))
	}
}

func (v *validator) validateServices(services []ServiceConfig) {
	names := make(map[string]bool, len(services))
	prefixes := make(map[string]bool, len(services))
	for i, svc := range services {
		path := fmt.Sprintf("services[%d]", i)
		if svc.Name == "" {
			v.addError(path+".name", "is required")
		} else if names[svc.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate service name %q", svc.Name))
		}
		names[svc.Name] = true

		if svc.URL == "" {
			v.addError(path+".url", "is required")
		} else if u, err := url.Parse(svc.URL); err != nil {
			v.addError(path+".url", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			v.addError(path+".url", fmt.Sprintf("scheme must be http or https, got %q", u.Scheme))
		} else if u.Host == "" {
			v.addError(path+".url", "host is required")
		}

		if svc.Prefix == "" {
			v.addError(path+".prefix", "is required")
		} else if !strings.HasPrefix(svc.Prefix, "/") {
			v.addError(path+".prefix", fmt.Sprintf("must start with /, got %q", svc.Prefix))
		} else if prefixes[svc.Prefix] {
			v.addError(path+".prefix", fmt.Sprintf("duplicate prefix %q", svc.Prefix))
		}
		prefixes[svc.Prefix] = true

		if svc.Timeout < 0 {
			v.addError(path+".timeout", "must not be negative")
		}
		if svc.Retries < 0 {
			v.addError(path+".retries", "must not be negative")
		}
		if svc.HealthPath != "" && !strings.HasPrefix(svc.HealthPath, "/") {
			v.addError(path+".healthPath", fmt.Sprintf("must start with /, got %q", svc.HealthPath))
		}
	}
}

func (v *validator) validateRegistry(cfg RegistryConfig) {
	if cfg.CheckInterval <= 0 {
		v.addError("registry.checkInterval", "must be positive")
	}
	if cfg.ProbeTimeout <= 0 {
		v.addError("registry.probeTimeout", "must be positive")
	}
	if cfg.CheckInterval > 0 && cfg.ProbeTimeout > cfg.CheckInterval {
		v.addError("registry.probeTimeout", "must not exceed registry.checkInterval")
	}
}

func (v *validator) validateBreaker(cfg BreakerConfig) {
	if cfg.FailureThreshold < 1 {
		v.addError("breaker.failureThreshold", fmt.Sprintf("must be at least 1, got %d", cfg.FailureThreshold))
	}
	if cfg.ResetTimeout <= 0 {
		v.addError("breaker.resetTimeout", "must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		v.addError("breaker.requestTimeout", "must be positive")
	}
}

func (v *validator) validateCache(cfg CacheConfig) {
	switch cfg.Type {
	case CacheTypeDisabled:
		return
	case CacheTypeMemory:
		if cfg.MaxKeys < 1 {
			v.addError("cache.maxKeys", fmt.Sprintf("must be at least 1, got %d", cfg.MaxKeys))
		}
	case CacheTypeRedis:
		if cfg.Redis.URL == "" {
			v.addError("cache.redis.url", "is required for the redis backend")
		}
		if cfg.Redis.TTLJitter < 0 || cfg.Redis.TTLJitter > 1 {
			v.addError("cache.redis.ttlJitter", fmt.Sprintf("must be between 0 and 1, got %g", cfg.Redis.TTLJitter))
		}
	default:
		v.addError("cache.type", fmt.Sprintf("must be one of memory, redis, disabled, got %q", cfg.Type))
	}
	if cfg.TTL <= 0 {
		v.addError("cache.ttl", "must be positive")
	}
}

func (v *validator) validateAuth(cfg AuthConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Secret == "" {
		v.addError("auth.secret", "is required when auth is enabled")
	} else if len(cfg.Secret) < 16 {
		v.addError("auth.secret", "must be at least 16 characters")
	}
	for i, p := range cfg.PublicPaths {
		if !strings.HasPrefix(p, "/") {
			v.addError(fmt.Sprintf("auth.publicPaths[%d]", i), fmt.Sprintf("must start with /, got %q", p))
		}
	}
	if cfg.Leeway < 0 {
		v.addError("auth.leeway", "must not be negative")
	}
}

func (v *validator) validateCORS(cfg CORSConfig) {
	if !cfg.Enabled {
		return
	}
	if len(cfg.AllowOrigins) == 0 {
		v.addError("cors.allowOrigins", "is required when cors is enabled")
	}
	if cfg.MaxAge < 0 {
		v.addError("cors.maxAge", "must not be negative")
	}
}
