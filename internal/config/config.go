package config

import "time"

// Config holds the full gateway configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server" json:"server"`
	Log      LogConfig       `yaml:"log" json:"log"`
	Metrics  MetricsConfig   `yaml:"metrics" json:"metrics"`
	Tracing  TracingConfig   `yaml:"tracing" json:"tracing"`
	Services []ServiceConfig `yaml:"services" json:"services"`
	Registry RegistryConfig  `yaml:"registry" json:"registry"`
	Breaker  BreakerConfig   `yaml:"breaker" json:"breaker"`
	Cache    CacheConfig     `yaml:"cache" json:"cache"`
	Auth     AuthConfig      `yaml:"auth" json:"auth"`
	CORS     CORSConfig      `yaml:"cors" json:"cors"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Address         string   `yaml:"address" json:"address"`
	Port            int      `yaml:"port" json:"port"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout"`
	MaxBodyBytes    int64    `yaml:"maxBodyBytes" json:"maxBodyBytes"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig holds the metrics listener settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Port    int    `yaml:"port" json:"port"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	ServiceName string  `yaml:"serviceName" json:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio" json:"sampleRatio"`
}

// ServiceConfig describes one upstream service.
//
// Timeout bounds the proxied HTTP exchange for this service; zero falls back
// to the breaker's request timeout. Retries is parsed and validated but not
// yet consumed by the forward path; it is reserved for a future retry
// policy. HealthPath defaults to /health.
type ServiceConfig struct {
	Name       string   `yaml:"name" json:"name"`
	URL        string   `yaml:"url" json:"url"`
	Prefix     string   `yaml:"prefix" json:"prefix"`
	Timeout    Duration `yaml:"timeout" json:"timeout"`
	Retries    int      `yaml:"retries" json:"retries"`
	HealthPath string   `yaml:"healthPath" json:"healthPath"`
}

// RegistryConfig holds health-checking settings for the service registry.
type RegistryConfig struct {
	CheckInterval Duration `yaml:"checkInterval" json:"checkInterval"`
	ProbeTimeout  Duration `yaml:"probeTimeout" json:"probeTimeout"`
}

// BreakerConfig holds circuit breaker settings shared by all services.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failureThreshold" json:"failureThreshold"`
	ResetTimeout     Duration `yaml:"resetTimeout" json:"resetTimeout"`
	RequestTimeout   Duration `yaml:"requestTimeout" json:"requestTimeout"`
}

// Cache backend types.
const (
	CacheTypeMemory   = "memory"
	CacheTypeRedis    = "redis"
	CacheTypeDisabled = "disabled"
)

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Type    string      `yaml:"type" json:"type"`
	TTL     Duration    `yaml:"ttl" json:"ttl"`
	MaxKeys int         `yaml:"maxKeys" json:"maxKeys"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig holds settings for the Redis cache backend.
type RedisConfig struct {
	URL       string  `yaml:"url" json:"url"`
	KeyPrefix string  `yaml:"keyPrefix" json:"keyPrefix"`
	TTLJitter float64 `yaml:"ttlJitter" json:"ttlJitter"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Secret      string   `yaml:"secret" json:"-"`
	PublicPaths []string `yaml:"publicPaths" json:"publicPaths"`
	Leeway      Duration `yaml:"leeway" json:"leeway"`
}

// CORSConfig holds CORS settings for browser-facing deployments.
type CORSConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	AllowOrigins []string `yaml:"allowOrigins" json:"allowOrigins"`
	AllowMethods []string `yaml:"allowMethods" json:"allowMethods"`
	AllowHeaders []string `yaml:"allowHeaders" json:"allowHeaders"`
	MaxAge       Duration `yaml:"maxAge" json:"maxAge"`
}

// DefaultConfig returns a configuration populated with defaults. Loaded
// YAML is unmarshaled over it, so absent fields keep these values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         "",
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			MaxBodyBytes:    10 << 20,
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "",
			Port:    9090,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "pylon",
			SampleRatio: 1.0,
		},
		Registry: RegistryConfig{
			CheckInterval: Duration(30 * time.Second),
			ProbeTimeout:  Duration(5 * time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     Duration(30 * time.Second),
			RequestTimeout:   Duration(10 * time.Second),
		},
		Cache: CacheConfig{
			Type:    CacheTypeMemory,
			TTL:     Duration(60 * time.Second),
			MaxKeys: 1000,
		},
		Auth: AuthConfig{
			Enabled: false,
			Leeway:  Duration(30 * time.Second),
		},
		CORS: CORSConfig{
			Enabled:      false,
			AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:       Duration(10 * time.Minute),
		},
	}
}
