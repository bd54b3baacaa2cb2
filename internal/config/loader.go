package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} references.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// escapedDollar is a placeholder used to protect $$ during substitution.
const escapedDollar = "\x00ESCAPED_DOLLAR\x00"

// Load reads, substitutes, and parses the configuration file at path.
// Values absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader parses configuration from r.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	substituted := substituteEnvVars(string(data))
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling yaml: %w", err)
	}
	applyServiceDefaults(cfg)
	return cfg, nil
}

// substituteEnvVars expands ${VAR} and ${VAR:-default} references from the
// environment. A literal dollar is written as $$.
func substituteEnvVars(s string) string {
	s = strings.ReplaceAll(s, "$$", escapedDollar)
	s = envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return groups[2]
	})
	return strings.ReplaceAll(s, escapedDollar, "$")
}

func applyServiceDefaults(cfg *Config) {
	for i := range cfg.Services {
		if cfg.Services[i].HealthPath == "" {
			cfg.Services[i].HealthPath = "/health"
		}
	}
}

// ResolveConfigPath returns the first existing configuration file among the
// conventional locations. An explicit path is returned as-is.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	candidates := []string{
		"pylon.yaml",
		"pylon.yml",
		filepath.Join("configs", "pylon.yaml"),
		filepath.Join("configs", "pylon.yml"),
		"/etc/pylon/pylon.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pylon", "pylon.yaml"))
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no config file found in default locations")
}
