// Package config provides configuration management for the gateway.
//
// Configuration is loaded from YAML with environment variable substitution
// (${VAR} and ${VAR:-default}), merged over built-in defaults, and validated
// before use. A filesystem watcher supports hot reload of the configuration
// file with debounced change detection.
package config
