// Package config provides configuration loading and validation for the collector.
// It handles YAML-based configuration overlaid on built-in defaults, with
// per-section validation for the listener, the coordinator, the HTTP monitor and logging.
package config
