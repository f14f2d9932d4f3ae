// Package config loads and validates the YAML service configuration:
// backend selection, coordination topology, worker-loop tuning, logging
// and metrics exposition.
package config
