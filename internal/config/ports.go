// Package config provides configuration management for tradecore.
// This file centralizes all port constants to avoid duplication and ensure consistency.
package config

// ============================================================================
// CENTRALIZED PORT CONFIGURATION
// ============================================================================
//
// This file defines default ports for tradecore's ambient services.
// Update this file when adding new services or changing port assignments.
//
// Port Allocation Strategy:
//   8080-8099: API and web services
//   8200-8299: Infrastructure services (Vault, etc.)
//   9100-9199: Prometheus metrics endpoints
//
// ============================================================================

// API and Web Service Ports
const (
	// APIServerPort is the default port for the metrics/health HTTP server.
	APIServerPort = 8080
)

// Infrastructure Service Ports
const (
	// VaultPort is the default port for HashiCorp Vault.
	VaultPort = 8200

	// PostgresPort is the default port for PostgreSQL.
	PostgresPort = 5432

	// RedisPort is the default port for Redis.
	RedisPort = 6379
)

// Monitoring Service Ports
const (
	// PrometheusPort is the default port for Prometheus.
	PrometheusPort = 9090

	// GrafanaPort is the default port for Grafana.
	GrafanaPort = 3000
)
