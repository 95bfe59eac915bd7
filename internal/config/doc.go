// Package config handles configuration loading for the hallway server.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${HALLWAY_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # WebSocket, health, and metrics endpoints
//
// Database:
//
//	database:
//	  path: "/var/lib/hallway/hallway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${HALLWAY_JWT_SECRET}"   # Required
//	  token_ttl: "24h"
//
// Redis presence mirror (optional):
//
//	redis:
//	  enabled: false
//	  addr: "localhost:6379"
//	  password: "${HALLWAY_REDIS_PASSWORD}"
//	  db: 0
//
// History replay:
//
//	history:
//	  limit: 50   # messages replayed on room join
//
// Notifications:
//
//	notifications:
//	  enabled: true
//
// Connections:
//
//	connections:
//	  queue_size: 256   # outbound events buffered per connection
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/hallway/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
