// Package config handles configuration loading for hexlayer-console.
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
//	  jwt_secret: "${HEXLAYER_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "720h"
//	chain:
//	  request_timeout: "15s"
//	  rate_window: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API and web console
//
// Database:
//
//	database:
//	  path: "/var/lib/hexlayer/console.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${HEXLAYER_JWT_SECRET}"  # Required
//	  token_ttl: "720h"                     # Default 30 days, max 1 year
//	  session_ttl: "24h"
//
// Chain read proxy:
//
//	chain:
//	  enabled: true
//	  upstream_url: "https://eth-mainnet.example/v2/key"
//	  redis_addr: ""          # Empty uses the in-memory window
//	  max_requests: 120       # Per org per window
//	  rate_window: "1m"
//	  request_timeout: "15s"
//
// Webhooks:
//
//	webhooks:
//	  workers: 4
//	  max_attempts: 3
//	  timeout: "10s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/hexlayer/console.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
