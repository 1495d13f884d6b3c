// Package config handles configuration loading for coven-bridge.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file, chosen by extension
// (.toml is TOML, anything else YAML), with environment variable expansion.
// Defaults are applied before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path given with --config
//  2. Path from COVEN_BRIDGE_CONFIG environment variable
//  3. ~/.config/coven/bridge.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	homeserver:
//	  url: "${COVEN_BRIDGE_HOMESERVER}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	cache:
//	  profile_ttl: "5m"
//
// # Example
//
//	homeserver:
//	  url: "https://matrix.example.org"
//	  domain: "example.org"
//	appservice:
//	  registration: "./registration.yaml"
//	  port: 29340
//	database:
//	  path: "./coven-bridge.db"
//	upgrade:
//	  migrate_ghosts: true
//	  migrate_store_entries: true
//	metrics:
//	  enabled: true
//	  address: ":9090"
//	  age_periods: ["1h", "1d", "7d"]
//	logging:
//	  level: "info"
//	  format: "text"
package config
