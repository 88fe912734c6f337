// Package config provides configuration management for lmserver.
//
// Configuration is read from an optional YAML file, completed with defaults,
// overridden from LMSERVER_* environment variables and validated:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("lmserver.yaml")
//
// An empty path skips the file, so a bare environment is a valid
// configuration.
//
// # Environment Variable Overrides
//
// Variables follow the naming convention LMSERVER_SECTION_FIELD:
//
//   - LMSERVER_SERVER_PORT overrides server.port
//   - LMSERVER_CATALOG_REMOTE_TOKEN overrides catalog.remote.token
//   - LMSERVER_ENDPOINTS_SONNET_API_KEY overrides api_key of the static endpoint named "sonnet"
//
// # Hot Reload
//
// FileWatcher reloads the file on change and hands the new Config to a
// callback. The server uses it to swap the static catalog and selection
// rules; the listener address and nonce are never reloaded.
//
// # Validation
//
// Validate collects every failure into a ValidationError:
//
//	configuration validation failed with 2 errors:
//	  - catalog.endpoints[0].base_url: url is required
//	  - ledger.retention.schedule: invalid cron schedule "weekly": ...
//
// # Example Configuration
//
// The endpoint key is supplied as LMSERVER_ENDPOINTS_SONNET_API_KEY.
//
//	server:
//	  port: 0
//	catalog:
//	  source: static
//	  endpoints:
//	    - name: sonnet
//	      model: claude-sonnet-4
//	      base_url: https://api.anthropic.com
//	ledger:
//	  enabled: true
//	  backend: sqlite
//	telemetry:
//	  logging:
//	    level: info
package config
