// Package config handles loading and validating Pulse Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret has no default and must be supplied
//
// Scheduler tuning lives under the "scheduler" key:
//
//	scheduler:
//	  rate_limit:
//	    max_commands: 3
//	    window_ms: 30000
//	  pulse_cadence_ms: 1000
//	  cooldown_ms: 500
//	  call_timeout_ms: 2000
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	window := cfg.Scheduler.RateLimitWindow()
package config
