// Package config handles loading and validating patchbay configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PATCHBAY_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("/etc/patchbay/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.JACK.TopicPrefix)
package config
