// Package config handles loading and validating relay configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and endpoint references
//   - Default value handling
//
// Security Considerations:
//   - Auth tokens should be set via WIOTP_AUTH_TOKEN_<NAME> environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, in := range cfg.Inbound {
//	    fmt.Println(in.Name, in.Command)
//	}
package config
