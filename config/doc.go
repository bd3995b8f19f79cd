// Package config provides configuration loading and validation for schemactl.
//
// The package handles YAML configuration files, environment variables, and CLI flags
// with automatic merging and validation using go-playground/validator.
//
// # Configuration Precedence
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (SCHEMACTL_ prefix)
//  4. CLI flags
//
// # Usage
//
//	cfg, err := config.Load([]string{"config.yaml"}, cmd.Flags())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store in context for subcommands
//	ctx = config.WithContext(ctx, cfg)
//
//	// Retrieve later
//	cfg, err = config.FromContext(ctx)
//
// # Environment Variables
//
// All config keys map to environment variables with SCHEMACTL_ prefix:
//   - database.type → SCHEMACTL_DATABASE_TYPE
//   - database.database → SCHEMACTL_DATABASE_DATABASE
//   - log.level → SCHEMACTL_LOG_LEVEL
//
// # Validation
//
// Configuration is validated using struct tags:
//   - Database type is required (the driver itself rejects unknown names)
//   - Port must be 0-65535
//   - Log level must be debug, info, warn, or error
package config
