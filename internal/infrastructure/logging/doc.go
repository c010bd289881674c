// Package logging provides structured logging for the relay.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//
//	reg.SetLogger(logger.Component("connpool"))
//
// Components accept any value with Debug, Info, Warn and Error methods, so
// a *Logger (or *slog.Logger) can be handed to them directly.
//
// # Security
//
// Never log auth tokens. Connections are identified in logs by their
// identity digest and client label, neither of which contains the token.
package logging
