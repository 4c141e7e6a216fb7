// Package logging provides structured logging for the Web-IO bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Debug level logs every line sent to and received from each device.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	sessionLog := logger.Component("session")
//	sessionLog.Info("connected", "device", "garage")
package logging
