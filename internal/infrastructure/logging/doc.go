// Package logging provides structured logging for FleetWatch Core.
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
//   - Size-based file rotation via lumberjack
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/fleetwatch/core.log"
//	    max_size: 100    # megabytes
//	    max_backups: 5
//	    max_age: 30      # days
//	    compress: true
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("starting service", "port", 8080)
//
// # Security
//
// Device logs carry captured activity. Log fragment sizes and counts,
// never fragment contents.
package logging
