// Package logger provides structured logging for bulwark using zerolog.
//
// It supports JSON and console output, log level configuration, and
// component-scoped loggers with structured fields. Library types accept an
// optional *Logger; when none is given they log through the global logger
// tagged with their component name.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.WithComponent("bulkhead")
//	log.Info("bulkhead created", logger.Fields("bulkhead", "orders"))
package logger
