// Package logging provides the structured logger used across owfs-core.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version fields. Components receive a child logger tagged with
// their name:
//
//	logger := logging.New(cfg.Logging, version)
//	svcLog := logger.With("component", "service")
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log the MQTT password or the InfluxDB token.
package logging
