// Package logging provides structured logging for patchbay.
//
// It wraps log/slog with the daemon's default fields (service, version) and a
// level taken from configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "auto"     # json, text, auto (text on a terminal)
//	  output: "stdout"   # stdout, stderr, discard
//
// Graph events dropped by the reconciler are logged at debug level, so
// "debug" is the level to use when a canvas disagrees with the server.
//
// Never log secrets: the JWT secret, MQTT password and InfluxDB token all
// pass through configuration.
package logging
