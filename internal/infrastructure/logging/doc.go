// Package logging provides structured logging for the hub.
//
// It wraps log/slog with configuration-driven level filtering, output format
// selection (JSON or text), and default service/version fields.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("server started", "port", 5000)
//
//	wsLog := log.With("component", "websocket")
//	wsLog.Debug("client connected")
//
// Before configuration is available, use logging.Default().
package logging
