// Package logging provides structured logging for tuyalink.
//
// It wraps the standard log/slog package so every log entry carries the
// service name and version, with level filtering and JSON or text output
// selected by configuration.
//
// Never log device local keys or other credential material. Log key
// prefixes at most:
//
//	logger.Info("device configured", "id", d.ID, "key_prefix", d.CredentialKey[:4]+"...")
package logging
