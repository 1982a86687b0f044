// Package logging provides structured logging for UnitKey Core.
//
// It wraps log/slog with service-wide default attributes and configuration
// driven level/format selection. Components receive a *Logger (usually
// narrowed with With("component", ...)) rather than constructing their own.
package logging
