// Package logger provides structured logging for the device server.
//
//   - logger.go: slog handler setup and the shared level
//   - context.go: request and connection IDs carried through a context
//   - elide.go: shortening of device payloads before they reach the log
//
// Output is JSON by default, text with Format "text". The level can be
// changed at runtime with SetLevel; every logger created by New follows it.
package logger
