// Package handler provides the HTTP admin endpoints:
//
//   - health.go: liveness and readiness checks
//   - device.go: device and handle inspection
//
// Handlers parse the request, call the device service and reply with the
// JSON envelope in types.go. Service errors map to HTTP status codes by
// their domain error code.
package handler
