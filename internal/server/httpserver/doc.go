// Package httpserver provides the HTTP admin server.
//
// Endpoints:
//
//   - Health: /health, /ready
//   - Metrics: /metrics (Prometheus text format)
//   - Devices: /devices, /devices/{id}, /devices/{id}/checksum
//   - Handles and totals: /handles, /stats
//
// Every request passes through RequestID, AccessLog and Recover. The admin
// API is read-only; device I/O goes through the RESP front end.
package httpserver
