// Package localserver provides the Unix socket server for local management.
//
// It serves the same RESP command set as the TCP front end, plus commands
// that only make sense to an operator on the host:
//
//   - INFO: build information, uptime and device totals
//   - SHUTDOWN: graceful server shutdown
//
// Access is controlled by file system permissions on the socket, which is
// created with mode 0600. No rate limit applies.
package localserver
