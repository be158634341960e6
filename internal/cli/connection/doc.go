// Package connection is the memdev-cli client for the RESP command set.
//
// A Client holds one connection to memdev-server, over TCP or the local
// Unix socket. Error replies come back as *ServerError so callers can
// match on the server's error code.
package connection
