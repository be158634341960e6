// Package service provides the device service.
//
// DeviceService sits between the front ends (RESP, local socket, HTTP) and
// the device table. It keeps the table of open handles, keyed by handle ID
// and tagged with the connection that opened them, so a dropped connection
// can release everything it held. It also records operation metrics.
//
// The service is safe for concurrent use. Per-device serialization is done
// by the devices themselves.
package service
