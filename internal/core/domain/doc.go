// Package domain defines the core domain models for memdev.
//
// Domain models are pure value objects without any IO dependencies.
// This package contains:
//
//   - Errors: coded domain errors shared by every layer and transport
//   - InitError: the single failure reported by device table construction
//   - Whence and Command: seek origins and device control codes
//   - DeviceInfo and HandleInfo: read-only views of devices and open handles
package domain
