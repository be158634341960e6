// Package domain defines the core domain models for memdev.
package domain

import (
	"errors"
	"fmt"
)

// DomainError is an error carrying a stable code, so that transports can render
// it the same way regardless of where in the stack it was produced.
type DomainError struct {
	Code    string // Error code (e.g., "MD-DEV-4160")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Device Errors (DEV)
// ============================================================================

var (
	// ErrOutOfMemory indicates the device buffer could not be grown.
	// The buffer is left exactly as it was.
	ErrOutOfMemory = NewDomainError("MD-DEV-5070", "out of memory")

	// ErrOutOfBounds indicates a write would run past the end of the buffer.
	// Nothing was written.
	ErrOutOfBounds = NewDomainError("MD-DEV-4160", "write out of bounds")

	// ErrNotSupported indicates an unknown control command.
	ErrNotSupported = NewDomainError("MD-DEV-4050", "command not supported")

	// ErrDeviceNotFound indicates no device exists with the given id or name.
	ErrDeviceNotFound = NewDomainError("MD-DEV-4040", "device not found")
)

// ============================================================================
// Handle Errors (HDL)
// ============================================================================

var (
	// ErrHandleNotFound indicates the handle id is unknown to the host.
	ErrHandleNotFound = NewDomainError("MD-HDL-4040", "handle not found")

	// ErrHandleClosed indicates an operation on a released handle.
	ErrHandleClosed = NewDomainError("MD-HDL-4100", "handle closed")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument, such as an unknown seek origin.
	ErrInvalidArgument = NewDomainError("MD-ARG-4000", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("MD-ARG-4001", "missing required argument")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrCancelled indicates the caller gave up while waiting for a device lock.
	ErrCancelled = NewDomainError("MD-SYS-4990", "operation cancelled")

	// ErrInit indicates device table construction failed.
	ErrInit = NewDomainError("MD-INIT-5000", "device table initialization failed")

	// ErrRateLimited indicates too many requests from one client.
	ErrRateLimited = NewDomainError("MD-SYS-4290", "too many requests")

	// ErrInternal indicates an unexpected internal failure.
	ErrInternal = NewDomainError("MD-SYS-5000", "internal error")
)

// ============================================================================
// Initialization
// ============================================================================

// InitPhase names the per-device setup step that failed.
type InitPhase string

const (
	// PhaseBuffer is the initial buffer allocation.
	PhaseBuffer InitPhase = "buffer"
	// PhaseNode is the registration of the device's addressable node.
	PhaseNode InitPhase = "node"
	// PhaseBind is the binding of operations to the registered node.
	PhaseBind InitPhase = "bind"
)

// InitError is returned when a device table cannot be built. Index is the
// device that failed and Phase the step it failed in.
type InitError struct {
	Index int
	Phase InitPhase
	Cause error
}

func (e *InitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: device %d, phase %s: %v", ErrInit.Code, ErrInit.Message, e.Index, e.Phase, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: device %d, phase %s", ErrInit.Code, ErrInit.Message, e.Index, e.Phase)
}

func (e *InitError) Unwrap() error {
	return e.Cause
}

// Is reports true for ErrInit so callers can test with errors.Is.
func (e *InitError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == ErrInit.Code
}
