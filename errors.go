// Package gemmbed structured error types for harness failures
package gemmbed

import (
	"errors"
	"fmt"
)

// ErrorType represents categories of harness errors
type ErrorType int

const (
	// Allocation or copy errors
	ErrTypeMemory ErrorType = iota
	// Invalid argument errors
	ErrTypeInvalidArg
	// Kernel or compressor execution errors
	ErrTypeExecution
	// Device synchronization errors
	ErrTypeSync
	// Not implemented errors
	ErrTypeNotImplemented
)

// HarnessError represents a structured error with context
type HarnessError struct {
	Type    ErrorType
	Op      string // Operation that failed
	Message string // Human-readable message
	Err     error  // Underlying error if any
}

// Error implements the error interface
func (e *HarnessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gemmbed %s error in %s: %s (caused by: %v)",
			e.Type.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("gemmbed %s error in %s: %s",
		e.Type.String(), e.Op, e.Message)
}

// Unwrap allows error chain inspection
func (e *HarnessError) Unwrap() error {
	return e.Err
}

// String returns the error type as a string
func (t ErrorType) String() string {
	switch t {
	case ErrTypeMemory:
		return "Memory"
	case ErrTypeInvalidArg:
		return "InvalidArgument"
	case ErrTypeExecution:
		return "Execution"
	case ErrTypeSync:
		return "Synchronization"
	case ErrTypeNotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}

// NewMemoryError creates an allocation or copy error
func NewMemoryError(op string, message string, err error) error {
	return &HarnessError{Type: ErrTypeMemory, Op: op, Message: message, Err: err}
}

// NewInvalidArgError creates an invalid argument error
func NewInvalidArgError(op string, message string) error {
	return &HarnessError{Type: ErrTypeInvalidArg, Op: op, Message: message}
}

// NewExecutionError creates a kernel execution error
func NewExecutionError(op string, message string, err error) error {
	return &HarnessError{Type: ErrTypeExecution, Op: op, Message: message, Err: err}
}

// NewSyncError creates a device synchronization error
func NewSyncError(op string, message string, err error) error {
	return &HarnessError{Type: ErrTypeSync, Op: op, Message: message, Err: err}
}

// NewNotImplementedError creates a not-implemented error
func NewNotImplementedError(op string, message string) error {
	return &HarnessError{Type: ErrTypeNotImplemented, Op: op, Message: message}
}

// IsErrorType checks whether err is a HarnessError of the given type
func IsErrorType(err error, t ErrorType) bool {
	var he *HarnessError
	if errors.As(err, &he) {
		return he.Type == t
	}
	return false
}
