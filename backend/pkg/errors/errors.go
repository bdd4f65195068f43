package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeNotFound represents lookups for unknown node/relationship/capture ids
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents duplicate-relationship conflicts
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeValidation represents malformed caller input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeUpstream represents text-generation/embedding capability failures
	ErrorTypeUpstream ErrorType = "upstream"
	// ErrorTypeStorage represents backing-store failures (SQLite, Neo4j)
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Base exposes the embedded BaseError so IsErrorType can classify the
// concrete error structs without enumerating them.
func (e *BaseError) Base() *BaseError { return e }

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Not-found errors

// ErrNodeNotFound is returned when a knowledge node id is unknown
type ErrNodeNotFound struct {
	*BaseError
	NodeID string
}

func NewNodeNotFound(nodeID string) *ErrNodeNotFound {
	return &ErrNodeNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("node not found: %s", nodeID), nil),
		NodeID:    nodeID,
	}
}

// ErrRelationshipNotFound is returned when a relationship id is unknown
type ErrRelationshipNotFound struct {
	*BaseError
	RelationshipID string
}

func NewRelationshipNotFound(relationshipID string) *ErrRelationshipNotFound {
	return &ErrRelationshipNotFound{
		BaseError:      NewBaseError(ErrorTypeNotFound, fmt.Sprintf("relationship not found: %s", relationshipID), nil),
		RelationshipID: relationshipID,
	}
}

// ErrCaptureNotFound is returned when a capture id is unknown
type ErrCaptureNotFound struct {
	*BaseError
	CaptureID string
}

func NewCaptureNotFound(captureID string) *ErrCaptureNotFound {
	return &ErrCaptureNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("capture not found: %s", captureID), nil),
		CaptureID: captureID,
	}
}

// Conflict errors

// ErrDuplicateRelationship is returned when an edge already exists for an
// ordered (source, target) pair
type ErrDuplicateRelationship struct {
	*BaseError
	SourceID string
	TargetID string
}

func NewDuplicateRelationship(sourceID, targetID string) *ErrDuplicateRelationship {
	return &ErrDuplicateRelationship{
		BaseError: NewBaseError(ErrorTypeConflict, fmt.Sprintf("relationship already exists: %s -> %s", sourceID, targetID), nil),
		SourceID:  sourceID,
		TargetID:  targetID,
	}
}

// Validation errors

// ErrValidation is returned for malformed caller input
type ErrValidation struct {
	*BaseError
	Field  string
	Reason string
}

func NewValidation(field, reason string) *ErrValidation {
	return &ErrValidation{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("invalid %s: %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrIllegalTransition is returned for a capture status change that is not
// part of the raw -> processing -> organized -> linked machine
type ErrIllegalTransition struct {
	*BaseError
	From string
	To   string
}

func NewIllegalTransition(from, to string) *ErrIllegalTransition {
	return &ErrIllegalTransition{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("illegal status transition: %s -> %s", from, to), nil),
		From:      from,
		To:        to,
	}
}

// Upstream errors

// ErrUpstreamFailed is returned when the text-generation or embedding
// capability errors or returns unusable output
type ErrUpstreamFailed struct {
	*BaseError
	Capability string
}

func NewUpstreamFailed(capability string, err error) *ErrUpstreamFailed {
	return &ErrUpstreamFailed{
		BaseError:  NewBaseError(ErrorTypeUpstream, fmt.Sprintf("upstream capability failed: %s", capability), err),
		Capability: capability,
	}
}

// Storage errors

// ErrStorageFailed is returned when the backing store errors
type ErrStorageFailed struct {
	*BaseError
	Operation string
}

func NewStorageFailed(operation string, err error) *ErrStorageFailed {
	return &ErrStorageFailed{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("storage operation failed: %s", operation), err),
		Operation: operation,
	}
}

// Config errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	if typed, ok := err.(interface{ Base() *BaseError }); ok {
		return typed.Base().Type == errType
	}
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		return IsErrorType(wrapped.Unwrap(), errType)
	}
	return false
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool { return IsErrorType(err, ErrorTypeNotFound) }

// IsConflict reports whether err is a conflict error
func IsConflict(err error) bool { return IsErrorType(err, ErrorTypeConflict) }

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return IsErrorType(err, ErrorTypeValidation) }

// IsUpstream reports whether err is an upstream capability error
func IsUpstream(err error) bool { return IsErrorType(err, ErrorTypeUpstream) }
