// Package domain defines core types, interfaces, and errors for the data platform.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AccessDeniedError indicates insufficient permissions.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// MissingAttributeError indicates a principal lacks the login attribute a
// column-mode sandbox policy needs. It is never resolved into an unfiltered
// result.
type MissingAttributeError struct {
	AttributeKey string
	Table        string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("missing login attribute %q required to query sandboxed table %q", e.AttributeKey, e.Table)
}

// PolicyConfigError indicates a sandbox policy that cannot be applied, such
// as a custom view that no longer exists.
type PolicyConfigError struct {
	PolicyID string
	Table    string
	Reason   string
}

func (e *PolicyConfigError) Error() string {
	if e.Table == "" {
		return "sandbox policy misconfigured: " + e.Reason
	}
	return fmt.Sprintf("sandbox policy on table %q misconfigured: %s", e.Table, e.Reason)
}

// ErrMissingAttribute creates a MissingAttributeError.
func ErrMissingAttribute(key, table string) *MissingAttributeError {
	return &MissingAttributeError{AttributeKey: key, Table: table}
}

// ErrPolicyConfig creates a PolicyConfigError with a formatted reason.
func ErrPolicyConfig(policyID, table, format string, args ...interface{}) *PolicyConfigError {
	return &PolicyConfigError{PolicyID: policyID, Table: table, Reason: fmt.Sprintf(format, args...)}
}
