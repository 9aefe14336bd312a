// Package errors provides centralized error definitions and error handling
// utilities for the taskferry codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - WindowError: a submission window that could not be landed
//   - ServiceError: errors returned by or while contacting the batch service
//   - CollectionError: errors loading or validating a task collection
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//
// # Usage
//
// Creating errors:
//
//	// Domain-specific error
//	err := errors.NewWindowError("submission failed", cause).WithRange(100, 200)
//
//	// Semantic error
//	err := errors.NewNotFoundError("job", "batch-7")
//
// Checking errors:
//
//	// Check for specific sentinel errors
//	if errors.Is(err, errors.ErrSingleTaskTooLarge) { ... }
//
//	// Check for error types
//	var winErr *errors.WindowError
//	if errors.As(err, &winErr) { ... }
//
//	// Use classification helpers
//	if errors.IsRetryable(err) { ... }
//	if errors.IsUserFacing(err) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Submission-related sentinel errors
var (
	// ErrSingleTaskTooLarge indicates the service rejected a one-item request
	// as oversized, which no amount of slicing can recover from.
	ErrSingleTaskTooLarge = New("single task exceeds service request limit")
	// ErrCollectionRejected indicates the service rejected a whole request for
	// a reason other than size.
	ErrCollectionRejected = New("task collection request rejected")
	// ErrWindowFailed indicates a window could not be fully submitted.
	ErrWindowFailed = New("window submission failed")
)

// Collection-related sentinel errors
var (
	// ErrEmptyCollection indicates a task collection with no tasks.
	ErrEmptyCollection = New("task collection is empty")
	// ErrDuplicateTask indicates two tasks in a collection share an id.
	ErrDuplicateTask = New("duplicate task id")
	// ErrMissingTaskID indicates a task descriptor without an id.
	ErrMissingTaskID = New("task id is empty")
)

// Service-related sentinel errors
var (
	// ErrServiceUnavailable indicates the batch service could not be reached.
	ErrServiceUnavailable = New("batch service unavailable")
	// ErrUnauthorized indicates the service refused the configured credentials.
	ErrUnauthorized = New("batch service rejected credentials")
)

// General sentinel errors
var (
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// TaskferryError is the base interface for all taskferry errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type TaskferryError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// WindowError represents a submission window that could not be landed.
// It carries the window's offset range plus the cursor and slice width in
// effect when the failure occurred, so operators can see exactly which
// sub-range of the task list is unresolved.
//
// Example:
//
//	err := errors.NewWindowError("request rejected", cause).
//		WithRange(100, 200).
//		WithCursor(150, 25)
type WindowError struct {
	baseError
	Start  int
	End    int
	Cursor int
	Slice  int
}

// NewWindowError creates a new WindowError.
func NewWindowError(message string, cause error) *WindowError {
	return &WindowError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Start:  -1,
		End:    -1,
		Cursor: -1,
		Slice:  -1,
	}
}

// WithRange adds the window's offset range to the error context.
func (e *WindowError) WithRange(start, end int) *WindowError {
	e.Start = start
	e.End = end
	return e
}

// WithCursor adds the failing cursor position and slice width.
func (e *WindowError) WithCursor(cursor, slice int) *WindowError {
	e.Cursor = cursor
	e.Slice = slice
	return e
}

// WithSeverity sets the error severity.
func (e *WindowError) WithSeverity(s Severity) *WindowError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *WindowError) Error() string {
	var parts []string
	if e.Start >= 0 {
		parts = append(parts, fmt.Sprintf("window=[%d,%d)", e.Start, e.End))
	}
	if e.Cursor >= 0 {
		parts = append(parts, fmt.Sprintf("cursor=%d", e.Cursor))
	}
	if e.Slice >= 0 {
		parts = append(parts, fmt.Sprintf("slice=%d", e.Slice))
	}

	prefix := "window error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("window error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *WindowError) Is(target error) bool {
	if _, ok := target.(*WindowError); ok {
		return true
	}
	if errors.Is(target, ErrWindowFailed) {
		return true
	}
	return e.baseError.Is(target)
}

// ServiceError represents errors returned by or while contacting the batch
// service. Transport failures are retryable; authorization and protocol
// failures are not.
//
// Example:
//
//	err := errors.NewServiceError("add task collection failed", cause).
//		WithStatus(503).
//		WithCode("ServerBusy").
//		WithRetryable(true)
type ServiceError struct {
	baseError
	StatusCode int
	Code       string
	RequestID  string
}

// NewServiceError creates a new ServiceError.
func NewServiceError(message string, cause error) *ServiceError {
	return &ServiceError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithStatus adds the HTTP status code to the error context.
func (e *ServiceError) WithStatus(status int) *ServiceError {
	e.StatusCode = status
	return e
}

// WithCode adds the service's error code to the error context.
func (e *ServiceError) WithCode(code string) *ServiceError {
	e.Code = code
	return e
}

// WithRequestID adds the client request id to the error context.
func (e *ServiceError) WithRequestID(id string) *ServiceError {
	e.RequestID = id
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ServiceError) WithRetryable(r bool) *ServiceError {
	e.retryable = r
	return e
}

// WithSeverity sets the error severity.
func (e *ServiceError) WithSeverity(s Severity) *ServiceError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *ServiceError) Error() string {
	var parts []string
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("request=%s", e.RequestID))
	}

	prefix := "service error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("service error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ServiceError) Is(target error) bool {
	if _, ok := target.(*ServiceError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// CollectionError represents errors loading or validating a task collection.
//
// Example:
//
//	err := errors.NewCollectionError("parse failed", cause).WithPath("tasks.yaml")
type CollectionError struct {
	baseError
	Path   string
	TaskID string
}

// NewCollectionError creates a new CollectionError.
func NewCollectionError(message string, cause error) *CollectionError {
	return &CollectionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithPath adds the collection file path to the error context.
func (e *CollectionError) WithPath(path string) *CollectionError {
	e.Path = path
	return e
}

// WithTaskID adds the offending task id to the error context.
func (e *CollectionError) WithTaskID(id string) *CollectionError {
	e.TaskID = id
	return e
}

// Error returns the formatted error message.
func (e *CollectionError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}

	prefix := "collection error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("collection error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *CollectionError) Is(target error) bool {
	if _, ok := target.(*CollectionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("job", "batch-7")
//	fmt.Println(err) // "job 'batch-7' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("poll interval must be positive")
//	err = err.WithField("monitor.poll_interval").WithValue(0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing TaskferryError with IsRetryable() returning true
//   - Errors wrapping ErrServiceUnavailable
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    return retry(operation)
//	}
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ferryErr TaskferryError
	if As(err, &ferryErr) {
		return ferryErr.IsRetryable()
	}

	if Is(err, ErrServiceUnavailable) {
		return true
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end
// users. This checks for:
//   - Errors implementing TaskferryError with IsUserFacing() returning true
//   - Semantic errors (NotFoundError, ValidationError)
//
// Example:
//
//	if errors.IsUserFacing(err) {
//	    displayToUser(err.Error())
//	} else {
//	    displayToUser("An internal error occurred")
//	    log.Error("internal error", "err", err)
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var ferryErr TaskferryError
	if As(err, &ferryErr) {
		return ferryErr.IsUserFacing()
	}

	var notFound *NotFoundError
	var validation *ValidationError

	if As(err, &notFound) || As(err, &validation) {
		return true
	}

	return false
}

// IsFatalForRun returns true if the error should abort the whole submission
// run rather than a single window. A one-item request the service still
// rejects as oversized cannot be recovered by any amount of slicing.
func IsFatalForRun(err error) bool {
	return Is(err, ErrSingleTaskTooLarge)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement TaskferryError.
//
// Example:
//
//	switch errors.GetSeverity(err) {
//	case errors.SeverityCritical:
//	    alertOnCall(err)
//	case errors.SeverityError:
//	    log.Error("error occurred", "err", err)
//	case errors.SeverityWarning:
//	    log.Warn("warning", "err", err)
//	}
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var ferryErr TaskferryError
	if As(err, &ferryErr) {
		return ferryErr.Severity()
	}

	return SeverityError
}

// IsDomainError returns true if the error is a domain-specific error
// (WindowError, ServiceError, or CollectionError).
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}

	var winErr *WindowError
	var svcErr *ServiceError
	var colErr *CollectionError

	return As(err, &winErr) || As(err, &svcErr) || As(err, &colErr)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to submit window")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to submit window [%d,%d)", start, end)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
