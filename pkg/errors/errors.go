// Package errors provides a structured error system for FilterFS with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for FilterFS operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeFilterTemplate   ErrorCode = "CONFIG_FILTER_TEMPLATE"

	// Storage (underlying filesystem) Errors
	ErrCodeIO ErrorCode = "STORAGE_IO"

	// Filesystem Errors
	ErrCodeMountFailed      ErrorCode = "MOUNT_FAILED"
	ErrCodeUnmountFailed    ErrorCode = "UNMOUNT_FAILED"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodePathInvalid      ErrorCode = "PATH_INVALID"
	ErrCodeNotFound         ErrorCode = "FILE_NOT_FOUND"
	ErrCodeAlreadyExists    ErrorCode = "FILE_EXISTS"
	ErrCodeIsDirectory      ErrorCode = "FILE_IS_DIRECTORY"
	ErrCodeNotDirectory     ErrorCode = "NOT_DIRECTORY"
	ErrCodeSymlinkLoop      ErrorCode = "SYMLINK_LOOP"

	// Resource Management Errors
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// Operation Errors
	ErrCodeOperationCanceled   ErrorCode = "OPERATION_CANCELED"
	ErrCodeNotSupported        ErrorCode = "OPERATION_NOT_SUPPORTED"
	ErrCodeRetryAcrossBoundary ErrorCode = "RETRY_ACROSS_BOUNDARY"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryResource      ErrorCategory = "resource"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// FilterFSError represents a structured error with context and metadata.
type FilterFSError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	UserFacing bool `json:"user_facing"`
}

// Error implements the error interface.
func (e *FilterFSError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *FilterFSError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *FilterFSError) Is(target error) bool {
	if t, ok := target.(*FilterFSError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *FilterFSError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if len(e.Context) > 0 {
		ctx, _ := json.Marshal(e.Context)
		parts = append(parts, fmt.Sprintf("Context=%s", ctx))
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("FilterFSError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new FilterFS error with default values.
func NewError(code ErrorCode, message string) *FilterFSError {
	return &FilterFSError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// Newf is NewError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *FilterFSError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "STORAGE_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "MOUNT_") || strings.HasPrefix(codeStr, "UNMOUNT_") ||
		strings.HasPrefix(codeStr, "PERMISSION_") || strings.HasPrefix(codeStr, "PATH_") ||
		strings.HasPrefix(codeStr, "FILE_") || strings.HasPrefix(codeStr, "NOT_DIRECTORY") ||
		strings.HasPrefix(codeStr, "SYMLINK_"):
		return CategoryFilesystem
	case strings.HasPrefix(codeStr, "RESOURCE_"):
		return CategoryResource
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "RETRY_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsUserFacingByDefault determines if an error should be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad, ErrCodeFilterTemplate,
		ErrCodePermissionDenied, ErrCodePathInvalid, ErrCodeNotFound, ErrCodeNotDirectory,
		ErrCodeSymlinkLoop, ErrCodeMountFailed:
		return true
	}
	return false
}

// WithContext adds contextual information to an error
func (e *FilterFSError) WithContext(key, value string) *FilterFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *FilterFSError) WithDetail(key string, value interface{}) *FilterFSError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *FilterFSError) WithComponent(component string) *FilterFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *FilterFSError) WithOperation(operation string) *FilterFSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *FilterFSError) WithCause(cause error) *FilterFSError {
	e.Cause = cause
	return e
}

// GetRecommendation returns a user-friendly recommendation for fixing the error
func (e *FilterFSError) GetRecommendation() string {
	switch e.Code {
	case ErrCodeFilterTemplate:
		return "Check the filter command: quotes must be balanced, the shell must exist, " +
			"and the command must be executable by the mounting user."
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad:
		return "Check your configuration file syntax and required parameters."
	case ErrCodeMountFailed:
		return "Check mount point permissions and ensure FUSE is installed."
	case ErrCodePermissionDenied:
		return "Verify the permissions of the underlying directory tree."
	case ErrCodeResourceExhausted:
		return "Raise the open file limit or lower cache.max_nodes."
	}
	return "Please check the error message for details."
}

// GetCode returns the code of the first FilterFSError in err's chain.
func GetCode(err error) ErrorCode {
	var fe *FilterFSError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err's chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &FilterFSError{Code: code})
}

// As is errors.As restricted to FilterFSError.
func As(err error) (*FilterFSError, bool) {
	var fe *FilterFSError
	ok := stderrors.As(err, &fe)
	return fe, ok
}
