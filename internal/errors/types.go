// Package errors defines the structured error type used by servedir.
//
// Only path-structure failures (a file where a directory was expected, a
// missing entry during traversal) are meant to reach the HTTP boundary.
// Everything else is logged and degraded into a fallback content source
// by the tree, so most callers only ever need IsNotTraversable and
// errors.Is(err, fs.ErrNotExist).
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeNotTraversable ErrorType = "not_traversable"
	ErrorTypeStat           ErrorType = "stat"
	ErrorTypeListing        ErrorType = "listing"
	ErrorTypePlugin         ErrorType = "plugin"
	ErrorTypeConfig         ErrorType = "config"
)

// ErrNotTraversable is matched by every not_traversable ServeError.
var ErrNotTraversable = &ServeError{Type: ErrorTypeNotTraversable, Code: "NOT_TRAVERSABLE"}

// ServeError is a structured error type with context.
type ServeError struct {
	Type    ErrorType
	Code    string
	Op      string
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ServeError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *ServeError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *ServeError) Is(target error) bool {
	var t *ServeError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// NewNotTraversableError reports that path names a file but more
// components remain to be resolved below it.
func NewNotTraversableError(path, remaining string) *ServeError {
	return &ServeError{
		Type:    ErrorTypeNotTraversable,
		Code:    "NOT_TRAVERSABLE",
		Op:      "traverse",
		Path:    path,
		Message: fmt.Sprintf("directory cannot be traversed further (remaining %q)", remaining),
	}
}

// NewStatError wraps a failed stat of path.
func NewStatError(op, path string, cause error) *ServeError {
	return &ServeError{
		Type:  ErrorTypeStat,
		Code:  "STAT_FAILED",
		Op:    op,
		Path:  path,
		Cause: cause,
	}
}

// NewListingError wraps a failed directory listing.
func NewListingError(path string, cause error) *ServeError {
	return &ServeError{
		Type:  ErrorTypeListing,
		Code:  "LISTING_FAILED",
		Op:    "readdir",
		Path:  path,
		Cause: cause,
	}
}

// NewPluginError wraps a failing plugin hook.
func NewPluginError(plugin, hook, path string, cause error) *ServeError {
	return &ServeError{
		Type:    ErrorTypePlugin,
		Code:    "PLUGIN_FAILED",
		Op:      hook,
		Path:    path,
		Message: "plugin " + plugin,
		Cause:   cause,
	}
}

// NewConfigError wraps an invalid configuration section.
func NewConfigError(section string, cause error) *ServeError {
	return &ServeError{
		Type:  ErrorTypeConfig,
		Code:  "INVALID_CONFIG",
		Op:    "load",
		Path:  section,
		Cause: cause,
	}
}

// IsNotTraversable checks if err reports a file used as a directory.
func IsNotTraversable(err error) bool {
	return errors.Is(err, ErrNotTraversable)
}

// IsType checks if err carries a ServeError of the given type.
func IsType(err error, errorType ErrorType) bool {
	var se *ServeError
	if errors.As(err, &se) {
		return se.Type == errorType
	}

	return false
}
