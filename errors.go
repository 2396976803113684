package llamasys

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies a BuildFailure.
type ErrorCategory string

const (
	// CategoryConfig is a missing or malformed build input.
	CategoryConfig ErrorCategory = "config"
	// CategoryIO is a staging copy or deployment link failure.
	CategoryIO ErrorCategory = "io"
	// CategoryHeaderParse is a failure to read or preprocess the C headers.
	CategoryHeaderParse ErrorCategory = "header-parse"
	// CategoryExternalBuild is a non-zero exit from CMake or a missing tool.
	CategoryExternalBuild ErrorCategory = "external-build"
	// CategoryDiscovery is a single unreadable artifact entry or failed probe.
	// It is the only recoverable category.
	CategoryDiscovery ErrorCategory = "discovery"
)

// BuildFailure is a classified orchestration error.
type BuildFailure struct {
	Category ErrorCategory
	Message  string
	Cause    error
	Context  map[string]any
}

// Error implements the error interface
func (e *BuildFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap returns the underlying cause.
func (e *BuildFailure) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair for log output.
func (e *BuildFailure) WithContext(key string, value any) *BuildFailure {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Recoverable reports whether the failure only affects a single enumerated item.
func (e *BuildFailure) Recoverable() bool {
	return e.Category == CategoryDiscovery
}

func newFailure(category ErrorCategory, message string, cause error) *BuildFailure {
	return &BuildFailure{Category: category, Message: message, Cause: cause}
}

// ConfigRequired reports a required environment input that is absent.
func ConfigRequired(name string) *BuildFailure {
	return newFailure(CategoryConfig, fmt.Sprintf("required variable %s is not set", name), nil).
		WithContext("variable", name)
}

// ConfigInvalid reports an input whose value cannot be interpreted.
func ConfigInvalid(name, value, reason string) *BuildFailure {
	return newFailure(CategoryConfig, fmt.Sprintf("invalid value %q for %s: %s", value, name, reason), nil).
		WithContext("variable", name)
}

// IOFailure wraps a filesystem error from staging or deployment.
func IOFailure(op, path string, cause error) *BuildFailure {
	return newFailure(CategoryIO, op+" failed", cause).
		WithContext("path", path)
}

// HeaderParseFailure wraps a failure to parse the binding root header.
func HeaderParseFailure(header string, cause error) *BuildFailure {
	return newFailure(CategoryHeaderParse, "failed to parse headers", cause).
		WithContext("header", header)
}

// ExternalBuildFailure wraps a failed native build stage.
func ExternalBuildFailure(stage string, cause error) *BuildFailure {
	return newFailure(CategoryExternalBuild, stage+" failed", cause).
		WithContext("stage", stage)
}

// DiscoveryFailure wraps a recoverable per-item enumeration or probe error.
func DiscoveryFailure(path string, cause error) *BuildFailure {
	return newFailure(CategoryDiscovery, "skipped unreadable entry", cause).
		WithContext("path", path)
}

// IsCategory checks if err (or anything it wraps) is a BuildFailure of category.
func IsCategory(err error, category ErrorCategory) bool {
	var bf *BuildFailure
	if errors.As(err, &bf) {
		return bf.Category == category
	}
	return false
}

// ExitCodeFor maps an error to the process exit status used by the CLI.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	var bf *BuildFailure
	if !errors.As(err, &bf) {
		return 1
	}

	switch bf.Category {
	case CategoryConfig:
		return 7
	case CategoryIO:
		return 11
	case CategoryHeaderParse:
		return 12
	case CategoryExternalBuild:
		return 13
	default:
		return 1
	}
}
