package llamasys

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchesPattern checks if a name matches any of the given regex patterns.
//
// The binding generator uses it to apply the symbol allow-list built by
// Library.AllowPatterns.
//
// # Parameters
//
//   - name: The symbol to check (function, type or enum name)
//   - patterns: One or more regex patterns to match against
//
// # Returns
//
// Returns true if the name matches any pattern, false otherwise.
// If a pattern is invalid regex, it is silently skipped.
//
// # Example
//
//	if MatchesPattern(symbol, `^llama_`, `^ggml_`) {
//	    // symbol is part of the public API
//	}
//
// # Thread Safety
//
// This function is thread-safe and can be called concurrently.
func MatchesPattern(name string, patterns ...string) bool {
	for _, pattern := range patterns {
		if matched, _ := regexp.MatchString(pattern, name); matched {
			return true
		}
	}
	return false
}

// BuildError creates a standardized build error with output context.
//
// The CMake driver and the header syntax check both use it so a failed
// child process always reports the same way.
//
// # Parameters
//
//   - stage: Name of the failed stage (e.g., "CMake Build", "header syntax check")
//   - output: Captured output lines of the child process
//   - err: The underlying error (can be nil)
//
// # Returns
//
// A formatted error message containing:
//   - The stage name
//   - The underlying error message (if provided)
//   - The captured output, trimmed (if any remains)
//
// # Format
//
// With error and output:
//
//	CMake Build failed: exit status 2
//
//	Build output:
//	[ 12%] Building C object ggml/src/CMakeFiles/ggml-base.dir/ggml.c.o
//	ggml.c:42: error: ...
//
// With error but no output:
//
//	CMake Build failed: exit status 2
//
// With output but no error:
//
//	CMake Install failed
//
//	Build output:
//	... output lines ...
//
// # Thread Safety
//
// This function is thread-safe and can be called concurrently.
func BuildError(stage string, output []string, err error) error {
	outputStr := strings.TrimSpace(strings.Join(output, "\n"))

	var prefix string
	if err != nil {
		prefix = fmt.Sprintf("%s failed: %v", stage, err)
	} else {
		prefix = fmt.Sprintf("%s failed", stage)
	}

	if outputStr != "" {
		return fmt.Errorf("%s\n\nBuild output:\n%s", prefix, outputStr)
	}

	return fmt.Errorf("%s", prefix)
}

// splitLines breaks captured process output into lines, dropping a trailing empty line.
func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
