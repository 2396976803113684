package llamasys

import (
	"fmt"
	"os/exec"
	"strings"
)

// ToolChecker is an optional interface for steps that require external tools.
//
// The pipeline calls CheckTools on every registered step that implements
// it before the first step runs, so a missing cmake or compiler fails the
// build before anything is staged or compiled.
//
// # Example Implementation
//
//	func (b *CmakeBuilder) RequiredTools() []ToolRequirement {
//	    return []ToolRequirement{
//	        {Name: "cmake", Purpose: "CMake build system"},
//	    }
//	}
//
//	func (b *CmakeBuilder) CheckTools() error {
//	    return CheckRequiredTools(b.RequiredTools())
//	}
type ToolChecker interface {
	// RequiredTools returns the list of tools this step needs.
	RequiredTools() []ToolRequirement

	// CheckTools verifies that all required tools are available.
	//
	// Returns nil if all required tools are found, or an error describing
	// which tools are missing. Optional tools don't cause errors if missing.
	CheckTools() error
}

// ToolRequirement describes a build tool dependency.
//
// Tool with alternatives:
//
//	ToolRequirement{
//	    Name:         "clang",
//	    Alternatives: []string{"cc", "gcc"},
//	    Purpose:      "C preprocessor for binding generation",
//	}
type ToolRequirement struct {
	// Name is the primary tool binary name (e.g., "cmake", "clang").
	Name string

	// Alternatives are alternative tool names that can satisfy this requirement.
	// If any tool in Alternatives is found, the requirement is satisfied.
	Alternatives []string

	// Optional indicates this tool is optional and won't cause an error if missing.
	Optional bool

	// Purpose is a human-readable description of why this tool is needed.
	Purpose string
}

// CheckToolAvailable checks if a tool is available in the system PATH.
//
// This is a simple wrapper around exec.LookPath that provides
// consistent error messages.
//
// # Parameters
//
//   - tool: The tool binary name to check (e.g., "cmake", "clang")
//
// # Returns
//
// Returns nil if the tool is found in PATH, or an error naming the tool.
//
// # Thread Safety
//
// This function is thread-safe and can be called concurrently.
func CheckToolAvailable(tool string) error {
	_, err := exec.LookPath(tool)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", tool)
	}
	return nil
}

// ResolveTool returns the first of req.Name and req.Alternatives found in PATH.
//
// The binding generator uses it to pick the C compiler when CC is unset.
//
// # Parameters
//
//   - req: The requirement to resolve; Optional and Purpose are ignored
//
// # Returns
//
// Returns the binary name and true on success, or "" and false if
// neither the primary name nor any alternative is in PATH.
//
// # Example
//
//	compiler, ok := ResolveTool(ToolRequirement{
//	    Name:         "clang",
//	    Alternatives: []string{"cc", "gcc"},
//	})
//
// # Thread Safety
//
// This function is thread-safe and can be called concurrently.
func ResolveTool(req ToolRequirement) (string, bool) {
	for _, name := range append([]string{req.Name}, req.Alternatives...) {
		if CheckToolAvailable(name) == nil {
			return name, true
		}
	}
	return "", false
}

// CheckRequiredTools verifies all required tools are available.
//
// This helper function checks a list of ToolRequirements and returns
// a detailed error if any required tools are missing.
//
// # Behavior
//
//   - Checks the primary tool name first
//   - If not found, tries each alternative tool in order
//   - Optional tools are checked but don't cause errors
//   - Returns all missing required tools in a single error
//
// # Parameters
//
//   - requirements: List of tools to check
//
// # Returns
//
// Returns nil if all required tools are available.
// Returns an error listing all missing required tools if any are not found.
//
// # Example
//
//	if err := CheckRequiredTools(builder.RequiredTools()); err != nil {
//	    return ExternalBuildFailure("CMake", err)
//	}
//
// # Error Format
//
// Single missing tool:
//
//	cmake (CMake build system) not found in PATH
//
// Multiple missing tools:
//
//	missing required tools: cmake (CMake build system), clang (C preprocessor)
//
// # Thread Safety
//
// This function is thread-safe and can be called concurrently.
func CheckRequiredTools(requirements []ToolRequirement) error {
	var missingTools []string

	for _, req := range requirements {
		if _, found := ResolveTool(req); found || req.Optional {
			continue
		}

		if req.Purpose != "" {
			missingTools = append(missingTools, fmt.Sprintf("%s (%s)", req.Name, req.Purpose))
		} else {
			missingTools = append(missingTools, req.Name)
		}
	}

	if len(missingTools) == 0 {
		return nil
	}

	if len(missingTools) == 1 {
		return fmt.Errorf("%s not found in PATH", missingTools[0])
	}

	return fmt.Errorf("missing required tools: %s", strings.Join(missingTools, ", "))
}
