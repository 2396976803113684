package llamasys

import (
	"context"
)

// runCommonBuild executes the configure/build/find sequence.
//
// The native build follows the usual CMake pattern:
//  1. Configure: generate the build tree (skipped when already configured)
//  2. Build: compile and install into the output directory
//  3. Find: record where the installed artifacts landed
//
// # Process Flow
//
//  1. Create an empty DriverResult
//  2. Call ConfigureFunc to prepare the build tree
//  3. Call BuildFunc to compile and install
//  4. Call FindFunc to record the output layout
//
// # Parameters
//
//   - ctx: Context handed to the step functions
//   - bc: Resolved build context
//   - steps: The three functions to execute
//
// # Returns
//
// Returns the DriverResult and nil on success. On failure it returns the
// partial DriverResult together with the error, so captured output
// survives for the error report.
//
// # Error Handling
//
// If any step returns an error:
//   - Subsequent steps are not executed
//   - The partial DriverResult and error are returned
//
// There is no partial-success path: a half-built native library
// cannot be linked.
//
// # Thread Safety
//
// This function is thread-safe as long as the provided step functions
// don't share mutable state.
func runCommonBuild(ctx context.Context, bc *BuildContext, steps CommonBuildSteps) (*DriverResult, error) {
	result := &DriverResult{
		Output: []string{},
	}

	if err := steps.ConfigureFunc(ctx, bc, result); err != nil {
		return result, err
	}

	if err := steps.BuildFunc(ctx, bc, result); err != nil {
		return result, err
	}

	if err := steps.FindFunc(bc, result); err != nil {
		return result, err
	}

	return result, nil
}
