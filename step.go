package llamasys

import (
	"context"
	"log/slog"
)

// Step is one stage of the orchestration.
//
// Steps are registered with a Pipeline and run strictly in order. Each
// step reads the shared BuildContext and records its outputs on the
// BuildResult so later steps can use them:
//
//  1. StageStep        - copies the vendored tree (BuildResult.StageDir)
//  2. BindingGenerator - writes bindings.go (BuildResult.BindingsPath)
//  3. CmakeBuilder     - builds and installs (BuildResult.Driver)
//  4. LinkStep         - plans and emits directives (BuildResult.Plan)
//  5. DeployStep       - hard-links shared libraries (BuildResult.Deployed)
//
// An error returned from Run is fatal for the whole run unless it is a
// recoverable BuildFailure, which the pipeline logs as a warning before
// moving on to the next step.
type Step interface {
	// Name returns the step name used in logs and errors.
	Name() string

	// Run executes the step.
	Run(ctx context.Context, bc *BuildContext, result *BuildResult) error
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
