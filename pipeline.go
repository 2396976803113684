package llamasys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Pipeline runs the registered steps in order against one BuildContext.
//
// # Usage
//
// Create a pipeline with the standard steps:
//
//	p := llamasys.NewPipeline(llamasys.ShellRunner{}, logger, os.Stdout)
//	result, err := p.Run(ctx, bc)
//
// Or register custom steps:
//
//	p := &llamasys.Pipeline{}
//	p.Register(&llamasys.StageStep{})
//
// # Execution
//
//  1. Every step implementing ToolChecker is checked; a missing tool fails the run
//  2. Steps run in registration order
//  3. The first error stops the run; later steps are not executed.
//     A recoverable BuildFailure (discovery) is logged as a warning and
//     the run continues
//  4. Context cancellation is observed between steps
//
// Not thread-safe. A pipeline runs one build at a time.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger
}

// NewPipeline creates a pipeline with the standard steps registered:
//  1. StageStep - copy the vendored tree
//  2. BindingGenerator - generate cgo declarations
//  3. CmakeBuilder - build and install the native library
//  4. LinkStep - emit link directives to out
//  5. DeployStep - hard-link shared libraries
func NewPipeline(runner Runner, log *slog.Logger, out io.Writer) *Pipeline {
	p := &Pipeline{logger: log}

	p.Register(&StageStep{Logger: log})
	p.Register(&BindingGenerator{Runner: runner, Logger: log})
	p.Register(&CmakeBuilder{Runner: runner, Logger: log})
	p.Register(&LinkStep{Planner: &LinkPlanner{Runner: runner, Logger: log}, Out: out})
	p.Register(&DeployStep{Logger: log})

	return p
}

// Register appends a step.
func (p *Pipeline) Register(step Step) {
	p.steps = append(p.steps, step)
}

// Steps returns a copy of the registered steps.
func (p *Pipeline) Steps() []Step {
	return append([]Step{}, p.steps...)
}

// CheckTools verifies the tools of every step that declares them.
func (p *Pipeline) CheckTools() error {
	for _, step := range p.steps {
		checker, ok := step.(ToolChecker)
		if !ok {
			continue
		}
		if err := checker.CheckTools(); err != nil {
			return ExternalBuildFailure(step.Name(), fmt.Errorf("build tools missing: %w", err))
		}
	}
	return nil
}

// Run executes every step in order.
//
// The returned BuildResult is never nil. On failure it holds whatever
// the completed steps produced, and Error is set.
func (p *Pipeline) Run(ctx context.Context, bc *BuildContext) (*BuildResult, error) {
	result := &BuildResult{}
	log := logger(p.logger)

	p.applyCompiler(bc)

	if err := p.CheckTools(); err != nil {
		result.Error = err
		return result, err
	}

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			result.Error = err
			return result, err
		}

		log.Debug("Running step", "step", step.Name())
		if err := step.Run(ctx, bc, result); err != nil {
			var bf *BuildFailure
			if errors.As(err, &bf) && bf.Recoverable() {
				warn(log, bf)
				continue
			}
			result.Error = err
			return result, err
		}
	}

	result.Success = true
	return result, nil
}

// applyCompiler hands an explicit CC to the binding generator.
func (p *Pipeline) applyCompiler(bc *BuildContext) {
	if bc.CC == "" {
		return
	}
	for _, step := range p.steps {
		if g, ok := step.(*BindingGenerator); ok && g.Compiler == "" {
			g.Compiler = bc.CC
		}
	}
}
