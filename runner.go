package llamasys

import (
	"io"

	"github.com/magefile/mage/sh"
)

// Runner executes external programs on behalf of the build steps.
//
// The orchestrator never spawns processes directly. CMake, the compiler
// probe and the C preprocessor all go through a Runner so tests can
// substitute a recording fake.
//
// Commands inherit the parent environment plus env. There is no
// cancellation: a hung child blocks the caller.
type Runner interface {
	// Exec runs cmd, streaming its output to stdout and stderr.
	Exec(env map[string]string, stdout, stderr io.Writer, cmd string, args ...string) error

	// Output runs cmd and returns its trimmed standard output.
	Output(env map[string]string, cmd string, args ...string) (string, error)
}

// ShellRunner is the production Runner backed by mage's sh package.
type ShellRunner struct{}

// Exec implements Runner.
func (ShellRunner) Exec(env map[string]string, stdout, stderr io.Writer, cmd string, args ...string) error {
	_, err := sh.Exec(env, stdout, stderr, cmd, args...)
	return err
}

// Output implements Runner.
func (ShellRunner) Output(env map[string]string, cmd string, args ...string) (string, error) {
	return sh.OutputWith(env, cmd, args...)
}
