package llamasys

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type call struct {
	env  map[string]string
	cmd  string
	args []string
}

// fakeRunner records every invocation and delegates to optional hooks.
type fakeRunner struct {
	calls    []call
	execFn   func(c call, stdout, stderr io.Writer) error
	outputFn func(c call) (string, error)
}

func (f *fakeRunner) Exec(env map[string]string, stdout, stderr io.Writer, cmd string, args ...string) error {
	c := call{env: env, cmd: cmd, args: args}
	f.calls = append(f.calls, c)
	if f.execFn != nil {
		return f.execFn(c, stdout, stderr)
	}
	return nil
}

func (f *fakeRunner) Output(env map[string]string, cmd string, args ...string) (string, error) {
	c := call{env: env, cmd: cmd, args: args}
	f.calls = append(f.calls, c)
	if f.outputFn != nil {
		return f.outputFn(c)
	}
	return "", nil
}

func mapLookup(vals map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

// testContext resolves a context rooted in a fresh temp dir. extra
// overrides or adds environment values.
func testContext(t *testing.T, target string, extra map[string]string, features ...Feature) *BuildContext {
	t.Helper()

	root := t.TempDir()
	env := map[string]string{
		EnvTarget:      target,
		EnvOutDir:      filepath.Join(root, "out"),
		EnvProfile:     "release",
		EnvManifestDir: filepath.Join(root, "project"),
	}
	for k, v := range extra {
		env[k] = v
	}

	bc, err := ResolveContext(mapLookup(env), features, nil)
	require.NoError(t, err)
	return bc
}
