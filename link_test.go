package llamasys

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactPattern(t *testing.T) {
	testCases := []struct {
		platform Platform
		shared   bool
		want     string
	}{
		{PlatformWindows, false, "*.lib"},
		{PlatformWindows, true, "*.lib"},
		{PlatformMacOS, false, "*.a"},
		{PlatformMacOS, true, "*.dylib"},
		{PlatformLinux, false, "*.a"},
		{PlatformLinux, true, "*.so"},
		{PlatformUnix, false, "*.a"},
		{PlatformUnix, true, "*.so"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, ArtifactPattern(tc.platform, tc.shared), "%s shared=%v", tc.platform, tc.shared)
	}
}

func TestLinkKindFor(t *testing.T) {
	assert.Equal(t, LinkStatic, LinkKindFor(false))
	assert.Equal(t, LinkDynamic, LinkKindFor(true))
}

func TestLibraryName(t *testing.T) {
	testCases := map[string]string{
		"libllama.a":              "llama",
		"libggml-base.a":          "ggml-base",
		"/out/lib/libggml.so":     "ggml",
		"libggml-metal.dylib":     "ggml-metal",
		"llama.lib":               "llama",
		"C:/out/lib/ggml-cpu.lib": "ggml-cpu",
		"lib.a":                   "lib",
		"liblib.a":                "lib",
	}

	for file, want := range testCases {
		assert.Equal(t, want, LibraryName(file), file)
	}
}

func TestDiscoverArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "libllama.a"), "")
	writeFile(t, filepath.Join(dir, "libggml.a"), "")
	writeFile(t, filepath.Join(dir, "libllama.so"), "")
	writeFile(t, filepath.Join(dir, "nested", "libnested.a"), "")

	found := DiscoverArtifacts(dir, "*.a", nil)
	assert.Equal(t, []DiscoveredArtifact{
		{Path: filepath.Join(dir, "libggml.a"), Name: "ggml"},
		{Path: filepath.Join(dir, "libllama.a"), Name: "llama"},
	}, found)
}

func TestDiscoverArtifactsMissingDir(t *testing.T) {
	assert.Empty(t, DiscoverArtifacts(filepath.Join(t.TempDir(), "missing"), "*.a", nil))
}

// unreadableEntries adds a dangling symlink and an unreadable subdirectory to dir.
func unreadableEntries(t *testing.T, dir, broken string) {
	t.Helper()
	require.NoError(t, os.Symlink(filepath.Join(dir, "nope"), filepath.Join(dir, broken)))

	private := filepath.Join(dir, "private")
	writeFile(t, filepath.Join(private, "libhidden.a"), "")
	require.NoError(t, os.Chmod(private, 0o000))
	t.Cleanup(func() { _ = os.Chmod(private, 0o755) })
}

func TestDiscoverArtifactsSkipsUnreadableEntries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "libllama.a"), "")
	writeFile(t, filepath.Join(dir, "libggml.a"), "")
	unreadableEntries(t, dir, "libbroken.a")

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))

	found := DiscoverArtifacts(dir, "*.a", log)
	assert.Equal(t, []DiscoveredArtifact{
		{Path: filepath.Join(dir, "libggml.a"), Name: "ggml"},
		{Path: filepath.Join(dir, "libllama.a"), Name: "llama"},
	}, found)

	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "category=discovery")
	assert.Contains(t, logs.String(), "libbroken.a")
}

func TestPlanSkipsDanglingArtifacts(t *testing.T) {
	bc := testContext(t, "x86_64-unknown-linux-gnu", nil)
	writeFile(t, filepath.Join(LibDir(bc), "libllama.a"), "")
	unreadableEntries(t, LibDir(bc), "libbroken.a")

	plan := (&LinkPlanner{Runner: &fakeRunner{}}).Plan(bc, nil)
	lines := directiveLines(plan)

	assert.Contains(t, lines, "cgo:link-lib=static=llama")
	assert.NotContains(t, lines, "cgo:link-lib=static=broken")
	assert.NotContains(t, lines, "cgo:link-lib=static=hidden")
	assert.Len(t, plan.Artifacts, 1)
}

func directiveLines(plan *LinkPlan) []string {
	var lines []string
	for _, d := range plan.Directives {
		lines = append(lines, d.String())
	}
	return lines
}

func TestPlanLinuxStatic(t *testing.T) {
	bc := testContext(t, "x86_64-unknown-linux-gnu", nil)
	libDir := LibDir(bc)
	writeFile(t, filepath.Join(libDir, "libllama.a"), "")
	writeFile(t, filepath.Join(libDir, "libggml.a"), "")
	writeFile(t, filepath.Join(libDir, "libggml-base.a"), "")
	writeFile(t, filepath.Join(libDir, "libllama.so"), "")
	writeFile(t, filepath.Join(BuildDir(bc), "CMakeCache.txt"), "")

	runner := &fakeRunner{}
	plan := (&LinkPlanner{Runner: runner}).Plan(bc, nil)

	assert.Equal(t, []string{
		"cgo:link-search=" + libDir,
		"cgo:link-search=" + BuildDir(bc),
		"cgo:link-lib=static=ggml-base",
		"cgo:link-lib=static=ggml",
		"cgo:link-lib=static=llama",
		"cgo:link-lib=dylib=stdc++",
		"cgo:link-lib=dylib=gomp",
	}, directiveLines(plan))
	assert.Len(t, plan.Artifacts, 3)
	assert.Empty(t, runner.calls)
}

func TestPlanLinuxMuslSkipsGomp(t *testing.T) {
	bc := testContext(t, "x86_64-unknown-linux-musl", nil)
	plan := (&LinkPlanner{Runner: &fakeRunner{}}).Plan(bc, nil)

	lines := directiveLines(plan)
	assert.Contains(t, lines, "cgo:link-lib=dylib=stdc++")
	assert.NotContains(t, lines, "cgo:link-lib=dylib=gomp")
}

func TestPlanOmitsMissingSearchPaths(t *testing.T) {
	bc := testContext(t, "x86_64-unknown-linux-gnu", nil)
	writeFile(t, filepath.Join(LibDir(bc), "libllama.a"), "")

	plan := (&LinkPlanner{Runner: &fakeRunner{}}).Plan(bc, nil)
	lines := directiveLines(plan)

	assert.Contains(t, lines, "cgo:link-search="+LibDir(bc))
	assert.NotContains(t, lines, "cgo:link-search="+BuildDir(bc))
}

func TestPlanUsesDriverLayout(t *testing.T) {
	bc := testContext(t, "x86_64-unknown-linux-gnu", nil)
	install := filepath.Join(t.TempDir(), "prefix")
	writeFile(t, filepath.Join(install, "lib", "libllama.a"), "")

	driver := &DriverResult{InstallDir: install, BuildDir: filepath.Join(install, "missing-build")}
	plan := (&LinkPlanner{Runner: &fakeRunner{}}).Plan(bc, driver)

	assert.Equal(t, "cgo:link-search="+filepath.Join(install, "lib"), plan.Directives[0].String())
	assert.Contains(t, directiveLines(plan), "cgo:link-lib=static=llama")
}

func TestPlanMacOSShared(t *testing.T) {
	bc := testContext(t, "aarch64-apple-darwin", nil, FeatureDynamicLink)
	writeFile(t, filepath.Join(LibDir(bc), "libllama.dylib"), "")
	writeFile(t, filepath.Join(LibDir(bc), "libllama.a"), "")

	runner := &fakeRunner{}
	plan := (&LinkPlanner{Runner: runner}).Plan(bc, nil)

	assert.Equal(t, []string{
		"cgo:link-search=" + LibDir(bc),
		"cgo:link-lib=dylib=llama",
		"cgo:link-lib=framework=Foundation",
		"cgo:link-lib=framework=Metal",
		"cgo:link-lib=framework=MetalKit",
		"cgo:link-lib=framework=Accelerate",
		"cgo:link-lib=dylib=c++",
	}, directiveLines(plan))
	assert.Empty(t, runner.calls, "only legacy macOS asks clang for its runtime dir")
}

func TestPlanLegacyMacOSRuntimeLookupFailure(t *testing.T) {
	bc := testContext(t, "x86_64-apple-darwin", nil)
	runner := &fakeRunner{
		outputFn: func(call) (string, error) { return "", errors.New("clang: not found") },
	}

	plan := (&LinkPlanner{Runner: runner}).Plan(bc, nil)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "clang", runner.calls[0].cmd)
	assert.Equal(t, []string{"--print-search-dirs"}, runner.calls[0].args)
	assert.NotContains(t, directiveLines(plan), "cgo:link-lib=static=clang_rt.osx")
	assert.Contains(t, directiveLines(plan), "cgo:link-lib=dylib=c++")
}

func TestPlanLegacyMacOSRuntimeLookupSuccess(t *testing.T) {
	bc := testContext(t, "x86_64-apple-darwin", nil)
	clangDir := filepath.Join(t.TempDir(), "clang", "15.0.0")
	runtimeDir := filepath.Join(clangDir, "lib", "darwin")
	writeFile(t, filepath.Join(runtimeDir, "libclang_rt.osx.a"), "")

	runner := &fakeRunner{
		outputFn: func(call) (string, error) {
			return "programs: =/usr/bin\nlibraries: =" + clangDir + ":/usr/lib", nil
		},
	}

	plan := (&LinkPlanner{Runner: runner}).Plan(bc, nil)
	lines := directiveLines(plan)

	assert.Equal(t, []string{
		"cgo:link-lib=framework=Foundation",
		"cgo:link-lib=framework=Metal",
		"cgo:link-lib=framework=MetalKit",
		"cgo:link-lib=framework=Accelerate",
		"cgo:link-lib=dylib=c++",
		"cgo:link-search=" + runtimeDir,
		"cgo:link-lib=static=clang_rt.osx",
	}, lines)
}

func TestCompilerRuntimeDirMissing(t *testing.T) {
	runner := &fakeRunner{
		outputFn: func(call) (string, error) {
			return "libraries: =/definitely/not/here", nil
		},
	}
	_, ok := ProbeCompilerRuntimeDir(runner, nil)
	assert.False(t, ok)

	runner.outputFn = func(call) (string, error) { return "programs: =/usr/bin", nil }
	_, ok = ProbeCompilerRuntimeDir(runner, nil)
	assert.False(t, ok)
}

func TestPlanWindows(t *testing.T) {
	bc := testContext(t, "x86_64-pc-windows-msvc", nil)
	writeFile(t, filepath.Join(LibDir(bc), "llama.lib"), "")
	writeFile(t, filepath.Join(LibDir(bc), "ggml.lib"), "")

	plan := (&LinkPlanner{Runner: &fakeRunner{}}).Plan(bc, nil)
	assert.Equal(t, []string{
		"cgo:link-search=" + LibDir(bc),
		"cgo:link-lib=static=ggml",
		"cgo:link-lib=static=llama",
	}, directiveLines(plan))
}

func TestLinkStep(t *testing.T) {
	bc := testContext(t, "x86_64-unknown-linux-gnu", nil)
	writeFile(t, filepath.Join(LibDir(bc), "libllama.a"), "")

	var out bytes.Buffer
	step := &LinkStep{Planner: &LinkPlanner{Runner: &fakeRunner{}}, Out: &out}
	assert.Equal(t, "link", step.Name())

	result := &BuildResult{}
	require.NoError(t, step.Run(context.Background(), bc, result))
	require.NotNil(t, result.Plan)

	assert.Equal(t,
		"cgo:link-search="+LibDir(bc)+"\n"+
			"cgo:link-lib=static=llama\n"+
			"cgo:link-lib=dylib=stdc++\n"+
			"cgo:link-lib=dylib=gomp\n",
		out.String())

	cgo := readFile(t, filepath.Join(bc.OutDir, CgoFlagsFile))
	assert.Contains(t, cgo, "package llama")
	assert.Contains(t, cgo, "#cgo LDFLAGS: -L"+LibDir(bc)+" -Wl,-Bstatic -Wl,--start-group -lllama -Wl,--end-group -Wl,-Bdynamic -lstdc++ -lgomp")
	assert.Contains(t, cgo, `import "C"`)
}
