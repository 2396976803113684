package llamasys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	cmakeProgram   = "cmake"
	cmakeBuildDir  = "build"
	cmakeCacheFile = "CMakeCache.txt"
)

// CmakeBuilder drives the vendored library's CMake build
type CmakeBuilder struct {
	Runner Runner
	Logger *slog.Logger
}

// Name returns the builder name
func (b *CmakeBuilder) Name() string {
	return "CMake"
}

// RequiredTools returns the tools needed for CMake builds
func (b *CmakeBuilder) RequiredTools() []ToolRequirement {
	return []ToolRequirement{
		{Name: cmakeProgram, Purpose: "CMake build system"},
	}
}

// CheckTools verifies that cmake is available
func (b *CmakeBuilder) CheckTools() error {
	return CheckRequiredTools(b.RequiredTools())
}

// Run implements Step.
func (b *CmakeBuilder) Run(ctx context.Context, bc *BuildContext, result *BuildResult) error {
	driver, err := b.Build(ctx, bc)
	result.Driver = driver
	return err
}

// Build compiles the library using the cmake configure → build → install workflow
func (b *CmakeBuilder) Build(ctx context.Context, bc *BuildContext) (*DriverResult, error) {
	return runCommonBuild(ctx, bc, CommonBuildSteps{
		ConfigureFunc: b.configure,
		BuildFunc:     b.compileAndInstall,
		FindFunc:      b.outputLayout,
	})
}

// BuildDir returns the CMake build tree for bc.
func BuildDir(bc *BuildContext) string {
	return filepath.Join(bc.OutDir, cmakeBuildDir)
}

// configure runs cmake -S -B unless the build tree is already configured.
// Later changes to CMakeLists are picked up by cmake --build itself.
func (b *CmakeBuilder) configure(_ context.Context, bc *BuildContext, result *DriverResult) error {
	cache := filepath.Join(BuildDir(bc), cmakeCacheFile)
	if _, err := os.Stat(cache); err == nil {
		logger(b.Logger).Debug("CMake cache present, skipping configure", "cache", cache)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return IOFailure("stat cmake cache", cache, err)
	}

	args := append([]string{"-S", bc.StageDir, "-B", BuildDir(bc)}, ConfigureDefines(bc)...)
	if bc.Generator != "" {
		args = append(args, "-G", bc.Generator)
	}

	return b.run(bc, result, "CMake Configure", args)
}

// compileAndInstall always runs cmake --build so CMake's own change
// detection decides what to rebuild, then installs into OutDir.
func (b *CmakeBuilder) compileAndInstall(_ context.Context, bc *BuildContext, result *DriverResult) error {
	buildArgs := []string{"--build", BuildDir(bc), "--config", bc.LibProfile}
	if err := b.run(bc, result, "CMake Build", buildArgs); err != nil {
		return err
	}

	installArgs := []string{"--install", BuildDir(bc), "--config", bc.LibProfile, "--prefix", bc.OutDir}
	return b.run(bc, result, "CMake Install", installArgs)
}

func (b *CmakeBuilder) outputLayout(bc *BuildContext, result *DriverResult) error {
	result.InstallDir = bc.OutDir
	result.BuildDir = BuildDir(bc)
	return nil
}

func (b *CmakeBuilder) run(bc *BuildContext, result *DriverResult, stage string, args []string) error {
	var out bytes.Buffer
	var stdout, stderr io.Writer = &out, &out
	if bc.Debug {
		stdout = io.MultiWriter(&out, os.Stderr)
		stderr = stdout
	}

	logger(b.Logger).Debug("Running cmake", "stage", stage, "args", strings.Join(args, " "))

	err := b.runner().Exec(bc.ChildEnv(), stdout, stderr, cmakeProgram, args...)
	result.Output = append(result.Output, splitLines(out.String())...)
	if err != nil {
		return ExternalBuildFailure(stage, BuildError(stage, result.Output, err))
	}
	return nil
}

func (b *CmakeBuilder) runner() Runner {
	if b.Runner == nil {
		return ShellRunner{}
	}
	return b.Runner
}

// ConfigureDefines returns the -D options for the configure step.
//
// Sub-targets the orchestrator never needs (tests, examples, tools,
// server) are always forced OFF. The GPU backend is Metal on macOS and
// CUDA elsewhere.
func ConfigureDefines(bc *BuildContext) []string {
	define := func(key, value string) string {
		return fmt.Sprintf("-D%s=%s", key, value)
	}

	defs := []string{
		define("CMAKE_BUILD_TYPE", bc.LibProfile),
		define("CMAKE_INSTALL_PREFIX", bc.OutDir),
		define("CMAKE_INSTALL_LIBDIR", "lib"),
		define("BUILD_SHARED_LIBS", onOff(bc.SharedLibs)),
	}

	for _, target := range bc.Library.DisabledTargets {
		defs = append(defs, define(target, "OFF"))
	}

	if bc.Enabled(FeatureGPUAcceleration) {
		option := bc.Library.GPUOption
		if bc.Platform == PlatformMacOS {
			option = bc.Library.MetalOption
		}
		defs = append(defs, define(option, "ON"))
	}

	if bc.Platform == PlatformWindows && bc.StaticCRT {
		defs = append(defs, define("CMAKE_MSVC_RUNTIME_LIBRARY", "MultiThreaded$<$<CONFIG:Debug>:Debug>"))
	}

	if bc.Debug {
		defs = append(defs, define("CMAKE_VERBOSE_MAKEFILE", "ON"))
	}

	return defs
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}
