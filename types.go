package llamasys

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// Profile is the consuming project's build profile.
type Profile string

const (
	ProfileDebug   Profile = "debug"
	ProfileRelease Profile = "release"
)

// Platform is the operating system family derived from the target triple.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformUnix    Platform = "unix" // any other Unix-like target
)

// PlatformForTarget derives the platform family from a target triple.
func PlatformForTarget(target string) Platform {
	switch {
	case strings.Contains(target, "windows"):
		return PlatformWindows
	case strings.Contains(target, "apple-darwin"), strings.Contains(target, "apple-macos"):
		return PlatformMacOS
	case strings.Contains(target, "linux"):
		return PlatformLinux
	default:
		return PlatformUnix
	}
}

// Feature is a named compile-time toggle.
type Feature string

const (
	FeatureGPUAcceleration Feature = "gpu-acceleration"
	FeatureDynamicLink     Feature = "dynamic-link"
)

// KnownFeatures lists every feature the resolver understands.
var KnownFeatures = []Feature{FeatureGPUAcceleration, FeatureDynamicLink}

// BuildContext is the immutable snapshot of everything the build steps need.
//
// It is produced once by ResolveContext and handed to every step by
// pointer. Steps must treat it as read-only and must not consult the
// process environment themselves.
//
// Paths:
//   - OutDir: scratch output directory for this invocation
//   - StageDir: OutDir/<library name>, where the vendored tree is copied
//   - SourceDir: ManifestDir/<library name>, the pristine vendored tree
//   - TargetDir: ManifestDir/target/<profile>, the final build output
//
// Linkage:
//   - SharedLibs: build and link the native library as shared objects
//   - StaticCRT: link the MSVC runtime statically (Windows only)
type BuildContext struct {
	Target      string
	Platform    Platform
	OutDir      string
	Profile     Profile
	ManifestDir string
	TargetDir   string
	SourceDir   string
	StageDir    string

	LibProfile  string // CMake build type for the native library
	StaticCRT   bool
	SharedLibs  bool
	Debug       bool
	Parallelism int
	Generator   string // optional CMake generator
	CC          string // optional C compiler for header preprocessing

	Library *Library

	features map[Feature]bool
	childEnv map[string]string
}

// Enabled reports whether a feature resolved to on.
func (bc *BuildContext) Enabled(f Feature) bool {
	return bc.features[f]
}

// Features returns the names of every enabled feature, sorted.
func (bc *BuildContext) Features() []Feature {
	var on []Feature
	for f, enabled := range bc.features {
		if enabled {
			on = append(on, f)
		}
	}
	slices.Sort(on)
	return on
}

// ChildEnv returns a copy of the extra environment handed to child processes.
func (bc *BuildContext) ChildEnv() map[string]string {
	return maps.Clone(bc.childEnv)
}

// LogValue implements slog.LogValuer so the whole context can be logged as one group.
func (bc *BuildContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("target", bc.Target),
		slog.String("platform", string(bc.Platform)),
		slog.String("out_dir", bc.OutDir),
		slog.String("profile", string(bc.Profile)),
		slog.String("manifest_dir", bc.ManifestDir),
		slog.String("target_dir", bc.TargetDir),
		slog.String("source_dir", bc.SourceDir),
		slog.String("stage_dir", bc.StageDir),
		slog.String("lib_profile", bc.LibProfile),
		slog.Bool("static_crt", bc.StaticCRT),
		slog.Bool("shared_libs", bc.SharedLibs),
		slog.Int("parallelism", bc.Parallelism),
		slog.Any("features", bc.Features()),
	)
}

// IsGNU reports whether the target uses a GNU-flavored toolchain.
func (bc *BuildContext) IsGNU() bool {
	return strings.Contains(bc.Target, "gnu")
}

// IsLegacyMacOS reports whether the target is an Intel macOS triple, which
// needs the compiler runtime linked explicitly.
func (bc *BuildContext) IsLegacyMacOS() bool {
	return bc.Platform == PlatformMacOS && strings.HasPrefix(bc.Target, "x86_64-")
}

// DriverResult is what the native build driver hands to the link planner.
type DriverResult struct {
	InstallDir string   // install prefix; libraries land in InstallDir/lib
	BuildDir   string   // CMake's own build tree
	Output     []string // captured output lines from the external build
}

// BuildResult contains the outcome of a pipeline run.
//
// Each step fills in its part as it completes, so a failed run still
// shows how far it got.
type BuildResult struct {
	Success      bool
	Staged       bool     // false when the stage directory already existed
	StageDir     string   // staged vendored source
	BindingsPath string   // generated binding declarations
	Driver       *DriverResult
	Plan         *LinkPlan
	Deployed     []string // shared libraries placed at deployment targets
	Error        error
}

// CommonBuildSteps defines the configure/build/find pattern used by the native build driver.
//
// Example usage:
//
//	return runCommonBuild(ctx, bc, CommonBuildSteps{
//	    ConfigureFunc: b.configure,
//	    BuildFunc:     b.compileAndInstall,
//	    FindFunc:      b.outputLayout,
//	})
type CommonBuildSteps struct {
	// ConfigureFunc prepares the build tree (cmake -S -B)
	ConfigureFunc func(ctx context.Context, bc *BuildContext, result *DriverResult) error

	// BuildFunc compiles and installs the library
	BuildFunc func(ctx context.Context, bc *BuildContext, result *DriverResult) error

	// FindFunc fills in the output layout once the build completed
	FindFunc func(bc *BuildContext, result *DriverResult) error
}
