package llamasys

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// libraryPrefix is the conventional Unix archive/shared object prefix.
const libraryPrefix = "lib"

// macOSFrameworks are linked unconditionally on macOS.
var macOSFrameworks = []string{"Foundation", "Metal", "MetalKit", "Accelerate"}

// ArtifactPattern returns the glob for compiled libraries to link.
//
//	windows  any     *.lib
//	macos    static  *.a
//	macos    shared  *.dylib
//	unix     static  *.a
//	unix     shared  *.so
func ArtifactPattern(platform Platform, shared bool) string {
	switch {
	case platform == PlatformWindows:
		return "*.lib"
	case platform == PlatformMacOS && shared:
		return "*.dylib"
	case shared:
		return "*.so"
	default:
		return "*.a"
	}
}

// LinkKindFor maps the shared-mode flag to a directive kind.
func LinkKindFor(shared bool) LinkKind {
	if shared {
		return LinkDynamic
	}
	return LinkStatic
}

// DiscoveredArtifact is a compiled library found in the output tree.
type DiscoveredArtifact struct {
	Path string
	Name string
}

// LibraryName derives the link name from an artifact file name:
// "libggml-base.a" → "ggml-base", "llama.lib" → "llama".
func LibraryName(file string) string {
	base := filepath.Base(file)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if name, ok := strings.CutPrefix(stem, libraryPrefix); ok && name != "" {
		return name
	}
	return stem
}

// LibDir is the install subdirectory holding the compiled libraries.
func LibDir(bc *BuildContext) string {
	return filepath.Join(bc.OutDir, "lib")
}

// DiscoverArtifacts lists files in dir matching pattern.
//
// An entry that cannot be read, including a dangling symlink, is logged
// as a warning and skipped; it never aborts the discovery. A missing dir
// yields no artifacts.
func DiscoverArtifacts(dir, pattern string, log *slog.Logger) []DiscoveredArtifact {
	var found []DiscoveredArtifact

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			warn(log, DiscoveryFailure(path, err))
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir {
				return fs.SkipDir
			}
			return nil
		}

		matched, matchErr := filepath.Match(pattern, d.Name())
		if matchErr != nil {
			warn(log, DiscoveryFailure(path, matchErr))
			return nil
		}
		if !matched {
			return nil
		}

		// The entry may be a symlink; only a readable regular target counts.
		info, statErr := os.Stat(path)
		if statErr == nil && !info.Mode().IsRegular() {
			statErr = errors.New("not a regular file")
		}
		if statErr != nil {
			warn(log, DiscoveryFailure(path, statErr))
			return nil
		}

		found = append(found, DiscoveredArtifact{Path: path, Name: LibraryName(path)})
		return nil
	})

	return found
}

// PlatformDirectives returns the system libraries and frameworks the
// target needs regardless of which artifacts were discovered.
//
// On legacy macOS targets the compiler runtime directory is probed; a
// failed probe is logged and skipped.
func PlatformDirectives(bc *BuildContext, runner Runner, log *slog.Logger) []Directive {
	var out []Directive

	switch bc.Platform {
	case PlatformMacOS:
		for _, fw := range macOSFrameworks {
			out = append(out, Framework(fw))
		}
		out = append(out, LinkLibrary("c++", LinkDynamic))

		if bc.IsLegacyMacOS() {
			if dir, ok := ProbeCompilerRuntimeDir(runner, log); ok {
				out = append(out, SearchPath(dir), LinkLibrary("clang_rt.osx", LinkStatic))
			}
		}
	case PlatformLinux:
		out = append(out, LinkLibrary("stdc++", LinkDynamic))
		if bc.IsGNU() {
			out = append(out, LinkLibrary("gomp", LinkDynamic))
		}
	}

	return out
}

// ProbeCompilerRuntimeDir asks clang for its library search directory and
// returns <dir>/lib/darwin when it exists. Any failure yields ok=false.
func ProbeCompilerRuntimeDir(runner Runner, log *slog.Logger) (string, bool) {
	out, err := runner.Output(nil, "clang", "--print-search-dirs")
	if err != nil {
		warn(log, DiscoveryFailure("clang --print-search-dirs", err))
		return "", false
	}

	for _, line := range strings.Split(out, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "libraries: =")
		if !ok {
			continue
		}
		first, _, _ := strings.Cut(rest, ":")
		dir := filepath.Join(first, "lib", "darwin")
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			return dir, true
		}
		warn(log, DiscoveryFailure(dir, errors.New("compiler runtime directory not found")))
		return "", false
	}

	logger(log).Debug("clang reported no library search directory")
	return "", false
}

// LinkPlanner discovers compiled artifacts and builds the LinkPlan.
type LinkPlanner struct {
	Runner Runner
	Logger *slog.Logger
}

// Plan builds the link plan for a completed native build.
//
// Search paths are only added for directories that exist, so every
// directive refers to something present at emission time.
func (lp *LinkPlanner) Plan(bc *BuildContext, driver *DriverResult) *LinkPlan {
	plan := &LinkPlan{}
	log := logger(lp.Logger)

	libDir := LibDir(bc)
	buildDir := BuildDir(bc)
	if driver != nil {
		libDir = filepath.Join(driver.InstallDir, "lib")
		buildDir = driver.BuildDir
	}

	for _, dir := range []string{libDir, buildDir} {
		if isDir(dir) {
			plan.Add(SearchPath(dir))
		} else {
			log.Debug("Search path missing, not emitted", "dir", dir)
		}
	}

	pattern := ArtifactPattern(bc.Platform, bc.SharedLibs)
	kind := LinkKindFor(bc.SharedLibs)
	log.Debug("Linking libraries", "dir", libDir, "pattern", pattern, "kind", kind)

	for _, artifact := range DiscoverArtifacts(libDir, pattern, log) {
		plan.Artifacts = append(plan.Artifacts, artifact)
		plan.Add(LinkLibrary(artifact.Name, kind))
	}

	for _, d := range PlatformDirectives(bc, lp.runner(), log) {
		plan.Add(d)
	}

	return plan
}

func (lp *LinkPlanner) runner() Runner {
	if lp.Runner == nil {
		return ShellRunner{}
	}
	return lp.Runner
}

// LinkStep plans the link, prints the directives and writes CgoFlagsFile.
type LinkStep struct {
	Planner *LinkPlanner
	Out     io.Writer
}

// Name returns the step name
func (s *LinkStep) Name() string {
	return "link"
}

// Run implements Step.
func (s *LinkStep) Run(_ context.Context, bc *BuildContext, result *BuildResult) error {
	plan := s.Planner.Plan(bc, result.Driver)
	result.Plan = plan

	out := s.Out
	if out == nil {
		out = os.Stdout
	}
	if err := plan.Emit(out); err != nil {
		return IOFailure("emit link directives", "stdout", err)
	}

	path := filepath.Join(bc.OutDir, CgoFlagsFile)
	if err := plan.WriteCgoFile(path, bc.Library.Package, bc.Platform); err != nil {
		return IOFailure("write cgo flags", path, err)
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func warn(log *slog.Logger, f *BuildFailure) {
	attrs := []any{"category", string(f.Category)}
	for k, v := range f.Context {
		attrs = append(attrs, k, v)
	}
	if f.Cause != nil {
		attrs = append(attrs, "error", f.Cause)
	}
	logger(log).Warn(f.Message, attrs...)
}
