package llamasys

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// SharedLibraryPattern returns the glob for runtime-loaded libraries.
func SharedLibraryPattern(platform Platform) string {
	switch platform {
	case PlatformWindows:
		return "*.dll"
	case PlatformMacOS:
		return "*.dylib"
	default:
		return "*.so"
	}
}

// SharedLibraryDir is where the install step puts runtime libraries:
// bin on Windows (next to executables), lib elsewhere.
func SharedLibraryDir(bc *BuildContext) string {
	if bc.Platform == PlatformWindows {
		return filepath.Join(bc.OutDir, "bin")
	}
	return LibDir(bc)
}

// DeploymentTargets returns the directories that receive shared libraries:
// the target dir, its deps dir used by test binaries, and its examples dir
// when one exists.
func DeploymentTargets(bc *BuildContext) []string {
	targets := []string{
		bc.TargetDir,
		filepath.Join(bc.TargetDir, "deps"),
	}

	examples := filepath.Join(bc.TargetDir, "examples")
	if isDir(examples) {
		targets = append(targets, examples)
	}

	return uniqueStrings(targets)
}

// Deploy hard-links every shared library into each deployment target.
//
// It is a no-op unless bc.SharedLibs is set. A destination file that
// already exists is left untouched and counts as deployed. A failed link
// is fatal: a missing runtime library would otherwise surface only at
// program load time. Returns the paths that were newly linked.
func Deploy(bc *BuildContext, log *slog.Logger) ([]string, error) {
	if !bc.SharedLibs {
		return nil, nil
	}

	srcDir := SharedLibraryDir(bc)
	pattern := SharedLibraryPattern(bc.Platform)
	libs := DiscoverArtifacts(srcDir, pattern, log)
	if len(libs) == 0 {
		logger(log).Debug("No shared libraries to deploy", "dir", srcDir, "pattern", pattern)
		return nil, nil
	}

	var deployed []string
	for _, dest := range DeploymentTargets(bc) {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return deployed, IOFailure("create deployment directory", dest, err)
		}

		for _, lib := range libs {
			target := filepath.Join(dest, filepath.Base(lib.Path))

			if _, err := os.Lstat(target); err == nil {
				logger(log).Debug("Already deployed", "path", target)
				continue
			} else if !errors.Is(err, fs.ErrNotExist) {
				return deployed, IOFailure("stat deployed library", target, err)
			}

			if err := os.Link(lib.Path, target); err != nil {
				return deployed, IOFailure("hard link shared library", target, err)
			}
			deployed = append(deployed, target)
			logger(log).Debug("Deployed shared library", "src", lib.Path, "dst", target)
		}
	}

	return deployed, nil
}

// DeployStep runs Deploy after the link plan is emitted.
type DeployStep struct {
	Logger *slog.Logger
}

// Name returns the step name
func (s *DeployStep) Name() string {
	return "deploy"
}

// Run implements Step.
func (s *DeployStep) Run(_ context.Context, bc *BuildContext, result *BuildResult) error {
	deployed, err := Deploy(bc, s.Logger)
	result.Deployed = deployed
	return err
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	var result []string

	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}

	return result
}
