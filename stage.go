package llamasys

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/otiai10/copy"
)

// Stage copies the vendored tree at src into dst.
//
// Staging is idempotent by existence: if dst exists in any form it is
// left untouched and Stage returns (false, nil). Contents are never
// compared or refreshed. A copy that fails partway leaves the partial
// tree in place; a later run will then see dst as already staged.
//
// Stage is not safe for concurrent use against the same dst.
func Stage(src, dst string) (bool, error) {
	if _, err := os.Lstat(dst); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, IOFailure("stat stage directory", dst, err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return false, IOFailure("stat vendored source", src, err)
	}
	if !info.IsDir() {
		return false, IOFailure("stage vendored source", src, errors.New("not a directory"))
	}

	opts := copy.Options{
		OnSymlink: func(string) copy.SymlinkAction {
			return copy.Shallow
		},
		PreserveTimes: true,
	}
	if err := copy.Copy(src, dst, opts); err != nil {
		return false, IOFailure("copy vendored source", dst, err)
	}

	return true, nil
}

// StageStep runs Stage for the vendored library.
type StageStep struct {
	Logger *slog.Logger
}

// Name returns the step name
func (s *StageStep) Name() string {
	return "stage"
}

// Run implements Step.
func (s *StageStep) Run(_ context.Context, bc *BuildContext, result *BuildResult) error {
	staged, err := Stage(bc.SourceDir, bc.StageDir)
	if err != nil {
		return err
	}

	result.StageDir = bc.StageDir
	result.Staged = staged
	if staged {
		logger(s.Logger).Debug("Staged vendored source", "src", bc.SourceDir, "dst", bc.StageDir)
	} else {
		logger(s.Logger).Debug("Stage directory exists, skipping copy", "dst", bc.StageDir)
	}
	return nil
}
