// Package llamasys builds a vendored native library (llama.cpp by default)
// for a cgo consumer and generates its Go declaration surface.
//
// It runs once per build, before the consuming package compiles, and
// leaves behind everything cgo needs:
//
//   - OUT_DIR/bindings.go: cgo type aliases, enum constants and the list of
//     bound functions for every allow-listed symbol in the public headers
//   - OUT_DIR/cgo_flags.go: #cgo LDFLAGS for the compiled libraries
//   - cgo:link-* directive lines on stdout for other build tools
//   - in shared mode, hard links to the shared libraries next to the
//     build output, its deps directory and its examples directory
//
// # Basic Usage
//
//	lib, err := llamasys.LoadLibrary(filepath.Join(root, llamasys.ManifestFile))
//	bc, err := llamasys.ResolveContext(os.LookupEnv, features, lib)
//	result, err := llamasys.NewPipeline(llamasys.ShellRunner{}, logger, os.Stdout).Run(ctx, bc)
//
// # Architecture
//
// ResolveContext reads the environment once. Every step then receives
// the same immutable BuildContext:
//
//	Pipeline
//	├── StageStep        (copy vendored tree, skip if present)
//	├── BindingGenerator (C headers → bindings.go)
//	├── CmakeBuilder     (configure, build, install)
//	├── LinkStep         (discover artifacts → LinkPlan)
//	└── DeployStep       (hard-link shared libraries)
//
// Steps run strictly in order on one goroutine. The only parallelism is
// the CMAKE_BUILD_PARALLEL_LEVEL hint handed to the CMake child process.
//
// # Platform Support
//
// Linux, other Unix targets, macOS (including Intel targets that need the
// clang runtime linked) and Windows. Header parsing needs a GCC-compatible
// compiler (clang, cc or gcc).
package llamasys
