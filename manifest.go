package llamasys

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the optional per-project library descriptor, relative to the manifest directory.
const ManifestFile = "llama-sys.yaml"

// Library describes the vendored native library being built.
type Library struct {
	// Name is the vendored directory name under the manifest dir, and the
	// stage directory name under the output dir.
	Name string `yaml:"name"`

	// Header is the binding root header, relative to the manifest dir.
	Header string `yaml:"header"`

	// IncludeDirs are header search directories relative to the staged tree.
	IncludeDirs []string `yaml:"include_dirs"`

	// Prefixes is the symbol allow-list.
	Prefixes []string `yaml:"prefixes"`

	// Package is the Go package clause for generated files.
	Package string `yaml:"package"`

	// DisabledTargets are CMake options always forced OFF.
	DisabledTargets []string `yaml:"disabled_targets"`

	GPUOption   string `yaml:"gpu_option"`
	MetalOption string `yaml:"metal_option"`
}

// DefaultLibrary returns the llama.cpp descriptor.
func DefaultLibrary() *Library {
	return &Library{
		Name:        "llama.cpp",
		Header:      "wrapper.h",
		IncludeDirs: []string{"include", "ggml/include"},
		Prefixes:    []string{"llama_", "ggml_"},
		Package:     "llama",
		DisabledTargets: []string{
			"LLAMA_BUILD_TESTS",
			"LLAMA_BUILD_EXAMPLES",
			"LLAMA_BUILD_TOOLS",
			"LLAMA_BUILD_SERVER",
		},
		GPUOption:   "GGML_CUDA",
		MetalOption: "GGML_METAL",
	}
}

// LoadLibrary reads a descriptor from path and fills unset fields from
// DefaultLibrary. A missing file yields the defaults.
func LoadLibrary(path string) (*Library, error) {
	lib := DefaultLibrary()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return lib, nil
	}
	if err != nil {
		return nil, newFailure(CategoryConfig, "cannot read library manifest", err).WithContext("path", path)
	}

	var override Library
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&override); err != nil && !errors.Is(err, io.EOF) {
		return nil, newFailure(CategoryConfig, fmt.Sprintf("invalid library manifest %s", path), err)
	}

	lib.merge(&override)
	return lib, nil
}

func (l *Library) merge(o *Library) {
	if o.Name != "" {
		l.Name = o.Name
	}
	if o.Header != "" {
		l.Header = o.Header
	}
	if len(o.IncludeDirs) > 0 {
		l.IncludeDirs = o.IncludeDirs
	}
	if len(o.Prefixes) > 0 {
		l.Prefixes = o.Prefixes
	}
	if o.Package != "" {
		l.Package = o.Package
	}
	if len(o.DisabledTargets) > 0 {
		l.DisabledTargets = o.DisabledTargets
	}
	if o.GPUOption != "" {
		l.GPUOption = o.GPUOption
	}
	if o.MetalOption != "" {
		l.MetalOption = o.MetalOption
	}
}

// AllowPatterns turns the prefix allow-list into anchored regex patterns for MatchesPattern.
func (l *Library) AllowPatterns() []string {
	patterns := make([]string, 0, len(l.Prefixes))
	for _, p := range l.Prefixes {
		patterns = append(patterns, "^"+regexp.QuoteMeta(p))
	}
	return patterns
}
