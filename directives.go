package llamasys

import (
	"bytes"
	"fmt"
	"go/format"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CgoFlagsFile is the generated linker flag file under the output directory.
const CgoFlagsFile = "cgo_flags.go"

// DirectivePrefix starts every directive line written to stdout.
const DirectivePrefix = "cgo:"

// DirectiveKind distinguishes the three kinds of link directive.
type DirectiveKind int

const (
	DirectiveSearchPath DirectiveKind = iota
	DirectiveLibrary
	DirectiveFramework
)

// LinkKind is how a library is linked.
type LinkKind string

const (
	LinkStatic  LinkKind = "static"
	LinkDynamic LinkKind = "dylib"
)

// Directive is one linker instruction.
type Directive struct {
	Kind DirectiveKind
	Path string   // search path directives
	Name string   // library or framework name
	Link LinkKind // library directives
}

// SearchPath returns a search-path directive.
func SearchPath(dir string) Directive {
	return Directive{Kind: DirectiveSearchPath, Path: dir}
}

// LinkLibrary returns a library link directive.
func LinkLibrary(name string, kind LinkKind) Directive {
	return Directive{Kind: DirectiveLibrary, Name: name, Link: kind}
}

// Framework returns a macOS framework link directive.
func Framework(name string) Directive {
	return Directive{Kind: DirectiveFramework, Name: name}
}

// String renders the directive as a build-log line:
//
//	cgo:link-search=/out/lib
//	cgo:link-lib=static=llama
//	cgo:link-lib=dylib=stdc++
//	cgo:link-lib=framework=Metal
func (d Directive) String() string {
	switch d.Kind {
	case DirectiveSearchPath:
		return DirectivePrefix + "link-search=" + d.Path
	case DirectiveFramework:
		return DirectivePrefix + "link-lib=framework=" + d.Name
	default:
		return fmt.Sprintf("%slink-lib=%s=%s", DirectivePrefix, d.Link, d.Name)
	}
}

// LinkPlan is an ordered, duplicate-free list of directives.
type LinkPlan struct {
	Directives []Directive
	Artifacts  []DiscoveredArtifact
}

// Add appends d unless an identical directive is already present.
func (p *LinkPlan) Add(d Directive) {
	for _, existing := range p.Directives {
		if existing == d {
			return
		}
	}
	p.Directives = append(p.Directives, d)
}

// Emit writes every directive line to w.
func (p *LinkPlan) Emit(w io.Writer) error {
	for _, d := range p.Directives {
		if _, err := fmt.Fprintln(w, d.String()); err != nil {
			return err
		}
	}
	return nil
}

// LDFlags converts the plan into linker flags for a #cgo LDFLAGS line.
//
// On ELF targets, consecutive static libraries are wrapped in
// -Wl,-Bstatic / -Wl,-Bdynamic so the archive wins over a shared object
// of the same name. Inside that bracket the archives form one
// --start-group / --end-group: discovery order is alphabetical, and
// libllama.a needs symbols from libggml*.a listed before it. Other
// linkers pick by file availability and resolve archives in any order.
func (p *LinkPlan) LDFlags(platform Platform) []string {
	elf := platform == PlatformLinux || platform == PlatformUnix

	var flags []string
	inStatic := false
	for _, d := range p.Directives {
		wantStatic := elf && d.Kind == DirectiveLibrary && d.Link == LinkStatic
		if wantStatic != inStatic && d.Kind != DirectiveSearchPath {
			if wantStatic {
				flags = append(flags, "-Wl,-Bstatic", "-Wl,--start-group")
			} else {
				flags = append(flags, "-Wl,--end-group", "-Wl,-Bdynamic")
			}
			inStatic = wantStatic
		}

		switch d.Kind {
		case DirectiveSearchPath:
			flags = append(flags, cgoFlagArg("-L"+d.Path))
		case DirectiveFramework:
			flags = append(flags, "-framework", d.Name)
		default:
			flags = append(flags, "-l"+d.Name)
		}
	}
	if inStatic {
		flags = append(flags, "-Wl,--end-group", "-Wl,-Bdynamic")
	}
	return flags
}

// WriteCgoFile writes the plan as a generated Go file carrying #cgo LDFLAGS.
func (p *LinkPlan) WriteCgoFile(path, pkg string, platform Platform) error {
	var b bytes.Buffer
	writeGeneratedHeader(&b, pkg, "the link plan")
	b.WriteString("/*\n")
	if flags := p.LDFlags(platform); len(flags) > 0 {
		b.WriteString("#cgo LDFLAGS: " + strings.Join(flags, " ") + "\n")
	}
	b.WriteString("*/\nimport \"C\"\n")

	src, err := format.Source(b.Bytes())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, src, 0o644)
}
