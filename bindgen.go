package llamasys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/format"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// BindingsFile is the generated declaration file name under the output directory.
const BindingsFile = "bindings.go"

// DeclKind is the kind of a scanned C declaration.
type DeclKind int

const (
	DeclFunction DeclKind = iota
	DeclTypedef
	DeclStruct
	DeclUnion
	DeclEnum
	DeclEnumerator
)

// Declaration is one top-level C declaration found in the headers.
type Declaration struct {
	Kind DeclKind
	Name string
	// Owner is the enum tag or typedef an enumerator belongs to.
	Owner string
}

// BindingGenerator produces the cgo declaration surface for the vendored headers.
//
// The C compiler does the parsing: a syntax-only pass catches missing
// files, unresolvable includes and syntax errors, and a preprocessing
// pass yields the full translation unit that ScanDeclarations walks.
// Any failure is a fatal header-parse error.
type BindingGenerator struct {
	Runner   Runner
	Logger   *slog.Logger
	Compiler string // overrides compiler discovery when set
}

var compilerRequirement = ToolRequirement{
	Name:         "clang",
	Alternatives: []string{"cc", "gcc"},
	Purpose:      "C preprocessor for binding generation",
}

// Name returns the step name
func (g *BindingGenerator) Name() string {
	return "bindgen"
}

// RequiredTools returns the C compiler used to parse headers.
func (g *BindingGenerator) RequiredTools() []ToolRequirement {
	if g.Compiler != "" {
		return []ToolRequirement{{Name: g.Compiler, Purpose: compilerRequirement.Purpose}}
	}
	return []ToolRequirement{compilerRequirement}
}

// CheckTools verifies a C compiler is available
func (g *BindingGenerator) CheckTools() error {
	return CheckRequiredTools(g.RequiredTools())
}

// Run implements Step.
func (g *BindingGenerator) Run(ctx context.Context, bc *BuildContext, result *BuildResult) error {
	path, err := g.Generate(ctx, bc)
	if err != nil {
		return err
	}
	result.BindingsPath = path
	return nil
}

// Generate parses the root header and writes BindingsFile into bc.OutDir.
func (g *BindingGenerator) Generate(_ context.Context, bc *BuildContext) (string, error) {
	header := bc.Library.Header
	if !filepath.IsAbs(header) {
		header = filepath.Join(bc.ManifestDir, header)
	}
	if _, err := os.Stat(header); err != nil {
		return "", HeaderParseFailure(header, err)
	}

	compiler := g.Compiler
	if compiler == "" {
		var ok bool
		if compiler, ok = ResolveTool(compilerRequirement); !ok {
			return "", HeaderParseFailure(header, errors.New("no C compiler found in PATH"))
		}
	}

	includeDirs := make([]string, 0, len(bc.Library.IncludeDirs))
	for _, dir := range bc.Library.IncludeDirs {
		includeDirs = append(includeDirs, filepath.Join(bc.StageDir, dir))
	}
	includeArgs := make([]string, 0, len(includeDirs))
	for _, dir := range includeDirs {
		includeArgs = append(includeArgs, "-I"+dir)
	}

	runner := g.runner()

	var stderr bytes.Buffer
	syntaxArgs := append(append([]string{"-fsyntax-only", "-x", "c"}, includeArgs...), header)
	if err := runner.Exec(nil, io.Discard, &stderr, compiler, syntaxArgs...); err != nil {
		return "", HeaderParseFailure(header, BuildError("header syntax check", splitLines(stderr.String()), err))
	}

	preArgs := append(append([]string{"-E", "-P", "-x", "c"}, includeArgs...), header)
	preprocessed, err := runner.Output(nil, compiler, preArgs...)
	if err != nil {
		return "", HeaderParseFailure(header, err)
	}

	decls := FilterDeclarations(ScanDeclarations(preprocessed), bc.Library.AllowPatterns())
	logger(g.Logger).Debug("Scanned headers", "header", header, "declarations", len(decls))

	src, err := RenderBindings(bc.Library.Package, header, includeDirs, decls)
	if err != nil {
		return "", HeaderParseFailure(header, err)
	}

	if err := os.MkdirAll(bc.OutDir, 0o755); err != nil {
		return "", IOFailure("create output directory", bc.OutDir, err)
	}
	path := filepath.Join(bc.OutDir, BindingsFile)
	if err := os.WriteFile(path, src, 0o644); err != nil {
		return "", IOFailure("write bindings", path, err)
	}

	logger(g.Logger).Debug("Bindings generated", "path", path)
	return path, nil
}

func (g *BindingGenerator) runner() Runner {
	if g.Runner == nil {
		return ShellRunner{}
	}
	return g.Runner
}

// FilterDeclarations keeps declarations whose name matches one of patterns.
// Enumerators follow their owning enum.
func FilterDeclarations(decls []Declaration, patterns []string) []Declaration {
	var kept []Declaration
	for _, d := range decls {
		name := d.Name
		if d.Kind == DeclEnumerator && d.Owner != "" {
			name = d.Owner
		}
		if MatchesPattern(name, patterns...) {
			kept = append(kept, d)
		}
	}
	return kept
}

// RenderBindings emits the gofmt'd cgo declaration file.
//
// Types become aliases so the C struct types keep Go's built-in
// structural equality. Enumerators keep their C names without an enum
// type prefix.
func RenderBindings(pkg, header string, includeDirs []string, decls []Declaration) ([]byte, error) {
	typedefs := map[string]bool{}
	for _, d := range decls {
		if d.Kind == DeclTypedef {
			typedefs[d.Name] = true
		}
	}

	var types, consts, funcs []string
	seenType := map[string]bool{}
	for _, d := range decls {
		switch d.Kind {
		case DeclFunction:
			funcs = append(funcs, d.Name)
		case DeclEnumerator:
			consts = append(consts, fmt.Sprintf("%s = C.%s", d.Name, d.Name))
		default:
			if seenType[d.Name] {
				continue
			}
			if d.Kind != DeclTypedef && typedefs[d.Name] {
				continue
			}
			seenType[d.Name] = true
			types = append(types, fmt.Sprintf("%s = C.%s", d.Name, cgoTypeName(d)))
		}
	}
	slices.Sort(funcs)
	funcs = slices.Compact(funcs)

	var b bytes.Buffer
	writeGeneratedHeader(&b, pkg, filepath.Base(header))
	b.WriteString("/*\n")
	if len(includeDirs) > 0 {
		b.WriteString("#cgo CFLAGS:")
		for _, dir := range includeDirs {
			b.WriteString(" " + cgoFlagArg("-I"+dir))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "#include %q\n", header)
	b.WriteString("*/\nimport \"C\"\n\n")

	if len(types) > 0 {
		b.WriteString("type (\n")
		for _, t := range types {
			b.WriteString("\t" + t + "\n")
		}
		b.WriteString(")\n\n")
	}

	if len(consts) > 0 {
		b.WriteString("const (\n")
		for _, c := range consts {
			b.WriteString("\t" + c + "\n")
		}
		b.WriteString(")\n\n")
	}

	b.WriteString("// Functions lists the C entry points covered by the allow-list.\n")
	b.WriteString("var Functions = []string{\n")
	for _, f := range funcs {
		fmt.Fprintf(&b, "\t%q,\n", f)
	}
	b.WriteString("}\n")

	return format.Source(b.Bytes())
}

func cgoTypeName(d Declaration) string {
	switch d.Kind {
	case DeclStruct:
		return "struct_" + d.Name
	case DeclUnion:
		return "union_" + d.Name
	case DeclEnum:
		return "enum_" + d.Name
	default:
		return d.Name
	}
}

func writeGeneratedHeader(b *bytes.Buffer, pkg, source string) {
	fmt.Fprintf(b, "// Code generated by llama-sys from %s. DO NOT EDIT.\n\n", source)
	fmt.Fprintf(b, "package %s\n\n", pkg)
}

// cgoFlagArg quotes a flag for a #cgo line when it contains spaces.
func cgoFlagArg(arg string) string {
	if strings.ContainsAny(arg, " \t") {
		return `"` + arg + `"`
	}
	return arg
}

// ScanDeclarations walks preprocessed C source and returns its top-level
// declarations in source order, without duplicates.
//
// It understands what public C headers contain after preprocessing:
// prototypes, typedefs (including function pointer typedefs), struct,
// union and enum tags, and enumerators. Attributes and inline function
// bodies are skipped. Object declarations are ignored.
func ScanDeclarations(src string) []Declaration {
	var (
		decls []Declaration
		seen  = map[Declaration]bool{}
	)
	emit := func(d Declaration) {
		if d.Name == "" || seen[d] {
			return
		}
		seen[d] = true
		decls = append(decls, d)
	}

	for _, stmt := range splitStatements(stripNoise(tokenize(src))) {
		classify(stmt, emit)
	}
	return decls
}

type token struct {
	text  string
	ident bool
}

func (t token) is(s string) bool { return t.text == s }

func tokenize(src string) []token {
	var toks []token
	lineStart := true

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\n':
			lineStart = true
			i++
			continue
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			i++
			continue
		case c == '#' && lineStart:
			// leftover directive such as #pragma
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		}
		lineStart = false

		switch {
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				i = len(src)
			} else {
				i += end + 4
			}
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{text: src[i:j], ident: true})
			i = j
		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(src) && (isIdentPart(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{text: src[i:j]})
			i = j
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			j = min(j+1, len(src))
			toks = append(toks, token{text: src[i:j]})
			i = j
		default:
			toks = append(toks, token{text: string(c)})
			i++
		}
	}
	return toks
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

var (
	attributeWords = map[string]bool{
		"__attribute__": true, "__attribute": true, "__declspec": true,
		"__asm__": true, "__asm": true, "asm": true,
	}
	noiseWords = map[string]bool{
		"__extension__": true, "__inline": true, "__inline__": true,
		"__restrict": true, "__restrict__": true,
		"__cdecl": true, "__stdcall": true, "__fastcall": true,
	}
)

// stripNoise drops compiler extensions that carry no declaration structure.
func stripNoise(toks []token) []token {
	out := make([]token, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if noiseWords[t.text] {
			continue
		}
		if attributeWords[t.text] && i+1 < len(toks) && toks[i+1].is("(") {
			i = skipBalanced(toks, i+1, "(", ")")
			continue
		}
		out = append(out, t)
	}
	return out
}

// skipBalanced returns the index of the closer matching the opener at start.
func skipBalanced(toks []token, start int, open, close string) int {
	depth := 0
	for i := start; i < len(toks); i++ {
		switch toks[i].text {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(toks) - 1
}

// splitStatements cuts the token stream at top-level semicolons.
// Function definitions (a body following a closing parenthesis) are dropped.
func splitStatements(toks []token) [][]token {
	var (
		stmts [][]token
		cur   []token
		depth int
	)
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.is("{") && depth == 0 && len(cur) > 0 && cur[len(cur)-1].is(")") && !cur[0].is("typedef"):
			i = skipBalanced(toks, i, "{", "}")
			cur = nil
			continue
		case t.is("{"):
			depth++
		case t.is("}"):
			depth--
		case t.is(";") && depth == 0:
			if len(cur) > 0 {
				stmts = append(stmts, cur)
			}
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	return stmts
}

func classify(stmt []token, emit func(Declaration)) {
	isTypedef := stmt[0].is("typedef")
	isStatic := false
	for _, t := range stmt {
		if t.is("static") {
			isStatic = true
			break
		}
	}

	tagOwner := scanTags(stmt, emit)

	switch {
	case isTypedef:
		name := typedefName(stmt)
		emit(Declaration{Kind: DeclTypedef, Name: name})
		if tagOwner.anonymousEnum != nil {
			for _, e := range tagOwner.anonymousEnum {
				emit(Declaration{Kind: DeclEnumerator, Name: e, Owner: name})
			}
		}
	case !isStatic:
		if name := functionName(stmt); name != "" {
			emit(Declaration{Kind: DeclFunction, Name: name})
		}
	}
}

type tagScan struct {
	anonymousEnum []string
}

// scanTags emits struct/union/enum tags defined or forward-declared in stmt,
// plus enumerators of tagged enums. Tags defined inside a struct body have
// file scope in C and are emitted too. Enumerators of a top-level anonymous
// enum are returned so a surrounding typedef can own them; those of a
// nested anonymous enum have no owner.
func scanTags(stmt []token, emit func(Declaration)) tagScan {
	var res tagScan
	kinds := map[string]DeclKind{"struct": DeclStruct, "union": DeclUnion, "enum": DeclEnum}

	depth := 0
	for i := 0; i < len(stmt); i++ {
		t := stmt[i]
		switch {
		case t.is("{"):
			depth++
			continue
		case t.is("}"):
			depth--
			continue
		}
		kind, ok := kinds[t.text]
		if !ok {
			continue
		}

		var tag string
		next := i + 1
		if next < len(stmt) && stmt[next].ident {
			tag = stmt[next].text
			next++
		}
		hasBody := next < len(stmt) && stmt[next].is("{")
		forward := tag != "" && next == len(stmt) && i == 0

		if tag != "" && (hasBody || forward) {
			emit(Declaration{Kind: kind, Name: tag})
		}
		if kind == DeclEnum && hasBody {
			end := skipBalanced(stmt, next, "{", "}")
			names := enumerators(stmt[next+1 : end])
			switch {
			case tag != "":
				for _, e := range names {
					emit(Declaration{Kind: DeclEnumerator, Name: e, Owner: tag})
				}
			case depth > 0:
				for _, e := range names {
					emit(Declaration{Kind: DeclEnumerator, Name: e})
				}
			default:
				res.anonymousEnum = append(res.anonymousEnum, names...)
			}
			i = end
		}
	}
	return res
}

func enumerators(body []token) []string {
	var names []string
	expectName := true
	depth := 0
	for _, t := range body {
		switch {
		case t.is("(") || t.is("["):
			depth++
		case t.is(")") || t.is("]"):
			depth--
		case t.is(",") && depth == 0:
			expectName = true
		case expectName && t.ident:
			names = append(names, t.text)
			expectName = false
		}
	}
	return names
}

// typedefName finds the declared name of a typedef statement.
func typedefName(stmt []token) string {
	// function pointer: ( * name )
	depth := 0
	for i := 0; i+3 < len(stmt); i++ {
		switch {
		case stmt[i].is("{"):
			depth++
		case stmt[i].is("}"):
			depth--
		}
		if depth == 0 && stmt[i].is("(") && stmt[i+1].is("*") && stmt[i+2].ident && stmt[i+3].is(")") {
			return stmt[i+2].text
		}
	}

	var name string
	depth = 0
	for _, t := range stmt {
		switch {
		case t.is("{") || t.is("[") || t.is("("):
			depth++
		case t.is("}") || t.is("]") || t.is(")"):
			depth--
		case depth == 0 && t.ident:
			name = t.text
		}
	}
	return name
}

// functionName returns the identifier directly before the first top-level
// parameter list, or "" when stmt is not a prototype. A function returning
// a function pointer, void (*name(int))(int), is matched on ( * name (.
func functionName(stmt []token) string {
	depth := 0
	for i, t := range stmt {
		switch {
		case t.is("{"):
			depth++
		case t.is("}"):
			depth--
		case t.is("=") && depth == 0:
			return ""
		case t.is("(") && depth == 0:
			if i > 0 && stmt[i-1].ident && !isKeyword(stmt[i-1].text) {
				return stmt[i-1].text
			}
			if i+3 < len(stmt) && stmt[i+1].is("*") && stmt[i+2].ident && stmt[i+3].is("(") {
				return stmt[i+2].text
			}
			return ""
		}
	}
	return ""
}

func isKeyword(s string) bool {
	switch s {
	case "void", "int", "char", "short", "long", "float", "double", "signed", "unsigned",
		"const", "volatile", "struct", "union", "enum", "extern", "static", "typedef",
		"sizeof", "_Bool", "_Alignas", "_Static_assert", "_Noreturn":
		return true
	}
	return false
}
