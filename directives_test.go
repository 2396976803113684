package llamasys

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectiveString(t *testing.T) {
	assert.Equal(t, "cgo:link-search=/out/lib", SearchPath("/out/lib").String())
	assert.Equal(t, "cgo:link-lib=static=llama", LinkLibrary("llama", LinkStatic).String())
	assert.Equal(t, "cgo:link-lib=dylib=stdc++", LinkLibrary("stdc++", LinkDynamic).String())
	assert.Equal(t, "cgo:link-lib=framework=Metal", Framework("Metal").String())
}

func TestLinkPlanAddDeduplicates(t *testing.T) {
	plan := &LinkPlan{}
	plan.Add(SearchPath("/out/lib"))
	plan.Add(LinkLibrary("llama", LinkStatic))
	plan.Add(SearchPath("/out/lib"))
	plan.Add(LinkLibrary("llama", LinkStatic))
	plan.Add(LinkLibrary("llama", LinkDynamic))

	assert.Equal(t, []Directive{
		SearchPath("/out/lib"),
		LinkLibrary("llama", LinkStatic),
		LinkLibrary("llama", LinkDynamic),
	}, plan.Directives)

	var out bytes.Buffer
	require.NoError(t, plan.Emit(&out))
	assert.Equal(t, "cgo:link-search=/out/lib\ncgo:link-lib=static=llama\ncgo:link-lib=dylib=llama\n", out.String())
}

func TestLDFlags(t *testing.T) {
	staticPlan := &LinkPlan{}
	for _, d := range []Directive{
		SearchPath("/out/lib"),
		LinkLibrary("ggml-base", LinkStatic),
		LinkLibrary("ggml-cpu", LinkStatic),
		LinkLibrary("ggml", LinkStatic),
		LinkLibrary("llama", LinkStatic),
		LinkLibrary("stdc++", LinkDynamic),
		LinkLibrary("gomp", LinkDynamic),
	} {
		staticPlan.Add(d)
	}

	testCases := []struct {
		name     string
		plan     *LinkPlan
		platform Platform
		want     []string
	}{
		{
			name:     "linux static archives are grouped",
			plan:     staticPlan,
			platform: PlatformLinux,
			want: []string{
				"-L/out/lib",
				"-Wl,-Bstatic", "-Wl,--start-group",
				"-lggml-base", "-lggml-cpu", "-lggml", "-lllama",
				"-Wl,--end-group", "-Wl,-Bdynamic",
				"-lstdc++", "-lgomp",
			},
		},
		{
			name: "trailing static run is closed",
			plan: &LinkPlan{Directives: []Directive{
				LinkLibrary("ggml", LinkStatic),
				LinkLibrary("llama", LinkStatic),
			}},
			platform: PlatformUnix,
			want: []string{
				"-Wl,-Bstatic", "-Wl,--start-group",
				"-lggml", "-lllama",
				"-Wl,--end-group", "-Wl,-Bdynamic",
			},
		},
		{
			name: "shared libraries are not grouped",
			plan: &LinkPlan{Directives: []Directive{
				SearchPath("/out/my lib"),
				LinkLibrary("llama", LinkDynamic),
			}},
			platform: PlatformLinux,
			want:     []string{`"-L/out/my lib"`, "-lllama"},
		},
		{
			name: "macos frameworks",
			plan: &LinkPlan{Directives: []Directive{
				LinkLibrary("llama", LinkStatic),
				Framework("Metal"),
				LinkLibrary("c++", LinkDynamic),
			}},
			platform: PlatformMacOS,
			want:     []string{"-lllama", "-framework", "Metal", "-lc++"},
		},
		{
			name:     "windows has no static bracket",
			plan:     &LinkPlan{Directives: []Directive{LinkLibrary("llama", LinkStatic)}},
			platform: PlatformWindows,
			want:     []string{"-lllama"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.plan.LDFlags(tc.platform))
		})
	}
}

func TestWriteCgoFile(t *testing.T) {
	plan := &LinkPlan{}
	plan.Add(SearchPath("/out/lib"))
	plan.Add(LinkLibrary("ggml", LinkStatic))
	plan.Add(LinkLibrary("llama", LinkStatic))

	path := filepath.Join(t.TempDir(), "gen", CgoFlagsFile)
	require.NoError(t, plan.WriteCgoFile(path, "llama", PlatformLinux))

	out := readFile(t, path)
	assert.Contains(t, out, "// Code generated by llama-sys from the link plan. DO NOT EDIT.")
	assert.Contains(t, out, "package llama")
	assert.Contains(t, out, "#cgo LDFLAGS: -L/out/lib -Wl,-Bstatic -Wl,--start-group -lggml -lllama -Wl,--end-group -Wl,-Bdynamic\n")
}
