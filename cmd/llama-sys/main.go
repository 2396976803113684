package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	llamasys "github.com/contriboss/llama-sys-go"
)

var CLI struct {
	EnvFile  string   `help:"Load build variables from a dotenv file (process environment wins)" type:"path"`
	Features []string `short:"F" help:"Compile-time features to enable (gpu-acceleration, dynamic-link)" sep:","`
	Manifest string   `help:"Library manifest file (default: $MANIFEST_DIR/llama-sys.yaml)" type:"path"`
	Verbose  bool     `short:"v" help:"Enable verbose logging"`

	Build struct{} `cmd:"" default:"1" help:"Stage, generate bindings, build, link and deploy the native library"`
	Plan  struct{} `cmd:"" help:"Print the link plan for an existing build without compiling"`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("llama-sys"),
		kong.Description("Build a vendored native library for a cgo package."),
	)

	lookup, err := llamasys.EnvLookup(CLI.EnvFile)
	if err != nil {
		fail(slog.Default(), err)
	}

	bc, err := resolve(lookup)
	if err != nil {
		fail(slog.Default(), err)
	}

	logLevel := slog.LevelInfo
	if CLI.Verbose || bc.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Debug("Resolved build context", "context", bc)

	switch kctx.Command() {
	case "build":
		p := llamasys.NewPipeline(llamasys.ShellRunner{}, logger, os.Stdout)
		result, err := p.Run(context.Background(), bc)
		if err != nil {
			fail(logger, err)
		}
		logger.Info("Build complete",
			"bindings", result.BindingsPath,
			"libraries", len(result.Plan.Artifacts),
			"deployed", len(result.Deployed))
	case "plan":
		planner := &llamasys.LinkPlanner{Runner: llamasys.ShellRunner{}, Logger: logger}
		plan := planner.Plan(bc, nil)
		if err := plan.Emit(os.Stdout); err != nil {
			fail(logger, err)
		}
	default:
		kctx.FatalIfErrorf(fmt.Errorf("unknown command %q", kctx.Command()))
	}
}

func resolve(lookup llamasys.LookupFunc) (*llamasys.BuildContext, error) {
	if err := llamasys.RequireInputs(lookup); err != nil {
		return nil, err
	}

	features, err := llamasys.ParseFeatures(CLI.Features)
	if err != nil {
		return nil, err
	}

	manifestPath := CLI.Manifest
	if manifestPath == "" {
		if dir, ok := lookup(llamasys.EnvManifestDir); ok && dir != "" {
			manifestPath = filepath.Join(dir, llamasys.ManifestFile)
		}
	}

	lib := llamasys.DefaultLibrary()
	if manifestPath != "" {
		if lib, err = llamasys.LoadLibrary(manifestPath); err != nil {
			return nil, err
		}
	}

	return llamasys.ResolveContext(lookup, features, lib)
}

func fail(logger *slog.Logger, err error) {
	logger.Error("Build failed", "error", err)
	os.Exit(llamasys.ExitCodeFor(err))
}
