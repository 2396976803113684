package llamasys

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names read by ResolveContext.
const (
	EnvTarget      = "TARGET"
	EnvOutDir      = "OUT_DIR"
	EnvProfile     = "PROFILE"
	EnvManifestDir = "MANIFEST_DIR"

	EnvLibProfile     = "LLAMA_LIB_PROFILE"
	EnvStaticCRT      = "LLAMA_STATIC_CRT"
	EnvSharedLibs     = "LLAMA_BUILD_SHARED_LIBS"
	EnvDebug          = "BUILD_DEBUG"
	EnvParallelLevel  = "CMAKE_BUILD_PARALLEL_LEVEL"
	EnvCmakeGenerator = "CMAKE_GENERATOR"
	EnvCC             = "CC"

	defaultLibProfile = "Release"
)

// LookupFunc resolves a variable name, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// EnvLookup layers the process environment over values loaded from a dotenv
// file. Process values win. An empty envFile means process environment only.
func EnvLookup(envFile string) (LookupFunc, error) {
	if envFile == "" {
		return os.LookupEnv, nil
	}

	fileVals, err := godotenv.Read(envFile)
	if err != nil {
		return nil, newFailure(CategoryConfig, "cannot load env file", err).WithContext("path", envFile)
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}, nil
}

// FeatureEnv returns the override variable for a feature,
// e.g. LLAMA_FEATURE_GPU_ACCELERATION.
func FeatureEnv(f Feature) string {
	return "LLAMA_FEATURE_" + strings.ToUpper(strings.ReplaceAll(string(f), "-", "_"))
}

// RequiredInputs are the variables without a default.
var RequiredInputs = []string{EnvTarget, EnvOutDir, EnvProfile, EnvManifestDir}

// RequireInputs checks that every required input is present and non-empty.
// It performs no I/O, so callers can run it before anything else.
func RequireInputs(lookup LookupFunc) error {
	for _, key := range RequiredInputs {
		if v, ok := lookup(key); !ok || strings.TrimSpace(v) == "" {
			return ConfigRequired(key)
		}
	}
	return nil
}

// ResolveContext builds the BuildContext for one invocation.
//
// Required inputs are checked first, before any other work, and a missing
// or malformed one returns a config BuildFailure. selected is the
// compile-time feature selection; a feature override variable wins over
// it when present. lib may be nil, in which case DefaultLibrary is used.
func ResolveContext(lookup LookupFunc, selected []Feature, lib *Library) (*BuildContext, error) {
	if err := RequireInputs(lookup); err != nil {
		return nil, err
	}
	target, _ := lookup(EnvTarget)
	outDir, _ := lookup(EnvOutDir)
	profileRaw, _ := lookup(EnvProfile)
	manifestDir, _ := lookup(EnvManifestDir)

	profile, err := parseProfile(profileRaw)
	if err != nil {
		return nil, err
	}

	if lib == nil {
		lib = DefaultLibrary()
	}

	features, err := resolveFeatures(lookup, selected)
	if err != nil {
		return nil, err
	}

	staticCRT, err := optionalBool(lookup, EnvStaticCRT, false)
	if err != nil {
		return nil, err
	}

	shared, err := optionalBool(lookup, EnvSharedLibs,
		features[FeatureGPUAcceleration] || features[FeatureDynamicLink])
	if err != nil {
		return nil, err
	}

	libProfile := defaultLibProfile
	if v, ok := lookup(EnvLibProfile); ok && v != "" {
		libProfile = v
	}

	parallelism := runtime.GOMAXPROCS(0)
	if v, ok := lookup(EnvParallelLevel); ok && v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			return nil, ConfigInvalid(EnvParallelLevel, v, "expected a positive integer")
		}
		parallelism = n
	}

	bc := &BuildContext{
		Target:      target,
		Platform:    PlatformForTarget(target),
		OutDir:      filepath.Clean(outDir),
		Profile:     profile,
		ManifestDir: filepath.Clean(manifestDir),
		LibProfile:  libProfile,
		StaticCRT:   staticCRT,
		SharedLibs:  shared,
		Debug:       debugEnabled(lookup),
		Parallelism: parallelism,
		Library:     lib,
		features:    features,
		childEnv: map[string]string{
			EnvParallelLevel: strconv.Itoa(parallelism),
		},
	}
	bc.TargetDir = filepath.Join(bc.ManifestDir, "target", string(profile))
	bc.SourceDir = filepath.Join(bc.ManifestDir, lib.Name)
	bc.StageDir = filepath.Join(bc.OutDir, lib.Name)

	if v, ok := lookup(EnvCmakeGenerator); ok {
		bc.Generator = v
	}
	if v, ok := lookup(EnvCC); ok {
		bc.CC = v
	}

	return bc, nil
}

// ParseFeatures validates CLI feature names.
func ParseFeatures(names []string) ([]Feature, error) {
	var out []Feature
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		f := Feature(name)
		if !isKnownFeature(f) {
			return nil, ConfigInvalid("--features", name, "unknown feature")
		}
		out = append(out, f)
	}
	return out, nil
}

func isKnownFeature(f Feature) bool {
	for _, known := range KnownFeatures {
		if f == known {
			return true
		}
	}
	return false
}

func parseProfile(v string) (Profile, error) {
	switch Profile(strings.ToLower(strings.TrimSpace(v))) {
	case ProfileDebug:
		return ProfileDebug, nil
	case ProfileRelease:
		return ProfileRelease, nil
	default:
		return "", ConfigInvalid(EnvProfile, v, `expected "debug" or "release"`)
	}
}

// resolveFeatures applies override > compile-time selection > default (off).
func resolveFeatures(lookup LookupFunc, selected []Feature) (map[Feature]bool, error) {
	features := make(map[Feature]bool, len(KnownFeatures))
	for _, f := range selected {
		features[f] = true
	}
	for _, f := range KnownFeatures {
		on, err := optionalBool(lookup, FeatureEnv(f), features[f])
		if err != nil {
			return nil, err
		}
		features[f] = on
	}
	return features, nil
}

func optionalBool(lookup LookupFunc, key string, def bool) (bool, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	b, err := parseBool(v)
	if err != nil {
		return false, ConfigInvalid(key, v, "expected a boolean")
	}
	return b, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no", "":
		return false, nil
	}
	return strconv.ParseBool(v)
}

// debugEnabled treats presence as on, empty value included, unless the
// value is an explicit false.
func debugEnabled(lookup LookupFunc) bool {
	v, ok := lookup(EnvDebug)
	if !ok {
		return false
	}
	if strings.TrimSpace(v) == "" {
		return true
	}
	on, err := parseBool(v)
	return err != nil || on
}
