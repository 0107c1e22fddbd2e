package tester_context

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bootcs-dev/compiler-tester/internal"
	"github.com/bootcs-dev/compiler-tester/test_file"
	"github.com/bootcs-dev/compiler-tester/toolchain"
	"gopkg.in/yaml.v2"
)

// Environment keys understood by GetTesterContext. The command line fills them in from its
// flags and arguments, so they are also the names of the configuration keys.
const (
	EnvCompiler              = "COMPILER_TESTER_COMPILER"
	EnvTestsDir              = "COMPILER_TESTER_TESTS_DIR"
	EnvDebug                 = "COMPILER_TESTER_DEBUG"
	EnvExtension             = "COMPILER_TESTER_EXTENSION"
	EnvCommentMarker         = "COMPILER_TESTER_COMMENT_MARKER"
	EnvBanner                = "COMPILER_TESTER_BANNER"
	EnvAssembler             = "COMPILER_TESTER_ASSEMBLER"
	EnvLinker                = "COMPILER_TESTER_LINKER"
	EnvEntryPointPattern     = "COMPILER_TESTER_ENTRY_POINT_PATTERN"
	EnvTimeout               = "COMPILER_TESTER_TIMEOUT"
	EnvRunInPty              = "COMPILER_TESTER_RUN_IN_PTY"
	EnvAbortOnToolchainError = "COMPILER_TESTER_ABORT_ON_TOOLCHAIN_ERROR"
	EnvArtifactsDir          = "COMPILER_TESTER_ARTIFACTS_DIR"
	EnvSummary               = "COMPILER_TESTER_SUMMARY"
	EnvQuiet                 = "COMPILER_TESTER_QUIET"
)

// SuiteConfigFileName is the optional per-suite config file, looked up in the tests directory.
const SuiteConfigFileName = "compiler-tester.yml"

// DefaultExtension selects the test files of a suite.
const DefaultExtension = ".test"

// TesterContext holds everything one run needs, resolved from the environment map and the
// suite's compiler-tester.yml.
type TesterContext struct {
	// CompilerPath is the absolute path to the compiler under test
	CompilerPath string

	// TestsDir is the directory scanned for test files
	TestsDir string

	IsDebug     bool
	ShowSummary bool

	// IsQuiet silences everything but the score and toolchain errors
	IsQuiet bool

	// Extension selects test files, e.g. ".test"
	Extension     string
	CommentMarker string

	Banner        string
	AssemblerPath string
	LinkerPath    string
	EntryPoint    *regexp.Regexp

	// Timeout applies to every subprocess. Zero means no limit.
	Timeout time.Duration

	RunInPty              bool
	AbortOnToolchainError bool

	// ArtifactsDir is where per-case directories are created. Empty means os.TempDir().
	ArtifactsDir string
}

type yamlConfig struct {
	Debug                 *bool  `yaml:"debug"`
	Extension             string `yaml:"extension"`
	CommentMarker         string `yaml:"comment_marker"`
	Banner                string `yaml:"banner"`
	Assembler             string `yaml:"assembler"`
	Linker                string `yaml:"linker"`
	EntryPointPattern     string `yaml:"entry_point_pattern"`
	Timeout               string `yaml:"timeout"`
	RunInPty              *bool  `yaml:"run_in_pty"`
	AbortOnToolchainError *bool  `yaml:"abort_on_toolchain_error"`
	ArtifactsDir          string `yaml:"artifacts_dir"`
}

// Toolchain returns the toolchain described by the context.
func (c TesterContext) Toolchain() toolchain.Toolchain {
	return toolchain.Toolchain{
		CompilerPath:  c.CompilerPath,
		AssemblerPath: c.AssemblerPath,
		LinkerPath:    c.LinkerPath,
		Banner:        c.Banner,
		EntryPoint:    c.EntryPoint,
		Timeout:       c.Timeout,
	}
}

// ParseOptions returns the header protocol options described by the context.
func (c TesterContext) ParseOptions() test_file.ParseOptions {
	return test_file.ParseOptions{CommentMarker: c.CommentMarker}
}

// GetTesterContext resolves a TesterContext. Values in env win over the suite's
// compiler-tester.yml, which wins over the defaults. Every problem the user can fix is returned
// as an *internal.UserError.
func GetTesterContext(env map[string]string) (TesterContext, error) {
	compilerPath, err := resolveCompilerPath(env[EnvCompiler])
	if err != nil {
		return TesterContext{}, err
	}

	testsDir, err := resolveTestsDir(env[EnvTestsDir])
	if err != nil {
		return TesterContext{}, err
	}

	config, err := readFromYAML(filepath.Join(testsDir, SuiteConfigFileName))
	if err != nil {
		return TesterContext{}, err
	}

	context := TesterContext{
		CompilerPath:          compilerPath,
		TestsDir:              testsDir,
		Extension:             firstNonEmpty(env[EnvExtension], config.Extension, DefaultExtension),
		CommentMarker:         firstNonEmpty(env[EnvCommentMarker], config.CommentMarker, test_file.DefaultCommentMarker),
		Banner:                firstNonEmpty(env[EnvBanner], config.Banner, toolchain.DefaultBanner),
		AssemblerPath:         firstNonEmpty(env[EnvAssembler], config.Assembler, toolchain.DefaultAssembler),
		LinkerPath:            firstNonEmpty(env[EnvLinker], config.Linker, toolchain.DefaultLinker),
		ArtifactsDir:          firstNonEmpty(env[EnvArtifactsDir], config.ArtifactsDir),
		AbortOnToolchainError: true,
	}

	if context.IsDebug, err = boolSetting(env, EnvDebug, config.Debug, false); err != nil {
		return TesterContext{}, err
	}
	if context.ShowSummary, err = boolSetting(env, EnvSummary, nil, false); err != nil {
		return TesterContext{}, err
	}
	if context.IsQuiet, err = boolSetting(env, EnvQuiet, nil, false); err != nil {
		return TesterContext{}, err
	}
	if context.IsQuiet && context.IsDebug {
		return TesterContext{}, &internal.UserError{Message: "Debug and quiet modes can't be used together"}
	}
	if context.RunInPty, err = boolSetting(env, EnvRunInPty, config.RunInPty, false); err != nil {
		return TesterContext{}, err
	}
	if context.AbortOnToolchainError, err = boolSetting(env, EnvAbortOnToolchainError, config.AbortOnToolchainError, true); err != nil {
		return TesterContext{}, err
	}

	pattern := firstNonEmpty(env[EnvEntryPointPattern], config.EntryPointPattern, toolchain.DefaultEntryPointPattern)
	if context.EntryPoint, err = regexp.Compile(pattern); err != nil {
		return TesterContext{}, &internal.UserError{
			Message: fmt.Sprintf("Invalid entry point pattern %q: %v", pattern, err),
		}
	}

	if timeout := firstNonEmpty(env[EnvTimeout], config.Timeout); timeout != "" {
		if context.Timeout, err = time.ParseDuration(timeout); err != nil || context.Timeout < 0 {
			return TesterContext{}, &internal.UserError{
				Message: fmt.Sprintf("Invalid timeout %q, expected a duration such as 10s", timeout),
			}
		}
	}

	if context.AssemblerPath, err = resolveToolPath("assembler", context.AssemblerPath); err != nil {
		return TesterContext{}, err
	}
	if context.LinkerPath, err = resolveToolPath("linker", context.LinkerPath); err != nil {
		return TesterContext{}, err
	}
	if context.ArtifactsDir != "" {
		if context.ArtifactsDir, err = absolutePath("artifacts directory", context.ArtifactsDir); err != nil {
			return TesterContext{}, err
		}
	}

	if context.Extension[0] != '.' {
		context.Extension = "." + context.Extension
	}

	return context, nil
}

func resolveCompilerPath(compilerPath string) (string, error) {
	if compilerPath == "" {
		return "", &internal.UserError{Message: "No compiler binary given"}
	}

	absolutePath, err := filepath.Abs(compilerPath)
	if err != nil {
		return "", &internal.UserError{Message: fmt.Sprintf("Invalid compiler path %s: %v", compilerPath, err)}
	}

	info, err := os.Stat(absolutePath)
	if err != nil {
		return "", &internal.UserError{Message: fmt.Sprintf("Compiler binary %s not found", compilerPath)}
	}
	if info.IsDir() {
		return "", &internal.UserError{Message: fmt.Sprintf("Compiler binary %s is a directory", compilerPath)}
	}

	return absolutePath, nil
}

// resolveToolPath anchors a tool given as a path to the working directory, since tools run
// from inside the per-case artifacts directory. A bare name is left for the PATH lookup.
func resolveToolPath(tool, path string) (string, error) {
	if !strings.ContainsRune(path, filepath.Separator) {
		return path, nil
	}
	return absolutePath(tool, path)
}

func absolutePath(what, path string) (string, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", &internal.UserError{Message: fmt.Sprintf("Invalid %s path %s: %v", what, path, err)}
	}
	return absolute, nil
}

func resolveTestsDir(testsDir string) (string, error) {
	if testsDir == "" {
		return "", &internal.UserError{Message: "No tests directory given"}
	}

	info, err := os.Stat(testsDir)
	if err != nil {
		return "", &internal.UserError{Message: fmt.Sprintf("Can't read tests directory %s: %v", testsDir, err)}
	}
	if !info.IsDir() {
		return "", &internal.UserError{Message: fmt.Sprintf("%s is not a directory", testsDir)}
	}

	return testsDir, nil
}

func boolSetting(env map[string]string, key string, fromYAML *bool, defaultValue bool) (bool, error) {
	if value, ok := env[key]; ok && value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return false, &internal.UserError{
				Message: fmt.Sprintf("%s must be true or false, got %q", key, value),
			}
		}
		return parsed, nil
	}

	if fromYAML != nil {
		return *fromYAML, nil
	}

	return defaultValue, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func readFromYAML(configPath string) (yamlConfig, error) {
	c := &yamlConfig{}

	fileContents, err := os.ReadFile(configPath)
	if err != nil {
		// compiler-tester.yml is optional
		if os.IsNotExist(err) {
			return yamlConfig{}, nil
		}
		return yamlConfig{}, &internal.UserError{
			Message: fmt.Sprintf("Can't read %s file: %v", SuiteConfigFileName, err),
		}
	}

	if err := yaml.UnmarshalStrict(fileContents, c); err != nil {
		return yamlConfig{}, &internal.UserError{
			Message: fmt.Sprintf("Error parsing %s: %s", SuiteConfigFileName, err),
		}
	}

	return *c, nil
}
