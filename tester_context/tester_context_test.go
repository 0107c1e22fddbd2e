package tester_context

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bootcs-dev/compiler-tester/internal"
	"github.com/bootcs-dev/compiler-tester/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// suite creates a tests directory and a fake compiler, with an optional compiler-tester.yml.
func suite(t *testing.T, yml string) map[string]string {
	root := t.TempDir()
	compiler := filepath.Join(root, "cc")
	require.NoError(t, os.WriteFile(compiler, []byte("#!/bin/sh\n"), 0755))

	testsDir := filepath.Join(root, "tests")
	require.NoError(t, os.Mkdir(testsDir, 0755))
	if yml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(testsDir, SuiteConfigFileName), []byte(yml), 0644))
	}

	return map[string]string{
		EnvCompiler: compiler,
		EnvTestsDir: testsDir,
	}
}

func assertUserError(t *testing.T, err error, contains string) {
	t.Helper()

	userError, ok := err.(*internal.UserError)
	if !assert.True(t, ok, "expected a UserError, got %v", err) {
		t.FailNow()
	}
	assert.Contains(t, userError.Message, contains)
}

// TestDefaults checks the values used when neither env nor compiler-tester.yml say anything
func TestDefaults(t *testing.T) {
	env := suite(t, "")

	context, err := GetTesterContext(env)

	if !assert.NoError(t, err) {
		t.FailNow()
	}

	assert.Equal(t, env[EnvCompiler], context.CompilerPath)
	assert.Equal(t, env[EnvTestsDir], context.TestsDir)
	assert.Equal(t, ".test", context.Extension)
	assert.Equal(t, "//", context.CommentMarker)
	assert.Equal(t, toolchain.DefaultBanner, context.Banner)
	assert.Equal(t, toolchain.DefaultAssembler, context.AssemblerPath)
	assert.Equal(t, toolchain.DefaultLinker, context.LinkerPath)
	assert.Equal(t, toolchain.DefaultEntryPointPattern, context.EntryPoint.String())
	assert.Equal(t, time.Duration(0), context.Timeout)
	assert.True(t, context.AbortOnToolchainError)
	assert.False(t, context.IsDebug)
	assert.False(t, context.RunInPty)
	assert.False(t, context.ShowSummary)
	assert.False(t, context.IsQuiet)
	assert.Empty(t, context.ArtifactsDir)
}

// TestCompilerPathIsMadeAbsolute checks that a relative compiler path survives a change of
// working directory
func TestCompilerPathIsMadeAbsolute(t *testing.T) {
	env := suite(t, "")
	t.Chdir(filepath.Dir(env[EnvCompiler]))
	env[EnvCompiler] = "./cc"

	context, err := GetTesterContext(env)

	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(context.CompilerPath))
	assert.Equal(t, "cc", filepath.Base(context.CompilerPath))
}

// TestToolPathsAreMadeAbsolute checks that tools and the artifacts directory given relative
// to the working directory are still found once tools run inside a per-case directory
func TestToolPathsAreMadeAbsolute(t *testing.T) {
	env := suite(t, "")
	root := filepath.Dir(env[EnvCompiler])
	t.Chdir(root)
	env[EnvAssembler] = "./tools/llc"
	env[EnvLinker] = filepath.Join("bin", "ld")
	env[EnvArtifactsDir] = "work"

	context, err := GetTesterContext(env)

	require.NoError(t, err)
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "tools", "llc"), context.AssemblerPath)
	assert.Equal(t, filepath.Join(wd, "bin", "ld"), context.LinkerPath)
	assert.Equal(t, filepath.Join(wd, "work"), context.ArtifactsDir)
	assert.Equal(t, context.AssemblerPath, context.Toolchain().AssemblerPath)
}

// TestBareToolNamesUsePath checks that tool names without a separator are left for the PATH lookup
func TestBareToolNamesUsePath(t *testing.T) {
	env := suite(t, "assembler: llc-18\n")
	env[EnvLinker] = "ld.lld"

	context, err := GetTesterContext(env)

	require.NoError(t, err)
	assert.Equal(t, "llc-18", context.AssemblerPath)
	assert.Equal(t, "ld.lld", context.LinkerPath)
}

// TestSuiteConfig checks that compiler-tester.yml is read from the tests directory
func TestSuiteConfig(t *testing.T) {
	env := suite(t, `
debug: true
extension: t
comment_marker: "#"
banner: DEBUG BUILD
assembler: llc-18
linker: ld.lld
entry_point_pattern: 'fn\s+main'
timeout: 5s
run_in_pty: true
abort_on_toolchain_error: false
artifacts_dir: /tmp/ct
`)

	context, err := GetTesterContext(env)

	require.NoError(t, err)
	assert.True(t, context.IsDebug)
	assert.Equal(t, ".t", context.Extension)
	assert.Equal(t, "#", context.CommentMarker)
	assert.Equal(t, "DEBUG BUILD", context.Banner)
	assert.Equal(t, "llc-18", context.AssemblerPath)
	assert.Equal(t, "ld.lld", context.LinkerPath)
	assert.True(t, context.EntryPoint.MatchString("fn main() {}"))
	assert.Equal(t, 5*time.Second, context.Timeout)
	assert.True(t, context.RunInPty)
	assert.False(t, context.AbortOnToolchainError)
	assert.Equal(t, "/tmp/ct", context.ArtifactsDir)
}

// TestEnvOverridesSuiteConfig checks the precedence between env and compiler-tester.yml
func TestEnvOverridesSuiteConfig(t *testing.T) {
	env := suite(t, "debug: true\nlinker: ld.lld\ntimeout: 5s\n")
	env[EnvDebug] = "false"
	env[EnvLinker] = "gcc"
	env[EnvTimeout] = "250ms"
	env[EnvSummary] = "1"

	context, err := GetTesterContext(env)

	require.NoError(t, err)
	assert.False(t, context.IsDebug)
	assert.Equal(t, "gcc", context.LinkerPath)
	assert.Equal(t, 250*time.Millisecond, context.Timeout)
	assert.True(t, context.ShowSummary)
}

func TestToolchainAndParseOptions(t *testing.T) {
	env := suite(t, "comment_marker: ';;'\n")
	env[EnvTimeout] = "1s"

	context, err := GetTesterContext(env)
	require.NoError(t, err)

	tc := context.Toolchain()
	assert.Equal(t, context.CompilerPath, tc.CompilerPath)
	assert.Equal(t, time.Second, tc.Timeout)
	assert.True(t, tc.HasEntryPoint("let main: () -> i32 = {}"))
	assert.Equal(t, ";;", context.ParseOptions().CommentMarker)
}

// ============== User errors ==============

func TestMissingCompiler(t *testing.T) {
	env := suite(t, "")
	delete(env, EnvCompiler)

	_, err := GetTesterContext(env)

	assertUserError(t, err, "No compiler binary given")
}

func TestCompilerNotFound(t *testing.T) {
	env := suite(t, "")
	env[EnvCompiler] = filepath.Join(t.TempDir(), "nope")

	_, err := GetTesterContext(env)

	assertUserError(t, err, "not found")
}

func TestTestsDirIsAFile(t *testing.T) {
	env := suite(t, "")
	env[EnvTestsDir] = env[EnvCompiler]

	_, err := GetTesterContext(env)

	assertUserError(t, err, "is not a directory")
}

func TestTestsDirMissing(t *testing.T) {
	env := suite(t, "")
	env[EnvTestsDir] = filepath.Join(t.TempDir(), "missing")

	_, err := GetTesterContext(env)

	assertUserError(t, err, "Can't read tests directory")
}

func TestInvalidSettings(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		contains string
	}{
		{"bad regexp", EnvEntryPointPattern, "let (main", "Invalid entry point pattern"},
		{"bad timeout", EnvTimeout, "ten seconds", "Invalid timeout"},
		{"negative timeout", EnvTimeout, "-1s", "Invalid timeout"},
		{"bad bool", EnvDebug, "yes please", EnvDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := suite(t, "")
			env[tt.key] = tt.value

			_, err := GetTesterContext(env)

			assertUserError(t, err, tt.contains)
		})
	}
}

func TestDebugAndQuiet(t *testing.T) {
	env := suite(t, "debug: true\n")
	env[EnvQuiet] = "true"

	_, err := GetTesterContext(env)

	assertUserError(t, err, "can't be used together")
}

func TestInvalidSuiteConfig(t *testing.T) {
	env := suite(t, "debug: [not, a, bool]\n")

	_, err := GetTesterContext(env)

	assertUserError(t, err, "Error parsing compiler-tester.yml")
}

func TestUnknownSuiteConfigKey(t *testing.T) {
	env := suite(t, "linkr: ld\n")

	_, err := GetTesterContext(env)

	assertUserError(t, err, "Error parsing compiler-tester.yml")
}
