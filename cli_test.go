package compiler_tester

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bootcs-dev/compiler-tester/tester_context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, env map[string]string, args ...string) (int, string, string) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	exitCode := run(args, env, stdout, stderr)
	return exitCode, stdout.String(), stderr.String()
}

// ============== Arguments ==============

func TestRun_WrongArgumentCount(t *testing.T) {
	tests := [][]string{
		{},
		{"./compiler"},
		{"./compiler", "tests", "extra"},
	}

	for _, args := range tests {
		exitCode, stdout, stderr := runCommand(t, map[string]string{}, args...)

		assert.Equal(t, 1, exitCode, "args: %v", args)
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, "accepts 2 arg(s)")
		assert.Contains(t, stderr, "Usage:")
		assert.Contains(t, stderr, "<compiler_binary_path> <tests_directory>")
	}
}

func TestRun_Help(t *testing.T) {
	exitCode, stdout, _ := runCommand(t, map[string]string{}, "--help")

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout, "END_HEADER")
}

func TestRun_PositionalArguments(t *testing.T) {
	s := newSuite(t, undefinedSymbolSuite)
	env := map[string]string{tester_context.EnvArtifactsDir: t.TempDir()}

	exitCode, stdout, _ := runCommand(t, env,
		"--assembler", s.stubs.Assembler,
		"--linker", s.stubs.TrapLinker,
		s.stubs.Compiler, s.testsDir,
	)

	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "1/1\n", stdout)
}

// ============== Settings ==============

func TestRun_FlagsOverrideConfigFile(t *testing.T) {
	s := newSuite(t, mixedSuite)
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("linker: "+s.stubs.TrapLinker+"\nassembler: "+s.stubs.Assembler+"\n"), 0644))
	env := map[string]string{tester_context.EnvArtifactsDir: t.TempDir()}

	exitCode, stdout, stderr := runCommand(t, env,
		"--config", configFile,
		"--linker", s.stubs.Linker,
		"--summary",
		s.stubs.Compiler, s.testsDir,
	)

	assert.Equal(t, 1, exitCode)
	assert.Equal(t, "2/4\n", stdout)
	assert.Contains(t, stderr, "Using config file: "+configFile)
	assert.Contains(t, stderr, "Outcome")
	assert.False(t, s.stubs.LinkerWasCalled())
}

func TestRun_ConfigFileSettings(t *testing.T) {
	s := newSuite(t, `
-- tests/only.t --
# ret 3
# END_HEADER
let main: () -> i32 = { return 3; }
-- tests/ignored.test --
this file would be malformed
`)
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
extension: .t
comment_marker: "#"
assembler: `+s.stubs.Assembler+`
linker: `+s.stubs.Linker+`
`), 0644))
	env := map[string]string{tester_context.EnvArtifactsDir: t.TempDir()}

	exitCode, stdout, _ := runCommand(t, env, "--config", configFile, s.stubs.Compiler, s.testsDir)

	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "1/1\n", stdout)
}

func TestRun_MissingExplicitConfigFile(t *testing.T) {
	s := newSuite(t, undefinedSymbolSuite)

	exitCode, stdout, stderr := runCommand(t, map[string]string{},
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		s.stubs.Compiler, s.testsDir,
	)

	assert.Equal(t, 1, exitCode)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "can't read config file")
}

func TestRun_SuiteConfigFile(t *testing.T) {
	s := newSuite(t, undefinedSymbolSuite)
	suiteConfig := "assembler: " + s.stubs.Assembler + "\nlinker: " + s.stubs.TrapLinker + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(s.testsDir, tester_context.SuiteConfigFileName), []byte(suiteConfig), 0644))
	env := map[string]string{tester_context.EnvArtifactsDir: t.TempDir()}

	exitCode, stdout, _ := runCommand(t, env, s.stubs.Compiler, s.testsDir)

	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "1/1\n", stdout)
}

func TestMergeArgsIntoEnv(t *testing.T) {
	env := map[string]string{
		"PATH":                     "/usr/bin",
		tester_context.EnvLinker:   "from-env",
		tester_context.EnvCompiler: "from-env",
	}

	merged := MergeArgsIntoEnv(
		[]string{"./cc", "tests"},
		map[string]string{"linker": "from-flag", "run_in_pty": "true"},
		env,
	)

	assert.Equal(t, "/usr/bin", merged["PATH"])
	assert.Equal(t, "./cc", merged[tester_context.EnvCompiler])
	assert.Equal(t, "tests", merged[tester_context.EnvTestsDir])
	assert.Equal(t, "from-flag", merged[tester_context.EnvLinker])
	assert.Equal(t, "true", merged[tester_context.EnvRunInPty])
	assert.Equal(t, "from-env", env[tester_context.EnvCompiler], "input map must not be modified")
}
