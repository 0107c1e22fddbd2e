package executable

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0755))
	return path
}

func TestRun_CapturesStreamsAndExitCode(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "tool.sh", "#!/bin/sh\necho out\necho err >&2\nexit 3\n")

	result, err := NewExecutable(script).Run()

	require.NoError(t, err)
	assert.Equal(t, "out\n", string(result.Stdout))
	assert.Equal(t, "err\n", string(result.Stderr))
	assert.Equal(t, 3, result.ExitCode)
}

func TestRun_PassesArgsAndWorkingDir(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "args.sh", "#!/bin/sh\npwd\necho \"$1-$2\"\n")

	e := NewExecutable(script)
	e.WorkingDir = dir
	result, err := e.Run("a", "b")

	require.NoError(t, err)
	resolvedDir, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, string(result.Stdout), resolvedDir)
	assert.Contains(t, string(result.Stdout), "a-b")
}

func TestRun_SystemCommand(t *testing.T) {
	result, err := NewExecutable("echo").Run("hello")

	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(result.Stdout))
	assert.Equal(t, 0, result.ExitCode)
}

func TestRun_NotFound(t *testing.T) {
	_, err := NewExecutable("./definitely/not/here").Run()
	assert.Error(t, err)

	_, err = NewExecutable("nonexistent_command_12345").Run()
	assert.Error(t, err)
}

func TestRun_Timeout(t *testing.T) {
	e := NewExecutable("sleep")
	e.TimeoutInMilliseconds = 100

	start := time.Now()
	_, err := e.Run("10")

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_Pty(t *testing.T) {
	e := NewExecutable("echo")
	e.ShouldUsePty = true

	result, err := e.Run("test")

	require.NoError(t, err)
	assert.Contains(t, string(result.Stdout), "test")
	assert.Equal(t, 0, result.ExitCode)
}

func TestRun_VerboseRelaysLines(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "chatty.sh", "#!/bin/sh\necho one\necho two >&2\n")

	var lines []string
	_, err := NewVerboseExecutable(script, func(line string) { lines = append(lines, line) }).Run()

	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestStart_Twice(t *testing.T) {
	e := NewExecutable("sleep")
	require.NoError(t, e.Start("5"))
	defer func() {
		e.Kill()
		_, _ = e.Wait()
	}()

	assert.Error(t, e.Start("5"))
}

func TestWait_NotStarted(t *testing.T) {
	_, err := NewExecutable("echo").Wait()
	assert.Error(t, err)
}
