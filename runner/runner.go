package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bootcs-dev/compiler-tester/executable"
	"github.com/bootcs-dev/compiler-tester/logger"
)

// Runner provides a chained API for running one tool invocation and checking its result.
// Once a step fails, every later step is a no-op and Error() returns the first failure.
//
// Usage:
//
//	r := runner.Run(dir, compiler, "prog.src", "-o", "prog.bc").Execute().StdoutPrefix("Debug mode enabled")
//	if r.Error() != nil { ... }
//
//	runner.Run(dir, "./prog").Execute().Exit(42)
type Runner struct {
	workDir string
	command string
	args    []string
	env     []string
	timeout time.Duration
	usePty  bool
	logger  *logger.Logger
	tracker ProcessTracker
	result  *executable.ExecutableResult
	err     error
}

// ProcessTracker is told about the process group of every running invocation, so that it can
// be killed if the tester itself is interrupted.
type ProcessTracker interface {
	TrackProcess(pid int)
	ReleaseProcess(pid int)
}

// Run creates a new Runner. Nothing is executed until Execute is called.
func Run(workDir string, command string, args ...string) *Runner {
	return &Runner{
		workDir: workDir,
		command: command,
		args:    args,
	}
}

// WithLogger sets the logger used for debug output of the invocation
func (r *Runner) WithLogger(l *logger.Logger) *Runner {
	r.logger = l
	return r
}

// WithTimeout sets a wall-clock limit. Zero (the default) means no limit.
func (r *Runner) WithTimeout(t time.Duration) *Runner {
	r.timeout = t
	return r
}

// WithEnv adds environment variables (KEY=value)
func (r *Runner) WithEnv(env ...string) *Runner {
	r.env = append(r.env, env...)
	return r
}

// WithProcessTracker registers the running process with tracker until it has exited
func (r *Runner) WithProcessTracker(tracker ProcessTracker) *Runner {
	r.tracker = tracker
	return r
}

// WithPty runs the program attached to a pseudo-terminal
func (r *Runner) WithPty() *Runner {
	r.usePty = true
	return r
}

// CommandLine returns the command as it would be typed in a shell, for diagnostics.
func (r *Runner) CommandLine() string {
	return strings.TrimSpace(r.command + " " + strings.Join(r.args, " "))
}

func (r *Runner) createExecutable() *executable.Executable {
	cmdPath := r.command

	// Relative paths with a separator, or names of files present in workDir, are local
	// programs. Anything else is a system command resolved through PATH.
	isLocalExecutable := !filepath.IsAbs(cmdPath) &&
		(strings.Contains(cmdPath, "/") || fileExistsInDir(r.workDir, cmdPath))

	if isLocalExecutable {
		cmdPath = filepath.Join(r.workDir, cmdPath)
	}

	var e *executable.Executable
	if r.logger != nil && r.logger.IsDebug() {
		e = executable.NewVerboseExecutable(cmdPath, func(line string) {
			r.logger.Debugf("  %s", line)
		})
	} else {
		e = executable.NewExecutable(cmdPath)
	}

	e.WorkingDir = r.workDir
	e.Env = r.env
	e.TimeoutInMilliseconds = int(r.timeout.Milliseconds())
	e.ShouldUsePty = r.usePty

	return e
}

func fileExistsInDir(dir, name string) bool {
	info, err := os.Stat(filepath.Join(dir, name))
	return err == nil && !info.IsDir()
}

// Execute runs the program with no input and waits for it to exit
func (r *Runner) Execute() *Runner {
	if r.err != nil {
		return r
	}

	if r.logger != nil {
		r.logger.Debugf("$ %s", r.CommandLine())
	}

	e := r.createExecutable()
	if err := e.Start(r.args...); err != nil {
		r.result = &executable.ExecutableResult{}
		r.err = err
		return r
	}

	if r.tracker != nil {
		pid := e.Pid()
		r.tracker.TrackProcess(pid)
		defer r.tracker.ReleaseProcess(pid)
	}

	result, err := e.Wait()
	r.result = &result
	r.err = err

	return r
}

// StdoutPrefix checks that stdout begins with prefix
func (r *Runner) StdoutPrefix(prefix string) *Runner {
	if !r.checkable() {
		return r
	}

	actual := normalizeOutput(string(r.result.Stdout))
	if !strings.HasPrefix(actual, prefix) {
		r.err = &Mismatch{
			Expected: prefix,
			Actual:   firstLine(actual),
			Message:  fmt.Sprintf("expected output to begin with %q", prefix),
		}
	}

	return r
}

// Exit checks the exit code
func (r *Runner) Exit(code int) *Runner {
	if !r.checkable() {
		return r
	}

	if r.result.ExitCode != code {
		r.err = &ExitCodeMismatch{
			Expected: code,
			Actual:   r.result.ExitCode,
			Stdout:   normalizeOutput(string(r.result.Stdout)),
			Stderr:   normalizeOutput(string(r.result.Stderr)),
		}
	}

	return r
}

func (r *Runner) checkable() bool {
	if r.err != nil {
		return false
	}
	if r.result == nil {
		r.err = fmt.Errorf("program not yet executed")
		return false
	}
	return true
}

// Error returns the first error of the chain
func (r *Runner) Error() error {
	return r.err
}

// Result returns the execution result, nil before Execute
func (r *Runner) Result() *executable.ExecutableResult {
	return r.result
}

// GetStdout returns the normalized stdout
func (r *Runner) GetStdout() string {
	if r.result == nil {
		return ""
	}
	return normalizeOutput(string(r.result.Stdout))
}

// GetStderr returns the normalized stderr
func (r *Runner) GetStderr() string {
	if r.result == nil {
		return ""
	}
	return normalizeOutput(string(r.result.Stderr))
}

// ExitCode returns the exit code, -1 before Execute
func (r *Runner) ExitCode() int {
	if r.result == nil {
		return -1
	}
	return r.result.ExitCode
}

// OutputLines splits tool output into lines, dropping the trailing empty line.
func OutputLines(output string) []string {
	output = strings.TrimRight(normalizeOutput(output), "\n")
	if output == "" {
		return nil
	}
	return strings.Split(output, "\n")
}

// normalizeOutput turns the \r\n produced under a PTY back into \n
func normalizeOutput(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Mismatch is returned when the actual output does not match the expectation
type Mismatch struct {
	Expected string
	Actual   string
	Message  string
}

func (m *Mismatch) Error() string {
	if m.Message != "" {
		return m.Message
	}
	return fmt.Sprintf("expected %q, got %q", m.Expected, m.Actual)
}

// ExitCodeMismatch is returned when the exit code differs from the expected one
type ExitCodeMismatch struct {
	Expected int
	Actual   int
	Stdout   string
	Stderr   string
}

func (e *ExitCodeMismatch) Error() string {
	msg := fmt.Sprintf("expected exit code %d, got %d", e.Expected, e.Actual)
	if e.Stderr != "" {
		msg += fmt.Sprintf("\nStderr: %s", e.Stderr)
	}
	return msg
}
