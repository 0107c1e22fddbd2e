package executable

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ErrTimeout is returned by Wait/Run when the process outlived TimeoutInMilliseconds.
var ErrTimeout = errors.New("execution timed out")

// Executable represents a program that can be run, one invocation at a time.
//
// Tools of the toolchain (compiler, assembler, linker) and the binaries they produce are all
// driven through an Executable. A non-zero exit status is not an error: it is reported in
// ExecutableResult.ExitCode. Errors are reserved for "could not run it at all" and timeouts.
type Executable struct {
	Path       string
	WorkingDir string

	// Env is appended to the tester's own environment.
	Env []string

	// TimeoutInMilliseconds kills the process group once elapsed. Zero waits forever.
	TimeoutInMilliseconds int

	// ShouldUsePty attaches the process to a pseudo-terminal. Stdout and stderr are merged
	// into ExecutableResult.Stdout in this mode.
	ShouldUsePty bool

	loggerFunc func(string)

	cmd      *exec.Cmd
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
	ptmx     *os.File
	readDone chan struct{}
}

// ExecutableResult holds the result of an executable run
type ExecutableResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// NewExecutable returns an Executable
func NewExecutable(path string) *Executable {
	return &Executable{Path: path}
}

// NewVerboseExecutable returns an Executable that relays every output line to loggerFunc
func NewVerboseExecutable(path string, loggerFunc func(string)) *Executable {
	return &Executable{Path: path, loggerFunc: loggerFunc}
}

func (e *Executable) isRunning() bool {
	return e.cmd != nil
}

// Pid returns the process id of the running process, which is also its process group id.
// Zero when nothing is running.
func (e *Executable) Pid() int {
	if !e.isRunning() || e.cmd.Process == nil {
		return 0
	}
	return e.cmd.Process.Pid
}

// Start starts the process without waiting for it to exit.
func (e *Executable) Start(args ...string) error {
	if e.isRunning() {
		return fmt.Errorf("process already in progress: %s", e.Path)
	}

	absolutePath, err := resolveAbsolutePath(e.Path)
	if err != nil {
		return err
	}

	cmd := exec.Command(absolutePath, args...)
	cmd.Dir = e.WorkingDir
	cmd.Env = append(os.Environ(), e.Env...)

	e.stdout = bytes.NewBuffer(nil)
	e.stderr = bytes.NewBuffer(nil)

	if e.ShouldUsePty {
		// pty.Start puts the child in its own session, so its pid is also its process group.
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Path, err)
		}

		e.ptmx = ptmx
		e.readDone = make(chan struct{})
		go func() {
			// Reading the master fails with EIO once the child side is closed.
			_, _ = io.Copy(e.stdout, ptmx)
			close(e.readDone)
		}()
	} else {
		cmd.Stdout = e.stdout
		cmd.Stderr = e.stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("%s: %w", e.Path, err)
		}
	}

	e.cmd = cmd
	return nil
}

// Run starts the process and waits for it to exit.
func (e *Executable) Run(args ...string) (ExecutableResult, error) {
	if err := e.Start(args...); err != nil {
		return ExecutableResult{}, err
	}

	return e.Wait()
}

// Wait waits for the running process, killing it if the timeout elapses first.
func (e *Executable) Wait() (ExecutableResult, error) {
	if !e.isRunning() {
		return ExecutableResult{}, fmt.Errorf("process not started: %s", e.Path)
	}

	defer func() {
		e.cmd = nil
		e.ptmx = nil
		e.readDone = nil
	}()

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- e.cmd.Wait()
	}()

	var timeout <-chan time.Time
	if e.TimeoutInMilliseconds > 0 {
		timer := time.NewTimer(time.Duration(e.TimeoutInMilliseconds) * time.Millisecond)
		defer timer.Stop()
		timeout = timer.C
	}

	timedOut := false
	var waitErr error

	select {
	case waitErr = <-waitCh:
	case <-timeout:
		timedOut = true
		e.Kill()
		waitErr = <-waitCh
	}

	if e.ptmx != nil {
		<-e.readDone
		e.ptmx.Close()
	}

	result := ExecutableResult{
		Stdout:   e.stdout.Bytes(),
		Stderr:   e.stderr.Bytes(),
		ExitCode: e.cmd.ProcessState.ExitCode(),
	}
	e.relayOutput(result)

	if timedOut {
		return result, ErrTimeout
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return result, waitErr
	}

	return result, nil
}

// Kill terminates the whole process group of the running process.
func (e *Executable) Kill() {
	if !e.isRunning() || e.cmd.Process == nil {
		return
	}

	if err := unix.Kill(-e.cmd.Process.Pid, unix.SIGKILL); err != nil {
		_ = e.cmd.Process.Kill()
	}
}

func (e *Executable) relayOutput(result ExecutableResult) {
	if e.loggerFunc == nil {
		return
	}

	for _, stream := range [][]byte{result.Stdout, result.Stderr} {
		text := strings.TrimRight(string(stream), "\r\n")
		if text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			e.loggerFunc(strings.TrimRight(line, "\r"))
		}
	}
}

func resolveAbsolutePath(path string) (string, error) {
	if !strings.ContainsRune(path, filepath.Separator) {
		// System command: look it up in PATH
		absolutePath, err := exec.LookPath(path)
		if err != nil {
			return "", fmt.Errorf("%s not found: %w", path, err)
		}
		return absolutePath, nil
	}

	absolutePath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(absolutePath); err != nil {
		return "", fmt.Errorf("%s not found: %w", path, err)
	}

	return absolutePath, nil
}
