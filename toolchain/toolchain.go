package toolchain

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/bootcs-dev/compiler-tester/executable"
	"github.com/bootcs-dev/compiler-tester/logger"
	"github.com/bootcs-dev/compiler-tester/runner"
)

const (
	// DefaultBanner is printed first by a compiler built with DEBUG defined.
	DefaultBanner = "Debug mode enabled"

	// DefaultAssembler turns LLVM bitcode into a native object file.
	DefaultAssembler = "llc"

	// DefaultLinker links the object file against the C runtime.
	DefaultLinker = "clang"

	// DefaultEntryPointPattern is a textual stand-in for "the program defines main".
	DefaultEntryPointPattern = `\blet\s+main\b`
)

var defaultEntryPoint = regexp.MustCompile(DefaultEntryPointPattern)

// Toolchain describes the external programs driven for every test case:
//
//	<compiler> <source> -o <intermediate>
//	<assembler> --filetype=obj <intermediate> -o <object>
//	<linker> <object> -o <binary>
type Toolchain struct {
	CompilerPath  string
	AssemblerPath string
	LinkerPath    string

	// Banner must start the compiler's stdout. Defaults to DefaultBanner.
	Banner string

	// EntryPoint decides whether a program is expected to link into a runnable binary.
	// Defaults to DefaultEntryPointPattern.
	EntryPoint *regexp.Regexp

	// Timeout applies to each tool invocation. Zero means no limit.
	Timeout time.Duration

	// Processes, when set, is told about every running tool.
	Processes runner.ProcessTracker
}

// ToolchainError means the toolchain itself is unusable: a tool cannot be started, or the
// compiler is not a debug build. It says nothing about the test case being run.
type ToolchainError struct {
	Tool   string
	Path   string
	Reason string
	Err    error
}

func (e *ToolchainError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Tool, e.Path, e.Reason)
}

func (e *ToolchainError) Unwrap() error {
	return e.Err
}

// StageResult is what one tool invocation produced.
type StageResult struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
}

func (r StageResult) Succeeded() bool {
	return r.ExitCode == 0
}

func (t Toolchain) banner() string {
	if t.Banner == "" {
		return DefaultBanner
	}
	return t.Banner
}

func (t Toolchain) assembler() string {
	if t.AssemblerPath == "" {
		return DefaultAssembler
	}
	return t.AssemblerPath
}

func (t Toolchain) linker() string {
	if t.LinkerPath == "" {
		return DefaultLinker
	}
	return t.LinkerPath
}

// HasEntryPoint reports whether program matches the entry-point pattern.
func (t Toolchain) HasEntryPoint(program string) bool {
	pattern := t.EntryPoint
	if pattern == nil {
		pattern = defaultEntryPoint
	}
	return pattern.MatchString(program)
}

// Compile runs the compiler on source. A missing banner is a *ToolchainError even when the
// compilation itself failed, since the diagnostics of a release build cannot be trusted.
func (t Toolchain) Compile(workDir, source, output string, log *logger.Logger) (StageResult, error) {
	r := t.invoke(workDir, t.CompilerPath, log, source, "-o", output)
	result := stageResult(r)
	if err := r.Error(); err != nil {
		return result, t.invocationError("compiler", t.CompilerPath, err)
	}

	if err := r.StdoutPrefix(t.banner()).Error(); err != nil {
		return result, &ToolchainError{
			Tool:   "compiler",
			Path:   t.CompilerPath,
			Reason: fmt.Sprintf("output does not begin with %q, is it built in debug mode?", t.banner()),
			Err:    err,
		}
	}

	return result, nil
}

// Assemble turns the compiler's intermediate output into an object file.
func (t Toolchain) Assemble(workDir, intermediate, object string, log *logger.Logger) (StageResult, error) {
	r := t.invoke(workDir, t.assembler(), log, "--filetype=obj", intermediate, "-o", object)
	if err := r.Error(); err != nil {
		return stageResult(r), t.invocationError("assembler", t.assembler(), err)
	}
	return stageResult(r), nil
}

// Link links the object file into binary.
func (t Toolchain) Link(workDir, object, binary string, log *logger.Logger) (StageResult, error) {
	r := t.invoke(workDir, t.linker(), log, object, "-o", binary)
	if err := r.Error(); err != nil {
		return stageResult(r), t.invocationError("linker", t.linker(), err)
	}
	return stageResult(r), nil
}

// Diagnostics are matched as plain text, so tools must not translate them.
var toolEnv = []string{"LC_ALL=C"}

func (t Toolchain) invoke(workDir, tool string, log *logger.Logger, args ...string) *runner.Runner {
	return runner.Run(workDir, tool, args...).
		WithLogger(log).
		WithEnv(toolEnv...).
		WithTimeout(t.Timeout).
		WithProcessTracker(t.Processes).
		Execute()
}

// invocationError keeps timeouts as plain errors (a per-case failure) and turns everything
// else into a *ToolchainError.
func (t Toolchain) invocationError(tool, path string, err error) error {
	if errors.Is(err, executable.ErrTimeout) {
		return fmt.Errorf("%s timed out after %s: %w", tool, t.Timeout, err)
	}
	return &ToolchainError{Tool: tool, Path: path, Reason: fmt.Sprintf("could not be run: %v", err), Err: err}
}

func stageResult(r *runner.Runner) StageResult {
	return StageResult{
		Command:  r.CommandLine(),
		Stdout:   r.GetStdout(),
		Stderr:   r.GetStderr(),
		ExitCode: r.ExitCode(),
	}
}
