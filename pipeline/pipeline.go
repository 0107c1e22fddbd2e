package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bootcs-dev/compiler-tester/artifacts"
	"github.com/bootcs-dev/compiler-tester/executable"
	"github.com/bootcs-dev/compiler-tester/logger"
	"github.com/bootcs-dev/compiler-tester/runner"
	"github.com/bootcs-dev/compiler-tester/test_case_harness"
	"github.com/bootcs-dev/compiler-tester/test_file"
	"github.com/bootcs-dev/compiler-tester/toolchain"
)

// Stage names the step of the pipeline a failure happened in.
type Stage string

const (
	StageCompile  Stage = "compile"
	StageAssemble Stage = "assemble"
	StageLink     Stage = "link"
	StageRun      Stage = "run"
)

// PipelineFailure is a test case not meeting its expectations. It is an outcome, not an
// error: the suite carries on.
type PipelineFailure struct {
	Stage   Stage
	Reason  string
	Details []string
}

func (f *PipelineFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.Stage, f.Reason)
}

// Result is the outcome of one test case.
type Result struct {
	Passed bool

	// Failure is set when Passed is false.
	Failure *PipelineFailure

	// RunID identifies the artifacts bundle used by the run.
	RunID string
}

// Options tune a Pipeline beyond the toolchain itself.
type Options struct {
	// ArtifactsDir is where per-run directories are created. Defaults to os.TempDir().
	ArtifactsDir string

	// RunInPty attaches the produced binary to a pseudo-terminal.
	RunInPty bool

	// Tracker, when set, knows about every live bundle and running process so that an
	// interrupted run can still stop and remove them.
	Tracker *artifacts.Tracker
}

// Pipeline runs test cases through compile, assemble, link and run.
type Pipeline struct {
	toolchain toolchain.Toolchain
	options   Options
}

func New(tc toolchain.Toolchain, options Options) *Pipeline {
	if options.Tracker != nil {
		tc.Processes = options.Tracker
	}
	return &Pipeline{toolchain: tc, options: options}
}

// Run executes one test case. The returned error is either an *artifacts.ResourceError (the
// temporary files could not be created) or a *toolchain.ToolchainError (the toolchain is not
// usable); every other outcome is reported through Result. All artifacts are removed before
// Run returns, whatever the outcome.
func (p *Pipeline) Run(testCase test_file.TestCase, log *logger.Logger) (Result, error) {
	bundle, err := artifacts.NewBundle(p.options.ArtifactsDir, testCase.Name)
	if err != nil {
		return Result{}, err
	}

	harness := &test_case_harness.TestCaseHarness{Logger: log, WorkDir: bundle.Dir}
	if p.options.Tracker != nil {
		p.options.Tracker.Track(bundle)
		harness.RegisterTeardownFunc(func() { p.options.Tracker.Release(bundle) })
	} else {
		harness.RegisterTeardownFunc(func() { bundle.Release(log) })
	}
	defer harness.RunTeardownFuncs()

	log.Debugf("artifacts in %s (run %s)", bundle.Dir, bundle.RunID)

	if err := bundle.WriteSource(testCase.Program); err != nil {
		return Result{}, err
	}

	result, err := p.run(testCase, bundle, harness)
	result.RunID = bundle.RunID
	return result, err
}

func (p *Pipeline) run(testCase test_file.TestCase, bundle *artifacts.Bundle, harness *test_case_harness.TestCaseHarness) (Result, error) {
	log := harness.Logger

	compiled, err := p.toolchain.Compile(bundle.Dir, bundle.Source, bundle.Intermediate, log)
	if err != nil {
		return stageError(StageCompile, err)
	}

	if testCase.ExpectedError != nil && strings.Contains(compiled.Stderr, *testCase.ExpectedError) {
		log.Debugf("compiler reported the expected error %q", *testCase.ExpectedError)
		return passed(), nil
	}

	if !compiled.Succeeded() {
		if testCase.ExpectedError != nil {
			return failed(StageCompile, fmt.Sprintf("expected error %q was not reported, the compiler said:", *testCase.ExpectedError), runner.OutputLines(compiled.Stderr)), nil
		}
		return failed(StageCompile, "unexpected compilation error:", runner.OutputLines(compiled.Stderr)), nil
	}

	assembled, err := p.toolchain.Assemble(bundle.Dir, bundle.Intermediate, bundle.Object, log)
	if err != nil {
		return stageError(StageAssemble, err)
	}
	if !assembled.Succeeded() || strings.TrimSpace(assembled.Stderr) != "" {
		return failed(StageAssemble, "unexpected assembler output:", runner.OutputLines(assembled.Stderr)), nil
	}

	linkedResult, err := p.toolchain.Link(bundle.Dir, bundle.Object, bundle.Binary, log)
	if err != nil {
		return stageError(StageLink, err)
	}

	hasEntryPoint := p.toolchain.HasEntryPoint(testCase.Program)
	linked := linkedResult.Succeeded() && harness.FileExists(filepath.Base(bundle.Binary))

	switch {
	case hasEntryPoint && !linked:
		return failed(StageLink, "linking failed:", runner.OutputLines(linkedResult.Stderr)), nil
	case !hasEntryPoint && linked:
		return failed(StageLink, "missing main but linking didn't fail", nil), nil
	case !hasEntryPoint:
		log.Debugf("no entry point, nothing to run")
	}

	// Cases expecting a compile error never get here when the error shows up.
	if testCase.ExpectedError != nil {
		return failed(StageRun, fmt.Sprintf("expected error %q but the program compiled", *testCase.ExpectedError), nil), nil
	}

	if !linked {
		if testCase.ExpectedReturnCode != nil {
			return failed(StageRun, fmt.Sprintf("expected return code %d but no binary was produced", *testCase.ExpectedReturnCode), nil), nil
		}
		return passed(), nil
	}

	return p.runBinary(testCase, bundle, log), nil
}

func (p *Pipeline) runBinary(testCase test_file.TestCase, bundle *artifacts.Bundle, log *logger.Logger) Result {
	r := runner.Run(bundle.Dir, bundle.Binary).
		WithLogger(log).
		WithTimeout(p.toolchain.Timeout).
		WithProcessTracker(p.toolchain.Processes)
	if p.options.RunInPty {
		r = r.WithPty()
	}
	r = r.Execute()

	if err := r.Error(); err != nil {
		if errors.Is(err, executable.ErrTimeout) {
			return failed(StageRun, fmt.Sprintf("program timed out after %s", p.toolchain.Timeout), nil)
		}
		return failed(StageRun, fmt.Sprintf("could not run the produced binary: %v", err), nil)
	}

	log.Debugf("program exited with %d", r.ExitCode())

	if testCase.ExpectedReturnCode == nil {
		return passed()
	}

	var mismatch *runner.ExitCodeMismatch
	if err := r.Exit(*testCase.ExpectedReturnCode).Error(); errors.As(err, &mismatch) {
		return failed(StageRun, "return codes did not match", []string{
			fmt.Sprintf("expected: %d", mismatch.Expected),
			fmt.Sprintf("actual:   %d", mismatch.Actual),
		})
	}

	return passed()
}

// stageError turns a tool timeout into a case failure and passes every other error up.
func stageError(stage Stage, err error) (Result, error) {
	if errors.Is(err, executable.ErrTimeout) {
		return failed(stage, err.Error(), nil), nil
	}
	return Result{}, err
}

func passed() Result {
	return Result{Passed: true}
}

func failed(stage Stage, reason string, details []string) Result {
	return Result{
		Failure: &PipelineFailure{Stage: stage, Reason: reason, Details: details},
	}
}
