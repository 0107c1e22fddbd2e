package compiler_tester

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bootcs-dev/compiler-tester/artifacts"
	"github.com/bootcs-dev/compiler-tester/internal"
	"github.com/bootcs-dev/compiler-tester/logger"
	"github.com/bootcs-dev/compiler-tester/pipeline"
	"github.com/bootcs-dev/compiler-tester/test_file"
	"github.com/bootcs-dev/compiler-tester/tester_context"
	"github.com/bootcs-dev/compiler-tester/toolchain"
	"github.com/rodaine/table"
)

// Outcome classifies how a test case ended.
type Outcome string

const (
	OutcomePassed         Outcome = "passed"
	OutcomeFailed         Outcome = "failed"
	OutcomeMalformed      Outcome = "malformed"
	OutcomeResourceError  Outcome = "resource error"
	OutcomeToolchainError Outcome = "toolchain error"
	OutcomeSkipped        Outcome = "skipped"
)

// CaseResult is the record of one test file, used for the summary table.
type CaseResult struct {
	Name    string
	Outcome Outcome
	Stage   pipeline.Stage
	Reason  string
}

// Score is the aggregate result of a run.
type Score struct {
	Passed int
	Total  int
}

func (s Score) String() string {
	return fmt.Sprintf("%d/%d", s.Passed, s.Total)
}

func (s Score) AllPassed() bool {
	return s.Passed == s.Total
}

// casePipeline runs one parsed test case. *pipeline.Pipeline is the only implementation.
type casePipeline interface {
	Run(testCase test_file.TestCase, log *logger.Logger) (pipeline.Result, error)
}

// Tester runs every test file of one directory against one compiler.
type Tester struct {
	context tester_context.TesterContext
	logger  *logger.Logger
	stdout  io.Writer
	stderr  io.Writer

	results []CaseResult
}

// newTester creates a Tester from user-provided settings
func newTester(env map[string]string, stdout, stderr io.Writer) (*Tester, error) {
	context, err := tester_context.GetTesterContext(env)
	if err != nil {
		var userError *internal.UserError
		if errors.As(err, &userError) {
			return nil, fmt.Errorf("%s", userError.Message)
		}

		return nil, fmt.Errorf("compiler-tester internal error. Error fetching tester context: %v", err)
	}

	log := logger.New(stderr, context.IsDebug, "")
	if context.IsQuiet {
		log = logger.NewQuiet(stderr, "")
	}

	return &Tester{
		context: context,
		logger:  log,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

// RunCLI runs the suite described by env and prints the score on stdout. Returns the process
// exit code: 0 when every test case passed.
func RunCLI(env map[string]string, stdout, stderr io.Writer) int {
	tester, err := newTester(env, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	tester.printDebugContext()

	score, err := tester.runAll()
	if err != nil {
		tester.logger.Criticalf("%s", err)
		return 1
	}

	if tester.context.ShowSummary {
		tester.printSummary()
	}

	fmt.Fprintln(stdout, score)

	if !score.AllPassed() {
		return 1
	}
	return 0
}

// printDebugContext is to be run as early as possible after creating a Tester
func (tester *Tester) printDebugContext() {
	if !tester.context.IsDebug {
		return
	}

	tester.logger.Debugf("compiler: %s", tester.context.CompilerPath)
	tester.logger.Debugf("tests: %s (*%s)", tester.context.TestsDir, tester.context.Extension)
	tester.logger.Debugf("assembler: %s, linker: %s", tester.context.AssemblerPath, tester.context.LinkerPath)
	if tester.context.Timeout > 0 {
		tester.logger.Debugf("timeout: %s", tester.context.Timeout)
	}
}

// runAll runs every test file in order. Only an unreadable tests directory is returned as an
// error; everything that goes wrong inside a test case is counted against the score.
func (tester *Tester) runAll() (Score, error) {
	files, err := listTestFiles(tester.context.TestsDir, tester.context.Extension)
	if err != nil {
		return Score{}, err
	}

	tracker := artifacts.NewTracker(tester.logger)
	stop := tracker.Install()
	defer stop()

	p := pipeline.New(tester.context.Toolchain(), pipeline.Options{
		ArtifactsDir: tester.context.ArtifactsDir,
		RunInPty:     tester.context.RunInPty,
		Tracker:      tracker,
	})

	tester.logger.Infof("Running %d test file(s) from %s", len(files), tester.context.TestsDir)

	score := Score{Total: len(files)}
	aborted := false

	for i, path := range files {
		if aborted {
			tester.results = append(tester.results, CaseResult{
				Name:    filepath.Base(path),
				Outcome: OutcomeSkipped,
				Reason:  "toolchain unusable",
			})
			continue
		}

		result := tester.runCase(p, path)
		tester.results = append(tester.results, result)

		switch result.Outcome {
		case OutcomePassed:
			score.Passed++
		case OutcomeToolchainError:
			if tester.context.AbortOnToolchainError {
				aborted = true
				if remaining := len(files) - i - 1; remaining > 0 {
					tester.logger.Criticalf("Aborting, %d remaining test case(s) not run", remaining)
				}
			}
		}
	}

	return score, nil
}

// runCase parses and runs one test file. It never panics and never returns an error: every
// problem is turned into an outcome.
func (tester *Tester) runCase(p casePipeline, path string) (result CaseResult) {
	name := filepath.Base(path)
	log := tester.logger.WithPrefix(fmt.Sprintf("[%s] ", name))
	result = CaseResult{Name: name}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("internal error: %v", r)
			result = CaseResult{Name: name, Outcome: OutcomeFailed, Reason: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	testCase, err := test_file.ParseFile(path, tester.context.ParseOptions())
	if err != nil {
		log.Errorf("%s", err)
		result.Outcome = OutcomeResourceError
		var malformed *test_file.MalformedTestFileError
		if errors.As(err, &malformed) {
			result.Outcome = OutcomeMalformed
		}
		result.Reason = err.Error()
		return result
	}

	log.Debugf("Running %s", name)

	pipelineResult, err := p.Run(testCase, log)

	var toolchainError *toolchain.ToolchainError
	var resourceError *artifacts.ResourceError

	switch {
	case errors.As(err, &toolchainError):
		log.Criticalf("%s", err)
		result.Outcome = OutcomeToolchainError
		result.Reason = err.Error()
	case errors.As(err, &resourceError):
		log.Errorf("%s", err)
		result.Outcome = OutcomeResourceError
		result.Reason = err.Error()
	case err != nil:
		log.Errorf("%s", err)
		result.Outcome = OutcomeFailed
		result.Reason = err.Error()
	case pipelineResult.Passed:
		log.Successf("Test passed.")
		result.Outcome = OutcomePassed
	default:
		failure := pipelineResult.Failure
		log.Errorf("%s", failure.Reason)
		for _, line := range failure.Details {
			log.Plainln(line)
		}
		result.Outcome = OutcomeFailed
		result.Stage = failure.Stage
		result.Reason = strings.TrimSuffix(failure.Reason, ":")
	}

	return result
}

func (tester *Tester) printSummary() {
	tbl := table.New("Test", "Outcome", "Stage", "Reason").WithWriter(tester.stderr)
	for _, result := range tester.results {
		tbl.AddRow(result.Name, result.Outcome, result.Stage, result.Reason)
	}
	tbl.Print()
}

// listTestFiles returns the regular files of dir ending in extension, sorted by name.
func listTestFiles(dir, extension string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read tests directory %s: %w", dir, err)
	}

	files := []string{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), extension) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(files)
	return files, nil
}
