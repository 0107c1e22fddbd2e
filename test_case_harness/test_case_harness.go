package test_case_harness

import (
	"os"
	"path/filepath"

	"github.com/bootcs-dev/compiler-tester/logger"
)

// TestCaseHarness is the per-case scope handed through one pipeline run.
//
// Everything that must be undone once the case is over (temporary artifacts, tracker
// registrations) is registered as a teardown func:
//
//	harness.RegisterTeardownFunc(func() { bundle.Release(harness.Logger) })
//	defer harness.RunTeardownFuncs()
type TestCaseHarness struct {
	// Logger is to be used for all logs generated for this case.
	Logger *logger.Logger

	// WorkDir is the directory holding the case's artifacts.
	WorkDir string

	// teardownFuncs are run once the case's outcome is known
	teardownFuncs []func()
}

func (s *TestCaseHarness) RegisterTeardownFunc(teardownFunc func()) {
	s.teardownFuncs = append(s.teardownFuncs, teardownFunc)
}

// RunTeardownFuncs runs the registered funcs in reverse order of registration. Each func runs
// at most once, even if RunTeardownFuncs is called again.
func (s *TestCaseHarness) RunTeardownFuncs() {
	funcs := s.teardownFuncs
	s.teardownFuncs = nil

	for i := len(funcs) - 1; i >= 0; i-- {
		funcs[i]()
	}
}

// FilePath returns the absolute path to a file within the work directory.
func (s *TestCaseHarness) FilePath(relativePath string) string {
	return filepath.Join(s.WorkDir, relativePath)
}

// FileExists checks if a regular file exists within the work directory.
func (s *TestCaseHarness) FileExists(relativePath string) bool {
	info, err := os.Stat(s.FilePath(relativePath))
	return err == nil && info.Mode().IsRegular()
}
