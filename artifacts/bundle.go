package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/bootcs-dev/compiler-tester/logger"
	"github.com/google/uuid"
)

// ResourceError is returned when a temporary artifact cannot be created.
type ResourceError struct {
	Op   string
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("could not %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// Bundle is the set of files one pipeline run produces. Every bundle lives in its own fresh
// directory, so two runs never share a file name even when they run in parallel.
type Bundle struct {
	// RunID identifies the run in logs and in the directory name.
	RunID string

	Dir          string
	Source       string
	Intermediate string
	Object       string
	Binary       string

	releaseOnce sync.Once
	warnings    []error
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// NewBundle creates the per-run directory under root (os.TempDir() when empty). Only the
// directory is created; files appear as the pipeline stages produce them.
func NewBundle(root, caseName string) (*Bundle, error) {
	if root == "" {
		root = os.TempDir()
	}

	runID := uuid.NewString()
	stem := strings.TrimSuffix(caseName, filepath.Ext(caseName))
	stem = unsafeNameChars.ReplaceAllString(stem, "_")
	if stem == "" {
		stem = "case"
	}

	pattern := fmt.Sprintf("compiler-tester-%d-%s-%s-", os.Getpid(), stem, runID[:8])
	dir, err := os.MkdirTemp(root, pattern)
	if err != nil {
		return nil, &ResourceError{Op: "create artifacts directory in", Path: root, Err: err}
	}

	return &Bundle{
		RunID:        runID,
		Dir:          dir,
		Source:       filepath.Join(dir, stem+".src"),
		Intermediate: filepath.Join(dir, stem+".bc"),
		Object:       filepath.Join(dir, stem+".o"),
		Binary:       filepath.Join(dir, stem),
	}, nil
}

// WriteSource writes the program text to the bundle's source file.
func (b *Bundle) WriteSource(program string) error {
	if err := os.WriteFile(b.Source, []byte(program), 0644); err != nil {
		return &ResourceError{Op: "write source file", Path: b.Source, Err: err}
	}
	return nil
}

// Files lists the artifact files, in the order the pipeline creates them.
func (b *Bundle) Files() []string {
	return []string{b.Source, b.Intermediate, b.Object, b.Binary}
}

// Release removes every artifact and then the directory. Only the first call does any work;
// later calls return the warnings of the first one.
func (b *Bundle) Release(log *logger.Logger) []error {
	b.releaseOnce.Do(func() {
		b.warnings = Remove(b.Files(), log)
		// Tools may leave extra files behind (e.g. a.out), so the directory goes recursively.
		b.warnings = append(b.warnings, removeWith([]string{b.Dir}, os.RemoveAll, log)...)
	})
	return b.warnings
}
