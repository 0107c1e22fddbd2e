package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bootcs-dev/compiler-tester/logger"
)

// CleanupWarning describes an artifact that could not be removed. It is reported, never fatal.
type CleanupWarning struct {
	Path             string
	PermissionDenied bool
	Err              error
}

func (w *CleanupWarning) Error() string {
	if w.PermissionDenied {
		return fmt.Sprintf("permission denied removing %s", w.Path)
	}
	return fmt.Sprintf("could not remove %s: %v", w.Path, w.Err)
}

func (w *CleanupWarning) Unwrap() error {
	return w.Err
}

// Remove deletes every path, best effort. Paths that are already gone are ignored; any other
// failure is logged as a warning and returned, and removal carries on with the next path.
func Remove(paths []string, log *logger.Logger) []error {
	return removeWith(paths, os.Remove, log)
}

func removeWith(paths []string, remove func(string) error, log *logger.Logger) []error {
	var warnings []error

	for _, path := range paths {
		if path == "" {
			continue
		}

		if warning := classify(path, remove(path)); warning != nil {
			if log != nil {
				log.Warnf("%s", warning)
			}
			warnings = append(warnings, warning)
		}
	}

	return warnings
}

func classify(path string, err error) *CleanupWarning {
	switch {
	case err == nil, errors.Is(err, fs.ErrNotExist):
		return nil
	case errors.Is(err, fs.ErrPermission):
		return &CleanupWarning{Path: path, PermissionDenied: true, Err: err}
	default:
		return &CleanupWarning{Path: path, Err: err}
	}
}
