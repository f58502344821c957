package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError is a bad or conflicting setup detected before any side
// effect: missing or existing state, a swapped source, an output that
// already exists. The CLI maps it to exit code 2.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ScannerIOError means the work directory could not be listed.
type ScannerIOError struct {
	Dir string
	Err error
}

func (e *ScannerIOError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Dir, e.Err)
}

func (e *ScannerIOError) Unwrap() error { return e.Err }

// ReclaimError collects the frame files that could not be deleted after a
// commit. It is reported but never stops the daemon.
type ReclaimError struct {
	Paths []string
	Errs  []error
}

func (e *ReclaimError) Error() string {
	if len(e.Errs) == 1 {
		return fmt.Sprintf("reclaim: %v", e.Errs[0])
	}
	msgs := make([]string, 0, 3)
	for i, err := range e.Errs {
		if i == 3 {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(e.Errs)-3))
			break
		}
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("reclaim: %d files not deleted: %s", len(e.Paths), strings.Join(msgs, "; "))
}

func (e *ReclaimError) Unwrap() []error { return e.Errs }

func (e *ReclaimError) add(path string, err error) {
	e.Paths = append(e.Paths, path)
	e.Errs = append(e.Errs, err)
}

// orNil returns e when it holds failures, nil otherwise.
func (e *ReclaimError) orNil() error {
	if len(e.Errs) == 0 {
		return nil
	}
	return e
}

// InconsistencyError means the output video and the saved state disagree by
// more than a crash between an append and the state write can explain.
type InconsistencyError struct {
	StateIndex  int // Last merged index according to the state file.
	OutputIndex int // Last merged index implied by the output's frame count.
	Detail      string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("output and state disagree: state says frame %d was merged last, output ends at frame %d (%s)",
		e.StateIndex, e.OutputIndex, e.Detail)
}
