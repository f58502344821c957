package encoder

import (
	"errors"
	"fmt"

	"github.com/backmassage/framemerge/internal/ffmpeg"
)

// TransientError is a failed append or finalize that may succeed when
// retried: a non-zero ffmpeg exit, a timeout, a frame count mismatch or a
// full disk. The output is unchanged.
type TransientError struct {
	Op       string
	Category ffmpeg.Category
	Stderr   string
	Err      error
}

func (e *TransientError) Error() string {
	if e.Category != ffmpeg.Unknown {
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Category, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a failure no retry can fix: ffmpeg or ffprobe missing, the
// output directory unusable, permission denied or an encoder ffmpeg lacks.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
