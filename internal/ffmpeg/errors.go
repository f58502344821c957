package ffmpeg

import (
	"errors"
	"io/fs"
	"os/exec"
	"regexp"
)

// Category classifies an ffmpeg failure from its stderr.
type Category int

const (
	Unknown          Category = iota
	NoSpace                   // Output device full.
	PermissionDenied          // Output or input not accessible.
	InvalidData               // Corrupt or truncated input (often a frame still being written).
	MissingEncoder            // The configured codec is not built into ffmpeg.
)

func (c Category) String() string {
	switch c {
	case NoSpace:
		return "no space"
	case PermissionDenied:
		return "permission denied"
	case InvalidData:
		return "invalid data"
	case MissingEncoder:
		return "missing encoder"
	default:
		return "unknown"
	}
}

// Pre-compiled regexes for classifying ffmpeg stderr. Checked in order by
// [Classify]; the first match wins.
var (
	reNoSpace = regexp.MustCompile(
		`(?i)No space left on device|Disk quota exceeded`)

	rePermission = regexp.MustCompile(
		`(?i)Permission denied|Operation not permitted|Read-only file system`)

	reMissingEncoder = regexp.MustCompile(
		`(?i)Unknown encoder|Encoder .* not found|Requested output format .* is not a suitable output format`)

	reInvalidData = regexp.MustCompile(
		`(?i)Invalid data found when processing input|` +
			`Truncated|premature end|` +
			`Error while decoding|Could not find codec parameters|` +
			`Invalid PNG signature|IHDR`)
)

// Classify maps ffmpeg stderr to a failure category.
func Classify(stderr string) Category {
	switch {
	case reNoSpace.MatchString(stderr):
		return NoSpace
	case rePermission.MatchString(stderr):
		return PermissionDenied
	case reMissingEncoder.MatchString(stderr):
		return MissingEncoder
	case reInvalidData.MatchString(stderr):
		return InvalidData
	default:
		return Unknown
	}
}

// IsMissingBinary reports whether err means the executable itself could not
// be found or started.
func IsMissingBinary(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
