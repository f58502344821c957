package ffmpeg

import (
	"bytes"
	"context"
	"io"
	"os/exec"
)

// ExecResult holds the outcome of a single ffmpeg invocation.
type ExecResult struct {
	Stderr string
	Err    error
}

// Runner executes ffmpeg. The zero value runs "ffmpeg" from PATH and captures
// stderr silently.
type Runner struct {
	Bin string

	// Tee, when non-nil, receives stderr in real time in addition to the
	// captured copy (verbose mode).
	Tee io.Writer
}

// Binary returns the ffmpeg executable the runner invokes.
func (r Runner) Binary() string {
	if r.Bin == "" {
		return "ffmpeg"
	}
	return r.Bin
}

// Run executes ffmpeg with args. Stderr is always captured for
// classification of failures.
func (r Runner) Run(ctx context.Context, args []string) ExecResult {
	cmd := exec.CommandContext(ctx, r.Binary(), args...)

	var stderrBuf bytes.Buffer
	if r.Tee != nil {
		cmd.Stderr = io.MultiWriter(&stderrBuf, r.Tee)
	} else {
		cmd.Stderr = &stderrBuf
	}

	err := cmd.Run()
	return ExecResult{
		Stderr: stderrBuf.String(),
		Err:    err,
	}
}
