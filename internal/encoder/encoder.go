// Package encoder appends batches of frame images to the output video.
//
// Every append encodes the batch into a segment next to the output, joins
// the existing output and the segment with stream copy into a temp file,
// checks that the joined file holds exactly the expected number of frames
// and only then renames it over the output. A failure at any step removes
// the temp files and leaves the output as it was.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/backmassage/framemerge/internal/config"
	"github.com/backmassage/framemerge/internal/ffmpeg"
	"github.com/backmassage/framemerge/internal/fsx"
	"github.com/backmassage/framemerge/internal/naming"
	"github.com/backmassage/framemerge/internal/planner"
)

// CommandRunner executes one ffmpeg invocation. ffmpeg.Runner implements it.
type CommandRunner interface {
	Run(ctx context.Context, args []string) ffmpeg.ExecResult
}

// FrameCounter counts video frames in a file, returning 0 for a missing
// file. probe.Prober implements it.
type FrameCounter interface {
	CountFrames(ctx context.Context, path string) (int, error)
}

// Source describes the video the frames were extracted from.
type Source struct {
	Path       string
	FrameRate  string    // ffmpeg rational used for constant-rate input.
	VFR        bool      // Use Durations instead of FrameRate.
	Durations  []float64 // Per source frame, indexed from StartIndex.
	StartIndex int       // Frame file index of source frame 0.
	HasAudio   bool
}

// Options configures an FFmpeg encoder.
type Options struct {
	Output   string
	FrameDir string
	Pattern  naming.Pattern
	Profile  config.EncoderProfile
	Source   Source

	Runner  CommandRunner
	Counter FrameCounter

	Timeout  time.Duration // Per Append or Finalize; 0 = none.
	MuxAudio bool
	Verbose  bool
}

// Commit describes a successfully appended batch.
type Commit struct {
	Batch       planner.Batch
	Frames      int   // Frames in the output after the append.
	OutputBytes int64 // Output size after the append.
	Elapsed     time.Duration
}

// FFmpeg appends batches to the output video with ffmpeg.
type FFmpeg struct {
	opts Options
}

// New returns an encoder for opts.
func New(opts Options) *FFmpeg {
	return &FFmpeg{opts: opts}
}

// Output returns the output video path.
func (e *FFmpeg) Output() string { return e.opts.Output }

// callContext detaches ctx from cancellation so an interrupt never kills
// ffmpeg mid-write, and applies the per-call timeout.
func (e *FFmpeg) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if e.opts.Timeout > 0 {
		return context.WithTimeout(ctx, e.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// Append encodes b and appends it to the output.
func (e *FFmpeg) Append(ctx context.Context, b planner.Batch) (Commit, error) {
	started := time.Now()
	if b.Len() == 0 {
		return Commit{}, &FatalError{Op: "append", Err: errors.New("empty batch")}
	}
	ctx, cancel := e.callContext(ctx)
	defer cancel()

	if err := e.checkOutputDir(); err != nil {
		return Commit{}, err
	}

	prev, err := e.count(ctx, "count output frames", e.opts.Output)
	if err != nil {
		return Commit{}, err
	}
	exists := fileExists(e.opts.Output)

	seg := fsx.TempPath(e.opts.Output)
	defer os.Remove(seg)
	if err := e.encodeSegment(ctx, b, seg); err != nil {
		return Commit{}, err
	}

	if !exists {
		if err := e.verify(ctx, "encode segment", seg, b.Len()); err != nil {
			return Commit{}, err
		}
		if err := fsx.Replace(seg, e.opts.Output); err != nil {
			return Commit{}, e.fsFailure("replace output", err)
		}
	} else {
		if err := e.join(ctx, seg, prev+b.Len()); err != nil {
			return Commit{}, err
		}
	}

	fi, err := os.Stat(e.opts.Output)
	if err != nil {
		return Commit{}, e.fsFailure("stat output", err)
	}
	return Commit{
		Batch:       b,
		Frames:      prev + b.Len(),
		OutputBytes: fi.Size(),
		Elapsed:     time.Since(started),
	}, nil
}

// encodeSegment writes the frames of b into the video file seg.
func (e *FFmpeg) encodeSegment(ctx context.Context, b planner.Batch, seg string) error {
	in := ffmpeg.SegmentInput{
		Dir:       e.opts.FrameDir,
		Pattern:   e.opts.Pattern.String(),
		Start:     b.Start,
		Count:     b.Len(),
		FrameRate: e.opts.Source.FrameRate,
	}

	if e.opts.Source.VFR {
		durations, err := e.durations(b)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := ffmpeg.WriteFrameList(&buf, absPaths(b.Paths()), durations); err != nil {
			return &FatalError{Op: "encode segment", Err: err}
		}
		list, err := e.writeList(buf.Bytes())
		if err != nil {
			return err
		}
		defer os.Remove(list)
		in.ConcatList = list
	}

	args := ffmpeg.SegmentArgs(in, e.opts.Profile, seg, e.opts.Verbose)
	return e.run(ctx, "encode segment", args)
}

// durations returns the display durations of the frames in b.
func (e *FFmpeg) durations(b planner.Batch) ([]float64, error) {
	src := e.opts.Source
	out := make([]float64, 0, b.Len())
	for _, f := range b.Frames {
		i := f.Index - src.StartIndex
		if i < 0 || i >= len(src.Durations) {
			return nil, &FatalError{
				Op:  "encode segment",
				Err: fmt.Errorf("frame %d has no duration in the source (%d frames)", f.Index, len(src.Durations)),
			}
		}
		out = append(out, src.Durations[i])
	}
	return out, nil
}

// join concatenates the output and seg into a temp file, checks it holds
// want frames and replaces the output with it.
func (e *FFmpeg) join(ctx context.Context, seg string, want int) error {
	var buf bytes.Buffer
	if err := ffmpeg.WriteFileList(&buf, absPaths([]string{e.opts.Output, seg})); err != nil {
		return &FatalError{Op: "join", Err: err}
	}
	list, err := e.writeList(buf.Bytes())
	if err != nil {
		return err
	}
	defer os.Remove(list)

	joined := fsx.TempPath(e.opts.Output)
	defer os.Remove(joined)
	if err := e.run(ctx, "join", ffmpeg.ConcatArgs(list, joined, e.opts.Verbose)); err != nil {
		return err
	}
	if err := e.verify(ctx, "join", joined, want); err != nil {
		return err
	}
	if err := fsx.Replace(joined, e.opts.Output); err != nil {
		return e.fsFailure("replace output", err)
	}
	return nil
}

// FrameCount returns the number of frames in the output, 0 when it does not
// exist yet.
func (e *FFmpeg) FrameCount(ctx context.Context) (int, error) {
	return e.count(ctx, "count output frames", e.opts.Output)
}

// Finalize muxes the first audio stream of the source into the output. It
// is a no-op when audio muxing is disabled or the source has no audio.
func (e *FFmpeg) Finalize(ctx context.Context) error {
	if !e.opts.MuxAudio || !e.opts.Source.HasAudio {
		return nil
	}
	ctx, cancel := e.callContext(ctx)
	defer cancel()

	frames, err := e.count(ctx, "count output frames", e.opts.Output)
	if err != nil {
		return err
	}
	if frames == 0 {
		return &FatalError{Op: "mux audio", Err: fmt.Errorf("output %s has no frames", e.opts.Output)}
	}

	tmp := fsx.TempPath(e.opts.Output)
	defer os.Remove(tmp)
	args := ffmpeg.MuxAudioArgs(e.opts.Output, e.opts.Source.Path, tmp, e.opts.Verbose)
	if err := e.run(ctx, "mux audio", args); err != nil {
		return err
	}
	if err := e.verify(ctx, "mux audio", tmp, frames); err != nil {
		return err
	}
	if err := fsx.Replace(tmp, e.opts.Output); err != nil {
		return e.fsFailure("replace output", err)
	}
	return nil
}

// CleanTemps removes temp files a killed run left next to the output.
func (e *FFmpeg) CleanTemps() ([]string, error) {
	dir, base := filepath.Split(e.opts.Output)
	if dir == "" {
		dir = "."
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !fsx.IsTemp(name) || !strings.HasPrefix(name[len(fsx.TempPrefix):], stem+"-") {
			continue
		}
		p := filepath.Join(dir, name)
		if err := fsx.RemoveIfExists(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}

// --- helpers ---

func (e *FFmpeg) run(ctx context.Context, op string, args []string) error {
	res := e.opts.Runner.Run(ctx, args)
	if res.Err == nil {
		return nil
	}
	if ffmpeg.IsMissingBinary(res.Err) {
		return &FatalError{Op: op, Err: fmt.Errorf("ffmpeg not runnable: %w", res.Err)}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransientError{Op: op, Err: fmt.Errorf("timed out after %s: %w", e.opts.Timeout, ctx.Err())}
	}

	cat := ffmpeg.Classify(res.Stderr)
	err := fmt.Errorf("ffmpeg: %w: %s", res.Err, lastLine(res.Stderr))
	switch cat {
	case ffmpeg.PermissionDenied, ffmpeg.MissingEncoder:
		return &FatalError{Op: op, Err: err}
	default:
		return &TransientError{Op: op, Category: cat, Stderr: res.Stderr, Err: err}
	}
}

func (e *FFmpeg) count(ctx context.Context, op, path string) (int, error) {
	n, err := e.opts.Counter.CountFrames(ctx, path)
	if err == nil {
		return n, nil
	}
	if ffmpeg.IsMissingBinary(err) {
		return 0, &FatalError{Op: op, Err: fmt.Errorf("ffprobe not runnable: %w", err)}
	}
	return 0, &TransientError{Op: op, Err: err}
}

func (e *FFmpeg) verify(ctx context.Context, op, path string, want int) error {
	got, err := e.count(ctx, op, path)
	if err != nil {
		return err
	}
	if got != want {
		return &TransientError{Op: op, Err: fmt.Errorf("%s holds %d frames, expected %d", filepath.Base(path), got, want)}
	}
	return nil
}

func (e *FFmpeg) checkOutputDir() error {
	dir := filepath.Dir(e.opts.Output)
	fi, err := os.Stat(dir)
	if err != nil {
		return &FatalError{Op: "append", Err: fmt.Errorf("output directory: %w", err)}
	}
	if !fi.IsDir() {
		return &FatalError{Op: "append", Err: fmt.Errorf("output directory %s is not a directory", dir)}
	}
	return nil
}

// writeList stores an ffconcat list next to the output.
func (e *FFmpeg) writeList(data []byte) (string, error) {
	dir, base := filepath.Split(e.opts.Output)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	p := fsx.TempPath(filepath.Join(dir, stem+".txt"))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", e.fsFailure("write concat list", err)
	}
	return p, nil
}

// fsFailure classifies a file system error: permission problems are fatal,
// anything else (a full disk, a transient I/O error) is retried.
func (e *FFmpeg) fsFailure(op string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return &FatalError{Op: op, Err: err}
	}
	return &TransientError{Op: op, Category: ffmpeg.Classify(err.Error()), Err: err}
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func absPaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			out[i] = abs
		} else {
			out[i] = p
		}
	}
	return out
}

// lastLine returns the last non-empty line of ffmpeg's stderr, which
// usually names the failure.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return "no output"
}
