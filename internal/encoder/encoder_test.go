package encoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/framemerge/internal/config"
	"github.com/backmassage/framemerge/internal/encoder/encodertest"
	"github.com/backmassage/framemerge/internal/ffmpeg"
	"github.com/backmassage/framemerge/internal/fsx"
	"github.com/backmassage/framemerge/internal/naming"
	"github.com/backmassage/framemerge/internal/planner"
	"github.com/backmassage/framemerge/internal/probe"
)

type fixture struct {
	frameDir string
	output   string
	pattern  naming.Pattern
	runner   *encodertest.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		frameDir: filepath.Join(root, "frames"),
		output:   filepath.Join(root, "out", "video.mp4"),
		pattern:  naming.MustPattern("%06d.png"),
		runner:   &encodertest.Runner{},
	}
	require.NoError(t, os.MkdirAll(f.frameDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(f.output), 0o755))
	return f
}

func (f *fixture) options() Options {
	return Options{
		Output:   f.output,
		FrameDir: f.frameDir,
		Pattern:  f.pattern,
		Profile:  config.DefaultEncoderProfile(),
		Source:   Source{Path: "/videos/source.mkv", FrameRate: "30/1", HasAudio: true},
		Runner:   f.runner,
		Counter:  encodertest.Counter{},
		MuxAudio: true,
	}
}

// batch writes frame files [start, end] and returns them as a batch.
func (f *fixture) batch(t *testing.T, start, end int) planner.Batch {
	t.Helper()
	b := planner.Batch{Start: start, End: end}
	for i := start; i <= end; i++ {
		p := f.pattern.Path(f.frameDir, i)
		require.NoError(t, os.WriteFile(p, []byte("png"), 0o644))
		b.Frames = append(b.Frames, planner.Frame{Index: i, Path: p, Size: 3})
	}
	return b
}

func (f *fixture) frames(t *testing.T) []string {
	t.Helper()
	names, err := encodertest.Frames(f.output)
	require.NoError(t, err)
	return names
}

func names(start, end int) []string {
	var out []string
	for i := start; i <= end; i++ {
		out = append(out, fmt.Sprintf("%06d.png", i))
	}
	return out
}

// assertNoTemps checks that only the output is left in its directory.
func assertNoTemps(t *testing.T, output string) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(output))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, fsx.IsTemp(e.Name()), "leftover temp file %s", e.Name())
	}
}

func TestAppend_FirstThenJoin(t *testing.T) {
	f := newFixture(t)
	enc := New(f.options())
	ctx := context.Background()

	c1, err := enc.Append(ctx, f.batch(t, 0, 4))
	require.NoError(t, err)
	assert.Equal(t, 5, c1.Frames)
	assert.Positive(t, c1.OutputBytes)
	assert.Equal(t, names(0, 4), f.frames(t))

	c2, err := enc.Append(ctx, f.batch(t, 5, 7))
	require.NoError(t, err)
	assert.Equal(t, 8, c2.Frames)
	assert.Equal(t, names(0, 7), f.frames(t))

	n, err := enc.FrameCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assertNoTemps(t, f.output)

	// first batch: encode only; second: encode + join.
	assert.Len(t, f.runner.Calls(), 3)
}

func TestAppend_IgnoresInterrupt(t *testing.T) {
	f := newFixture(t)
	enc := New(f.options())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := enc.Append(ctx, f.batch(t, 0, 2))
	require.NoError(t, err, "an interrupt must not abort an append")
	assert.Equal(t, names(0, 2), f.frames(t))
}

func TestAppend_VFRUsesFrameList(t *testing.T) {
	f := newFixture(t)
	opts := f.options()
	opts.Source.VFR = true
	opts.Source.StartIndex = 10
	opts.Source.Durations = []float64{0.1, 0.2, 0.3, 0.4}
	enc := New(opts)

	_, err := enc.Append(context.Background(), f.batch(t, 11, 13))
	require.NoError(t, err)
	assert.Equal(t, names(11, 13), f.frames(t))

	args := strings.Join(f.runner.Calls()[0], " ")
	assert.Contains(t, args, "-f concat")
	assert.Contains(t, args, "-vsync vfr")
	assertNoTemps(t, f.output)

	_, err = enc.Append(context.Background(), f.batch(t, 14, 14))
	require.Error(t, err, "frame past the source has no duration")
	assert.True(t, IsFatal(err))
}

func TestAppend_JoinFailureLeavesOutput(t *testing.T) {
	f := newFixture(t)
	enc := New(f.options())
	ctx := context.Background()
	_, err := enc.Append(ctx, f.batch(t, 0, 4))
	require.NoError(t, err)
	before, err := os.ReadFile(f.output)
	require.NoError(t, err)

	f.runner.Fail = func(args []string) *ffmpeg.ExecResult {
		if !strings.Contains(strings.Join(args, " "), "-c:v") {
			return &ffmpeg.ExecResult{Stderr: "Conversion failed!", Err: errors.New("exit status 1")}
		}
		return nil
	}
	_, err = enc.Append(ctx, f.batch(t, 5, 9))
	require.Error(t, err)
	assert.True(t, IsTransient(err), "got %v", err)

	after, err := os.ReadFile(f.output)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assertNoTemps(t, f.output)
}

// inflated reports one extra frame for temp files, simulating a join that
// duplicated a frame.
type inflated struct{ encodertest.Counter }

func (c inflated) CountFrames(ctx context.Context, path string) (int, error) {
	n, err := c.Counter.CountFrames(ctx, path)
	if fsx.IsTemp(path) {
		n++
	}
	return n, err
}

func TestAppend_CountMismatchIsTransient(t *testing.T) {
	f := newFixture(t)
	opts := f.options()
	enc := New(opts)
	_, err := enc.Append(context.Background(), f.batch(t, 0, 4))
	require.NoError(t, err)

	opts.Counter = inflated{}
	enc = New(opts)
	_, err = enc.Append(context.Background(), f.batch(t, 5, 9))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "expected 10")
	assert.Equal(t, names(0, 4), f.frames(t))
	assertNoTemps(t, f.output)
}

func TestAppend_FailureClassification(t *testing.T) {
	tests := []struct {
		name      string
		result    ffmpeg.ExecResult
		wantFatal bool
	}{
		{"missing binary", ffmpeg.ExecResult{Err: exec.ErrNotFound}, true},
		{"permission", ffmpeg.ExecResult{Stderr: "video.mp4: Permission denied", Err: errors.New("exit status 1")}, true},
		{"missing encoder", ffmpeg.ExecResult{Stderr: "Unknown encoder 'libx264'", Err: errors.New("exit status 1")}, true},
		{"disk full", ffmpeg.ExecResult{Stderr: "No space left on device", Err: errors.New("exit status 1")}, false},
		{"corrupt frame", ffmpeg.ExecResult{Stderr: "Invalid data found when processing input", Err: errors.New("exit status 1")}, false},
		{"unknown", ffmpeg.ExecResult{Stderr: "Conversion failed!", Err: errors.New("exit status 1")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.runner.Fail = func([]string) *ffmpeg.ExecResult { return &tt.result }
			_, err := New(f.options()).Append(context.Background(), f.batch(t, 0, 1))
			require.Error(t, err)
			assert.Equal(t, tt.wantFatal, IsFatal(err), "got %v", err)
			assert.Equal(t, !tt.wantFatal, IsTransient(err), "got %v", err)
			_, statErr := os.Stat(f.output)
			assert.True(t, os.IsNotExist(statErr))
			assertNoTemps(t, f.output)
		})
	}
}

func TestAppend_MissingProbeIsFatal(t *testing.T) {
	f := newFixture(t)
	opts := f.options()
	opts.Counter = encodertest.Counter{Err: fmt.Errorf("ffprobe: %w", exec.ErrNotFound)}
	_, err := New(opts).Append(context.Background(), f.batch(t, 0, 1))
	assert.True(t, IsFatal(err), "got %v", err)
}

func TestAppend_MissingOutputDirIsFatal(t *testing.T) {
	f := newFixture(t)
	opts := f.options()
	opts.Output = filepath.Join(t.TempDir(), "gone", "video.mp4")
	_, err := New(opts).Append(context.Background(), f.batch(t, 0, 1))
	assert.True(t, IsFatal(err), "got %v", err)
}

// blockingRunner waits until its context ends.
type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, _ []string) ffmpeg.ExecResult {
	<-ctx.Done()
	return ffmpeg.ExecResult{Err: errors.New("signal: killed")}
}

func TestAppend_TimeoutIsTransient(t *testing.T) {
	f := newFixture(t)
	opts := f.options()
	opts.Runner = blockingRunner{}
	opts.Timeout = 20 * time.Millisecond
	_, err := New(opts).Append(context.Background(), f.batch(t, 0, 1))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	enc := New(f.options())
	ctx := context.Background()
	_, err := enc.Append(ctx, f.batch(t, 0, 2))
	require.NoError(t, err)

	require.NoError(t, enc.Finalize(ctx))
	assert.True(t, encodertest.HasAudio(f.output))
	assert.Equal(t, names(0, 2), f.frames(t))

	// Running it again after a crash before the state was saved is harmless.
	require.NoError(t, enc.Finalize(ctx))
	assert.Equal(t, names(0, 2), f.frames(t))
	assertNoTemps(t, f.output)
}

func TestFinalize_NoOp(t *testing.T) {
	for _, tc := range []struct {
		name     string
		muxAudio bool
		hasAudio bool
	}{
		{"disabled", false, true},
		{"silent source", true, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			opts := f.options()
			opts.MuxAudio = tc.muxAudio
			opts.Source.HasAudio = tc.hasAudio
			enc := New(opts)
			require.NoError(t, enc.Finalize(context.Background()))
			assert.Empty(t, f.runner.Calls())
		})
	}
}

func TestCleanTemps(t *testing.T) {
	f := newFixture(t)
	enc := New(f.options())
	stale := fsx.TempPath(f.output)
	other := filepath.Join(filepath.Dir(f.output), ".fm-othervideo-1234.mp4")
	require.NoError(t, os.WriteFile(stale, nil, 0o644))
	require.NoError(t, os.WriteFile(other, nil, 0o644))

	removed, err := enc.CleanTemps()
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, removed)
	_, err = os.Stat(other)
	assert.NoError(t, err, "temps of other outputs are kept")
}

// --- Integration with the real tools ---

func requireTools(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed", bin)
		}
	}
	out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").Output()
	if err != nil || !strings.Contains(string(out), "libx264") {
		t.Skip("ffmpeg without libx264")
	}
}

func writePNG(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 33, 17))
	for y := 0; y < 17; y++ {
		for x := 0; x < 33; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 7), B: uint8(y * 13), A: 255})
		}
	}
	fh, err := os.Create(path)
	require.NoError(t, err)
	defer fh.Close()
	require.NoError(t, png.Encode(fh, img))
}

func TestAppend_RealFFmpeg(t *testing.T) {
	requireTools(t)
	f := newFixture(t)
	opts := f.options()
	opts.Runner = ffmpeg.Runner{}
	opts.Counter = probe.Prober{}
	opts.Profile.Preset = "ultrafast"
	opts.Source.HasAudio = false
	enc := New(opts)

	mk := func(start, end int) planner.Batch {
		b := planner.Batch{Start: start, End: end}
		for i := start; i <= end; i++ {
			p := f.pattern.Path(f.frameDir, i)
			writePNG(t, p, uint8(i*20))
			b.Frames = append(b.Frames, planner.Frame{Index: i, Path: p})
		}
		return b
	}

	ctx := context.Background()
	_, err := enc.Append(ctx, mk(0, 4))
	require.NoError(t, err)
	c, err := enc.Append(ctx, mk(5, 9))
	require.NoError(t, err)
	assert.Equal(t, 10, c.Frames)

	n, err := enc.FrameCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assertNoTemps(t, f.output)
}
