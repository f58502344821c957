package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/framemerge/internal/config"
)

// argValue returns the argument following flag, or "" when absent.
func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestSegmentArgs_CFR(t *testing.T) {
	in := SegmentInput{Dir: "/work", Pattern: "%06d.png", Start: 100, Count: 50, FrameRate: "24000/1001"}
	args := SegmentArgs(in, config.DefaultEncoderProfile(), "/out/.seg.mp4", false)

	assert.Equal(t, "24000/1001", argValue(args, "-framerate"))
	assert.Equal(t, "100", argValue(args, "-start_number"))
	assert.Equal(t, filepath.Join("/work", "%06d.png"), argValue(args, "-i"))
	assert.Equal(t, "50", argValue(args, "-frames:v"))
	assert.Equal(t, "libx264", argValue(args, "-c:v"))
	assert.Equal(t, "slow", argValue(args, "-preset"))
	assert.Equal(t, "17", argValue(args, "-crf"))
	assert.Equal(t, "keyint=15:scenecut=0", argValue(args, "-x264-params"))
	assert.Equal(t, "yuv420p", argValue(args, "-pix_fmt"))
	assert.Equal(t, "pad=ceil(iw/2)*2:ceil(ih/2)*2", argValue(args, "-vf"))
	assert.Equal(t, "error", argValue(args, "-loglevel"))
	assert.NotContains(t, args, "-vsync")
	assert.Equal(t, "/out/.seg.mp4", args[len(args)-1])
}

func TestSegmentArgs_VFR(t *testing.T) {
	in := SegmentInput{Count: 3, ConcatList: "/work/.list.txt"}
	p := config.DefaultEncoderProfile()
	p.ExtraArgs = []string{"-tune", "animation"}
	args := SegmentArgs(in, p, "out.mp4", true)

	assert.Equal(t, "concat", argValue(args, "-f"))
	assert.Equal(t, "/work/.list.txt", argValue(args, "-i"))
	assert.Equal(t, "vfr", argValue(args, "-vsync"))
	assert.Equal(t, "120", argValue(args, "-r"))
	assert.Equal(t, "animation", argValue(args, "-tune"))
	assert.Equal(t, "info", argValue(args, "-loglevel"))
	assert.NotContains(t, args, "-framerate")
	assert.NotContains(t, args, "-start_number")
}

func TestConcatAndMuxArgs(t *testing.T) {
	c := ConcatArgs("list.txt", "joined.mp4", false)
	assert.Equal(t, "list.txt", argValue(c, "-i"))
	assert.Equal(t, "copy", argValue(c, "-c"))
	assert.Equal(t, "joined.mp4", c[len(c)-1])

	m := MuxAudioArgs("video.mp4", "source.mkv", "final.mp4", false)
	assert.Equal(t, []string{"-i", "video.mp4", "-i", "source.mkv"}, m[5:9])
	assert.Contains(t, strings.Join(m, " "), "-map 0:v:0 -map 1:a:0 -c copy")
	assert.NotContains(t, m, "-shortest", "a short audio track must not drop video frames")
	assert.Equal(t, "final.mp4", m[len(m)-1])
}

func TestWriteFileList(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WriteFileList(&b, []string{"/out/a.mp4", "/out/it's.mp4"}))
	assert.Equal(t,
		"ffconcat version 1.0\nfile '/out/a.mp4'\nfile '/out/it'\\''s.mp4'\n",
		b.String())
}

func TestWriteFrameList(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WriteFrameList(&b, []string{"/w/000000.png", "/w/000001.png"}, []float64{0.04, 0.0166}))
	assert.Equal(t,
		"ffconcat version 1.0\n"+
			"file '/w/000000.png'\nduration 0.04\n"+
			"file '/w/000001.png'\nduration 0.0166\n"+
			"file '/w/000001.png'\n",
		b.String())

	assert.Error(t, WriteFrameList(&b, []string{"a"}, nil))
	assert.Error(t, WriteFrameList(&b, nil, nil))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		stderr string
		want   Category
	}{
		{"av_interleaved_write_frame(): No space left on device", NoSpace},
		{"/out/x.mp4: Permission denied", PermissionDenied},
		{"Unknown encoder 'libx265'", MissingEncoder},
		{"/work/000041.png: Invalid data found when processing input", InvalidData},
		{"Conversion failed!", Unknown},
		{"", Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.want.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.stderr))
		})
	}
}

func TestIsMissingBinary(t *testing.T) {
	r := Runner{Bin: filepath.Join(t.TempDir(), "no-such-ffmpeg")}
	res := r.Run(context.Background(), []string{"-version"})
	require.Error(t, res.Err)
	assert.True(t, IsMissingBinary(res.Err))

	_, err := exec.LookPath("definitely-not-a-real-binary-name")
	assert.True(t, IsMissingBinary(err))
}

func TestRunner_CapturesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a POSIX shell")
	}
	bin := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho 'No space left on device' >&2\nexit 1\n"), 0o755))

	var tee strings.Builder
	res := Runner{Bin: bin, Tee: &tee}.Run(context.Background(), nil)
	require.Error(t, res.Err)
	assert.False(t, IsMissingBinary(res.Err))
	assert.Equal(t, NoSpace, Classify(res.Stderr))
	assert.Equal(t, res.Stderr, tee.String())
}

func TestRetryState(t *testing.T) {
	s := NewRetryState(3)
	assert.True(t, s.Advance(Unknown))
	assert.True(t, s.Advance(InvalidData))
	assert.False(t, s.Advance(NoSpace))
	assert.True(t, s.Exhausted())
	assert.Equal(t, NoSpace, s.Last)

	s.Reset()
	assert.False(t, s.Exhausted())
	assert.Equal(t, 0, s.Attempt)

	unlimited := NewRetryState(0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Advance(Unknown))
	}
}
