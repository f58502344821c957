package check

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/framemerge/internal/config"
)

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) add(level, format string, args ...interface{}) {
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Info(f string, a ...interface{})    { l.add("INFO", f, a...) }
func (l *recordingLogger) Success(f string, a ...interface{}) { l.add("OK", f, a...) }
func (l *recordingLogger) Warn(f string, a ...interface{})    { l.add("WARN", f, a...) }
func (l *recordingLogger) Error(f string, a ...interface{})   { l.add("ERROR", f, a...) }
func (l *recordingLogger) Debug(f string, a ...interface{})   { l.add("DEBUG", f, a...) }

func (l *recordingLogger) contains(s string) bool {
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func missingTools(t *testing.T) config.Config {
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.FFmpegPath = filepath.Join(dir, "no-ffmpeg")
	cfg.FFprobePath = filepath.Join(dir, "no-ffprobe")
	cfg.WorkDir = dir
	return cfg
}

func TestCheckDeps_MissingFfmpeg(t *testing.T) {
	cfg := missingTools(t)
	assert.ErrorIs(t, CheckDeps(&cfg), ErrFfmpegNotFound)
}

func TestRunCheck_ReportsMissingTools(t *testing.T) {
	cfg := missingTools(t)
	cfg.OutputPath = filepath.Join(t.TempDir(), "not-yet", "out.mp4")
	log := &recordingLogger{}
	RunCheck(&cfg, log)

	assert.True(t, log.contains("ERROR "+cfg.FFmpegPath+" not found"))
	assert.True(t, log.contains("ERROR "+cfg.FFprobePath+" not found"))
	assert.True(t, log.contains("test encode failed"))
	assert.True(t, log.contains("work directory"))
	assert.True(t, log.contains("output directory"))
}

func TestHasFormat(t *testing.T) {
	listing := `File formats:
 D. = Demuxing supported
 .E = Muxing supported
 --
 D  concat          Virtual concatenation script
 D  image2          image2 sequence
 D  mov,mp4,m4a,3gp,3g2,mj2 QuickTime / MOV
`
	assert.True(t, hasFormat(listing, "concat"))
	assert.True(t, hasFormat(listing, "image2"))
	assert.True(t, hasFormat(listing, "mp4"))
	assert.False(t, hasFormat(listing, "image2pipe"))
}

func TestEncoderTestArgs(t *testing.T) {
	args := strings.Join(encoderTestArgs(config.DefaultEncoderProfile()), " ")
	assert.Contains(t, args, "-c:v libx264 -crf 17 -preset slow -pix_fmt yuv420p")
	assert.True(t, strings.HasSuffix(args, "-f null -"))
}

func TestFreeSpace(t *testing.T) {
	dir := t.TempDir()
	free, err := FreeSpace(dir)
	require.NoError(t, err)
	assert.Positive(t, free)

	nested, err := FreeSpace(filepath.Join(dir, "a", "b", "out.mp4"))
	require.NoError(t, err, "missing paths resolve to the nearest parent")
	assert.Positive(t, nested)
}

func TestEnsureSpace(t *testing.T) {
	fixed := func(n uint64) SpaceFunc {
		return func(string) (uint64, error) { return n, nil }
	}

	assert.NoError(t, EnsureSpace(fixed(100), "/out", 100))
	assert.NoError(t, EnsureSpace(fixed(0), "/out", 0), "nothing needed")

	err := EnsureSpace(fixed(99), "/out", 100)
	require.Error(t, err)
	assert.True(t, IsInsufficientSpace(err))
	var ise *InsufficientSpaceError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, uint64(99), ise.Free)
	assert.Equal(t, uint64(100), ise.Need)

	boom := errors.New("statfs failed")
	err = EnsureSpace(func(string) (uint64, error) { return 0, boom }, "/out", 1)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsInsufficientSpace(err))
}
