// Package check provides system diagnostics (the check command), the
// pre-run dependency validation (CheckDeps) for ffmpeg, ffprobe and the
// configured video encoder, and the free disk space probe used by the
// daemon's space guard.
package check

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/backmassage/framemerge/internal/config"
	"github.com/backmassage/framemerge/internal/display"
)

// Sentinel errors returned by CheckDeps when a required tool or encoder is missing.
var (
	ErrFfmpegNotFound    = errors.New("ffmpeg not found on PATH")
	ErrFfprobeNotFound   = errors.New("ffprobe not found on PATH")
	ErrEncoderTestFailed = errors.New("test encode with the configured codec failed")
)

// Logger is the minimal logging interface needed by RunCheck.
// Defined here (rather than importing the logging package) so that check
// remains dependency-light and testable with a mock logger.
type Logger interface {
	Info(string, ...interface{})
	Success(string, ...interface{})
	Warn(string, ...interface{})
	Error(string, ...interface{})
	Debug(string, ...interface{})
}

// RunCheck runs the interactive check flow: prints availability of ffmpeg
// and ffprobe, the demuxers a merge relies on, a test encode with the
// configured profile, and free space on the work and output disks.
// This is informational only; it does not stop on failure.
func RunCheck(cfg *config.Config, log Logger) {
	log.Info("=== System Check ===")

	checkTool(log, cfg.FFmpegPath)
	checkTool(log, cfg.FFprobePath)
	checkDemuxers(log, cfg.FFmpegPath)
	checkEncoder(log, cfg)
	checkDisk(log, "work directory", cfg.StateDir())
	if cfg.OutputPath != "" {
		checkDisk(log, "output directory", filepath.Dir(cfg.OutputPath))
	}
}

// checkTool verifies bin is on PATH and logs its version string.
func checkTool(log Logger, bin string) {
	if _, err := exec.LookPath(bin); err != nil {
		log.Error("%s not found", bin)
		return
	}
	out, err := exec.Command(bin, "-version").Output()
	if err != nil {
		log.Warn("%s found but -version failed: %v", bin, err)
		return
	}
	firstLine := strings.TrimSpace(string(out))
	if idx := strings.Index(firstLine, "\n"); idx > 0 {
		firstLine = firstLine[:idx]
	}
	log.Success("%s: %s", filepath.Base(bin), firstLine)
}

// checkDemuxers confirms the image sequence and concat demuxers exist.
func checkDemuxers(log Logger, ffmpeg string) {
	out, err := exec.Command(ffmpeg, "-hide_banner", "-demuxers").Output()
	if err != nil {
		log.Warn("Could not list demuxers: %v", err)
		return
	}
	have := string(out)
	for _, name := range []string{"image2", "concat"} {
		if hasFormat(have, name) {
			log.Success("demuxer %s available", name)
		} else {
			log.Error("demuxer %s missing", name)
		}
	}
}

// hasFormat reports whether the -demuxers listing contains name as a format.
func hasFormat(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, f := range strings.Split(fields[1], ",") {
			if f == name {
				return true
			}
		}
	}
	return false
}

// checkEncoder runs a minimal encode with the configured codec.
func checkEncoder(log Logger, cfg *config.Config) {
	log.Info("Testing %s (preset %s, crf %d)...", cfg.Encoder.Codec, cfg.Encoder.Preset, cfg.Encoder.CRF)
	if runSilent(cfg.FFmpegPath, encoderTestArgs(cfg.Encoder)...) {
		log.Success("%s works", cfg.Encoder.Codec)
	} else {
		log.Error("%s test encode failed", cfg.Encoder.Codec)
	}
}

func checkDisk(log Logger, label, dir string) {
	if dir == "" {
		return
	}
	free, err := FreeSpace(dir)
	if err != nil {
		log.Warn("%s: cannot read free space: %v", label, err)
		return
	}
	log.Info("%s %s: %s free", label, dir, display.FormatBytes(int64(free)))
}

// CheckDeps is the pre-run validation: it verifies that ffmpeg and ffprobe
// can be found and that a short encode with the configured profile
// succeeds. Returns a sentinel error on failure.
func CheckDeps(cfg *config.Config) error {
	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		return ErrFfmpegNotFound
	}
	if _, err := exec.LookPath(cfg.FFprobePath); err != nil {
		return ErrFfprobeNotFound
	}
	if !runSilent(cfg.FFmpegPath, encoderTestArgs(cfg.Encoder)...) {
		return fmt.Errorf("%w (%s)", ErrEncoderTestFailed, cfg.Encoder.Codec)
	}
	return nil
}

// --- internal helpers ---

// encoderTestArgs returns the ffmpeg arguments for a minimal test encode
// with profile p. Shared by checkEncoder and CheckDeps.
func encoderTestArgs(p config.EncoderProfile) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-f", "lavfi", "-i", "color=black:s=64x64:d=0.1",
		"-c:v", p.Codec,
		"-crf", strconv.Itoa(p.CRF),
	}
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if p.PixFmt != "" {
		args = append(args, "-pix_fmt", p.PixFmt)
	}
	return append(args, "-f", "null", "-")
}

// runSilent runs a command and returns true if it exits with status 0.
// Both stdout and stderr are discarded.
func runSilent(name string, args ...string) bool {
	cmd := exec.Command(name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}
