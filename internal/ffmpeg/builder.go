package ffmpeg

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/backmassage/framemerge/internal/config"
)

// SegmentInput describes the still images one segment is encoded from.
// Constant-rate sources read an image sequence starting at Start; variable
// rate sources read an ffconcat list that carries per-frame durations.
type SegmentInput struct {
	Dir       string // Directory holding the frame files.
	Pattern   string // printf-style frame name, e.g. "%06d.png".
	Start     int    // Index of the first frame.
	Count     int    // Number of frames to encode.
	FrameRate string // Source frame rate as an ffmpeg rational.

	// ConcatList is the path of an ffconcat list; when set the image
	// sequence fields other than Count are ignored.
	ConcatList string
}

// preamble returns the flags shared by every command.
func preamble(verbose bool) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	if verbose {
		return append(args, "-loglevel", "info")
	}
	return append(args, "-loglevel", "error")
}

// SegmentArgs returns the arguments that encode in into the video file out
// using profile p.
func SegmentArgs(in SegmentInput, p config.EncoderProfile, out string, verbose bool) []string {
	args := make([]string, 0, 40)
	args = append(args, preamble(verbose)...)

	// --- Input ---
	if in.ConcatList != "" {
		args = append(args, "-f", "concat", "-safe", "0", "-i", in.ConcatList)
	} else {
		args = append(args,
			"-framerate", in.FrameRate,
			"-start_number", strconv.Itoa(in.Start),
			"-i", filepath.Join(in.Dir, in.Pattern),
		)
	}
	args = append(args, "-frames:v", strconv.Itoa(in.Count), "-an")

	// --- Video codec ---
	args = append(args, "-c:v", p.Codec)
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	args = append(args, "-crf", strconv.Itoa(p.CRF))
	if p.X264Params != "" {
		args = append(args, "-x264-params", p.X264Params)
	}
	if p.PixFmt != "" {
		args = append(args, "-pix_fmt", p.PixFmt)
	}

	// --- Timing (variable rate keeps the listed durations) ---
	if in.ConcatList != "" {
		args = append(args, "-vsync", "vfr", "-r", strconv.Itoa(p.VFRRate))
	}

	if p.VideoFilter != "" {
		args = append(args, "-vf", p.VideoFilter)
	}
	args = append(args, p.ExtraArgs...)

	return append(args, out)
}

// ConcatArgs returns the arguments that join the files listed in the
// ffconcat list into out with stream copy.
func ConcatArgs(list, out string, verbose bool) []string {
	args := preamble(verbose)
	return append(args,
		"-f", "concat", "-safe", "0", "-i", list,
		"-map", "0:v", "-c", "copy",
		out,
	)
}

// MuxAudioArgs returns the arguments that combine the video stream of video
// with the first audio stream of source into out. The source audio is
// copied. The video is never cut to the audio length.
func MuxAudioArgs(video, source, out string, verbose bool) []string {
	args := preamble(verbose)
	return append(args,
		"-i", video, "-i", source,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c", "copy",
		out,
	)
}

const concatHeader = "ffconcat version 1.0"

// WriteFileList writes an ffconcat list that plays paths back to back.
func WriteFileList(w io.Writer, paths []string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, concatHeader)
	for _, p := range paths {
		fmt.Fprintf(bw, "file %s\n", quote(p))
	}
	return bw.Flush()
}

// WriteFrameList writes an ffconcat list showing each image in paths for
// the matching entry of durations (seconds). The concat demuxer ignores the
// duration of the final entry, so the last image is listed twice.
func WriteFrameList(w io.Writer, paths []string, durations []float64) error {
	if len(paths) != len(durations) {
		return fmt.Errorf("frame list: %d paths but %d durations", len(paths), len(durations))
	}
	if len(paths) == 0 {
		return fmt.Errorf("frame list: no frames")
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, concatHeader)
	for i, p := range paths {
		fmt.Fprintf(bw, "file %s\n", quote(p))
		fmt.Fprintf(bw, "duration %s\n", strconv.FormatFloat(durations[i], 'f', -1, 64))
	}
	fmt.Fprintf(bw, "file %s\n", quote(paths[len(paths)-1]))
	return bw.Flush()
}

// quote wraps s in single quotes using the ffconcat escaping rules.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
