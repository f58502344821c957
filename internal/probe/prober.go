package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Prober runs ffprobe. The zero value uses "ffprobe" from PATH.
type Prober struct {
	Bin string
}

func (p Prober) bin() string {
	if p.Bin == "" {
		return "ffprobe"
	}
	return p.Bin
}

func (p Prober) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.bin(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", p.bin(), err, msg)
		}
		return nil, fmt.Errorf("%s: %w", p.bin(), err)
	}
	return out, nil
}

// Probe runs a single ffprobe JSON call against path and returns the parsed
// format and stream information.
func (p Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	out, err := p.run(ctx,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("probe %q: %w", path, err)
	}
	return ParseJSON(out)
}

// CountFrames returns the number of video packets in path, which for the
// intra-frame-timed outputs written by the encoder equals the frame count.
// A missing file counts as zero frames.
func (p Prober) CountFrames(ctx context.Context, path string) (int, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	out, err := p.run(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-print_format", "json",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("count frames %q: %w", path, err)
	}
	return ParsePacketCount(out)
}

// FrameDurations returns the display duration in seconds of every frame of
// the primary video stream in path, in presentation order.
func (p Prober) FrameDurations(ctx context.Context, path string) ([]float64, error) {
	out, err := p.run(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "frame=duration_time,pkt_duration_time",
		"-print_format", "json",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("frame durations %q: %w", path, err)
	}
	return ParseFrameDurations(out)
}

// SourceInfo is the metadata of the source video that the frame images do
// not carry.
type SourceInfo struct {
	FrameRate  string    // ffmpeg rational, e.g. "24000/1001".
	FrameCount int       // Frames in the primary video stream.
	VFR        bool      // Variable frame rate; Durations is set.
	Durations  []float64 // Per-frame durations (VFR only).
	HasAudio   bool
}

// Source probes the source video once: stream metadata, the frame count
// (stream header first, packet count as fallback) and, for variable frame
// rate sources, the per-frame durations.
func (p Prober) Source(ctx context.Context, path string) (*SourceInfo, error) {
	pr, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if pr.PrimaryVideo == nil {
		return nil, fmt.Errorf("probe %q: no video stream", path)
	}

	info := &SourceInfo{
		FrameRate:  pr.FrameRate(),
		FrameCount: pr.PrimaryVideo.NbFrames,
		VFR:        pr.IsVFR(),
		HasAudio:   pr.HasAudio(),
	}
	if info.FrameRate == "" {
		return nil, fmt.Errorf("probe %q: no usable frame rate", path)
	}

	if info.FrameCount <= 0 {
		n, err := p.CountFrames(ctx, path)
		if err != nil {
			return nil, err
		}
		info.FrameCount = n
	}

	if info.VFR {
		d, err := p.FrameDurations(ctx, path)
		if err != nil {
			return nil, err
		}
		if len(d) != info.FrameCount {
			return nil, fmt.Errorf("probe %q: %d frame durations for %d frames", path, len(d), info.FrameCount)
		}
		info.Durations = d
	}
	return info, nil
}

// ParseJSON converts raw ffprobe JSON output into a ProbeResult.
func ParseJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	return buildResult(&raw), nil
}

// ParsePacketCount extracts nb_read_packets of the first stream.
func ParsePacketCount(data []byte) (int, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	if len(raw.Streams) == 0 {
		return 0, errors.New("ffprobe reported no video stream")
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw.Streams[0].NbReadPackets))
	if err != nil {
		return 0, fmt.Errorf("parse packet count %q: %w", raw.Streams[0].NbReadPackets, err)
	}
	return n, nil
}

// ParseFrameDurations extracts per-frame durations, accepting both the
// current "duration_time" and the legacy "pkt_duration_time" field.
func ParseFrameDurations(data []byte) ([]float64, error) {
	var raw struct {
		Frames []struct {
			DurationTime    string `json:"duration_time"`
			PktDurationTime string `json:"pkt_duration_time"`
		} `json:"frames"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	durations := make([]float64, 0, len(raw.Frames))
	for i, f := range raw.Frames {
		s := f.DurationTime
		if s == "" {
			s = f.PktDurationTime
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("frame %d: invalid duration %q", i, s)
		}
		durations = append(durations, d)
	}
	return durations, nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type ffprobeStream struct {
	Index         int            `json:"index"`
	CodecName     string         `json:"codec_name"`
	CodecType     string         `json:"codec_type"`
	PixFmt        string         `json:"pix_fmt"`
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	AvgFrameRate  string         `json:"avg_frame_rate"`
	RFrameRate    string         `json:"r_frame_rate"`
	NbFrames      string         `json:"nb_frames"`
	NbReadPackets string         `json:"nb_read_packets"`
	Channels      int            `json:"channels"`
	SampleRate    string         `json:"sample_rate"`
	Disposition   map[string]int `json:"disposition"`
}

// --- Conversion from wire types to domain types ---

func buildResult(raw *ffprobeOutput) *ProbeResult {
	pr := &ProbeResult{
		Format: FormatInfo{
			Filename:   raw.Format.Filename,
			FormatName: raw.Format.FormatName,
			Duration:   parseFloat(raw.Format.Duration),
			Size:       parseInt64(raw.Format.Size),
		},
	}

	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			vs := VideoStream{
				Index:         s.Index,
				Codec:         s.CodecName,
				PixFmt:        s.PixFmt,
				Width:         s.Width,
				Height:        s.Height,
				AvgFrameRate:  s.AvgFrameRate,
				RFrameRate:    s.RFrameRate,
				NbFrames:      parseInt(s.NbFrames),
				IsAttachedPic: s.Disposition["attached_pic"] == 1,
			}
			if !vs.IsAttachedPic && pr.PrimaryVideo == nil {
				pr.PrimaryVideo = &vs
			}
		case "audio":
			pr.AudioStreams = append(pr.AudioStreams, AudioStream{
				Index:      s.Index,
				Codec:      s.CodecName,
				Channels:   s.Channels,
				SampleRate: parseInt(s.SampleRate),
			})
		}
	}
	return pr
}

// --- Numeric parsing helpers (ffprobe returns numbers as strings) ---

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
