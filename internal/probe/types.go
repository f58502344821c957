package probe

import (
	"strconv"
	"strings"
)

// FormatInfo holds container-level metadata from ffprobe's format section.
type FormatInfo struct {
	Filename   string
	FormatName string
	Duration   float64
	Size       int64
}

// VideoStream holds the parsed properties of a single video stream.
type VideoStream struct {
	Index         int
	Codec         string
	PixFmt        string
	Width         int
	Height        int
	AvgFrameRate  string
	RFrameRate    string
	NbFrames      int
	IsAttachedPic bool
}

// AudioStream holds the parsed properties of a single audio stream.
type AudioStream struct {
	Index      int
	Codec      string
	Channels   int
	SampleRate int
}

// ProbeResult is the fully parsed output of a single ffprobe JSON call.
// PrimaryVideo is the first non-attached-pic video stream (nil if none).
type ProbeResult struct {
	Format       FormatInfo
	PrimaryVideo *VideoStream
	AudioStreams []AudioStream
}

// HasAudio reports whether the file carries at least one audio stream.
func (p *ProbeResult) HasAudio() bool { return len(p.AudioStreams) > 0 }

// FrameRate returns the frame rate ffmpeg should assume for image input,
// preferring the average rate and falling back to the base rate.
func (p *ProbeResult) FrameRate() string {
	if p.PrimaryVideo == nil {
		return ""
	}
	if _, ok := ParseRate(p.PrimaryVideo.AvgFrameRate); ok {
		return p.PrimaryVideo.AvgFrameRate
	}
	if _, ok := ParseRate(p.PrimaryVideo.RFrameRate); ok {
		return p.PrimaryVideo.RFrameRate
	}
	return ""
}

// IsVFR reports whether the primary video has a variable frame rate, judged
// by the base rate differing from the average rate.
func (p *ProbeResult) IsVFR() bool {
	v := p.PrimaryVideo
	if v == nil {
		return false
	}
	avg, ok1 := ParseRate(v.AvgFrameRate)
	base, ok2 := ParseRate(v.RFrameRate)
	if !ok1 || !ok2 {
		return false
	}
	diff := avg - base
	if diff < 0 {
		diff = -diff
	}
	return diff > 0.001*base
}

// ParseRate parses an ffprobe rational ("24000/1001", "30/1", "25") into
// frames per second. "0/0" and malformed values report false.
func ParseRate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	if !found {
		return n, true
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return 0, false
	}
	return n / d, true
}
