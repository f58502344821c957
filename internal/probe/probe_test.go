package probe

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// Matroska source with:
//   - 1 attached pic (cover art, should be skipped as primary video)
//   - 1 H.264 video stream, constant 24000/1001
//   - 1 AAC stereo audio stream
//   - 1 subtitle stream (ignored)
const sampleCFR = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "mjpeg",
      "codec_type": "video",
      "width": 600,
      "height": 900,
      "pix_fmt": "yuvj444p",
      "disposition": { "default": 0, "attached_pic": 1 }
    },
    {
      "index": 1,
      "codec_name": "h264",
      "codec_type": "video",
      "pix_fmt": "yuv420p",
      "width": 1920,
      "height": 1080,
      "r_frame_rate": "24000/1001",
      "avg_frame_rate": "24000/1001",
      "nb_frames": "34488",
      "disposition": { "default": 1, "attached_pic": 0 }
    },
    {
      "index": 2,
      "codec_name": "aac",
      "codec_type": "audio",
      "channels": 2,
      "sample_rate": "48000",
      "disposition": { "default": 1, "attached_pic": 0 }
    },
    {
      "index": 3,
      "codec_name": "ass",
      "codec_type": "subtitle",
      "disposition": { "default": 0 }
    }
  ],
  "format": {
    "filename": "/media/test/source.mkv",
    "format_name": "matroska,webm",
    "duration": "1438.936000",
    "size": "1234567890"
  }
}`

// Phone recording: variable frame rate, no nb_frames in the header.
const sampleVFR = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "hevc",
      "codec_type": "video",
      "pix_fmt": "yuv420p",
      "width": 1280,
      "height": 720,
      "r_frame_rate": "60/1",
      "avg_frame_rate": "8237/275",
      "disposition": { "default": 1, "attached_pic": 0 }
    }
  ],
  "format": {
    "filename": "phone.mov",
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "duration": "10.000",
    "size": "500000"
  }
}`

func TestParseJSON_CFRSource(t *testing.T) {
	pr, err := ParseJSON([]byte(sampleCFR))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}

	if pr.Format.Filename != "/media/test/source.mkv" {
		t.Errorf("filename: got %q", pr.Format.Filename)
	}
	if pr.Format.Duration != 1438.936 {
		t.Errorf("duration: got %f", pr.Format.Duration)
	}
	if pr.Format.Size != 1234567890 {
		t.Errorf("size: got %d", pr.Format.Size)
	}

	if pr.PrimaryVideo == nil {
		t.Fatal("PrimaryVideo is nil")
	}
	if pr.PrimaryVideo.Index != 1 {
		t.Errorf("primary video index: got %d, want 1", pr.PrimaryVideo.Index)
	}
	if pr.PrimaryVideo.NbFrames != 34488 {
		t.Errorf("nb_frames: got %d", pr.PrimaryVideo.NbFrames)
	}
	if got := pr.FrameRate(); got != "24000/1001" {
		t.Errorf("FrameRate: got %q", got)
	}
	if pr.IsVFR() {
		t.Error("constant rate source reported as VFR")
	}

	if !pr.HasAudio() {
		t.Fatal("expected audio")
	}
	a := pr.AudioStreams[0]
	if a.Codec != "aac" || a.Channels != 2 || a.SampleRate != 48000 {
		t.Errorf("audio: codec=%q ch=%d sr=%d", a.Codec, a.Channels, a.SampleRate)
	}
}

func TestParseJSON_VFRSource(t *testing.T) {
	pr, err := ParseJSON([]byte(sampleVFR))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if !pr.IsVFR() {
		t.Error("expected VFR")
	}
	if pr.PrimaryVideo.NbFrames != 0 {
		t.Errorf("nb_frames: got %d, want 0 (absent)", pr.PrimaryVideo.NbFrames)
	}
	if pr.HasAudio() {
		t.Error("expected no audio")
	}
}

func TestParseJSON_InvalidJSON(t *testing.T) {
	if _, err := ParseJSON([]byte(`{invalid`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestAttachedPicSkipped(t *testing.T) {
	j := `{
		"streams": [
			{"index": 0, "codec_name": "mjpeg", "codec_type": "video", "disposition": {"attached_pic": 1}},
			{"index": 1, "codec_name": "aac", "codec_type": "audio", "channels": 2, "sample_rate": "44100"}
		],
		"format": {"filename": "audio_only.m4a"}
	}`
	pr, err := ParseJSON([]byte(j))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if pr.PrimaryVideo != nil {
		t.Error("PrimaryVideo should be nil when only stream is attached_pic")
	}
	if pr.FrameRate() != "" || pr.IsVFR() {
		t.Error("no video should mean no frame rate")
	}
}

func TestParseRate(t *testing.T) {
	cases := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"30/1", 30, true},
		{"25", 25, true},
		{"24000/1001", 24000.0 / 1001.0, true},
		{"0/0", 0, false},
		{"30/0", 0, false},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseRate(tc.in)
			if ok != tc.wantOK || got != tc.want {
				t.Errorf("ParseRate(%q) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestFrameRate_FallsBackToBaseRate(t *testing.T) {
	pr := &ProbeResult{PrimaryVideo: &VideoStream{AvgFrameRate: "0/0", RFrameRate: "25/1"}}
	if got := pr.FrameRate(); got != "25/1" {
		t.Errorf("got %q, want 25/1", got)
	}
}

func TestParsePacketCount(t *testing.T) {
	n, err := ParsePacketCount([]byte(`{"programs":[],"streams":[{"nb_read_packets":"1800"}]}`))
	if err != nil {
		t.Fatalf("ParsePacketCount: %v", err)
	}
	if n != 1800 {
		t.Errorf("got %d, want 1800", n)
	}

	if _, err := ParsePacketCount([]byte(`{"streams":[]}`)); err == nil {
		t.Error("expected error for no streams")
	}
	if _, err := ParsePacketCount([]byte(`{"streams":[{"nb_read_packets":""}]}`)); err == nil {
		t.Error("expected error for empty count")
	}
}

func TestParseFrameDurations(t *testing.T) {
	j := `{"frames":[
		{"duration_time":"0.033333"},
		{"pkt_duration_time":"0.016667"},
		{"duration_time":"0.041708","pkt_duration_time":"0.5"}
	]}`
	d, err := ParseFrameDurations([]byte(j))
	if err != nil {
		t.Fatalf("ParseFrameDurations: %v", err)
	}
	want := []float64{0.033333, 0.016667, 0.041708}
	if len(d) != len(want) {
		t.Fatalf("got %d durations, want %d", len(d), len(want))
	}
	for i := range want {
		if d[i] != want[i] {
			t.Errorf("duration[%d] = %v, want %v", i, d[i], want[i])
		}
	}

	if _, err := ParseFrameDurations([]byte(`{"frames":[{"duration_time":"N/A"}]}`)); err == nil {
		t.Error("expected error for N/A duration")
	}
}

func TestCountFrames_MissingFileIsZero(t *testing.T) {
	p := Prober{Bin: "/nonexistent/ffprobe"}
	n, err := p.CountFrames(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	if err != nil {
		t.Fatalf("CountFrames: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d, want 0", n)
	}
}

// fakeProbe writes a shell script that prints body regardless of arguments.
func fakeProbe(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a POSIX shell")
	}
	dir := t.TempDir()
	data := filepath.Join(dir, "out.json")
	if err := os.WriteFile(data, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(dir, "ffprobe")
	script := "#!/bin/sh\ncat '" + data + "'\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin
}

func TestSource_CFRUsesHeaderCount(t *testing.T) {
	p := Prober{Bin: fakeProbe(t, sampleCFR)}
	info, err := p.Source(context.Background(), "source.mkv")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if info.FrameCount != 34488 || info.FrameRate != "24000/1001" || info.VFR || !info.HasAudio {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.Durations != nil {
		t.Error("durations should only be read for VFR sources")
	}
}

func TestSource_FailingBinary(t *testing.T) {
	p := Prober{Bin: filepath.Join(t.TempDir(), "no-such-ffprobe")}
	if _, err := p.Source(context.Background(), "source.mkv"); err == nil {
		t.Error("expected error when ffprobe is missing")
	}
}
