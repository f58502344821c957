package display

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"small bytes", 512, "512 B"},
		{"exactly 1 KiB", 1024, "1.0 KiB"},
		{"1.5 KiB", 1536, "1.5 KiB"},
		{"1 MiB", 1024 * 1024, "1.0 MiB"},
		{"1 GiB", 1024 * 1024 * 1024, "1.0 GiB"},
		{"typical png batch 700 MiB", 734003200, "700.0 MiB"},
		{"4.7 GiB", 5046586572, "4.7 GiB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatBytes(tt.bytes)
			if got != tt.want {
				t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestFormatRange(t *testing.T) {
	tests := []struct {
		start, end int
		want       string
	}{
		{0, 49, "[000000..000049] (50 frames)"},
		{7, 7, "[000007..000007] (1 frame)"},
	}
	for _, tt := range tests {
		if got := FormatRange(tt.start, tt.end); got != tt.want {
			t.Errorf("FormatRange(%d, %d) = %q, want %q", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	if got := FormatRate(50, 2*time.Second); got != "25.0 fps" {
		t.Errorf("FormatRate = %q", got)
	}
	if got := FormatRate(50, 0); got != "n/a" {
		t.Errorf("FormatRate zero duration = %q", got)
	}
}

func TestFormatProgress(t *testing.T) {
	if got := FormatProgress(50, 200); got != "50/200 (25.0%)" {
		t.Errorf("FormatProgress = %q", got)
	}
	if got := FormatProgress(50, 0); got != "50/?" {
		t.Errorf("FormatProgress unknown total = %q", got)
	}
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf)
	if !strings.Contains(buf.String(), "|_|") {
		t.Errorf("banner not written: %q", buf.String())
	}
}
