package display

import (
	"fmt"
	"time"
)

// FormatBytes returns a human-readable size (B, KiB, MiB, GiB, TiB, PiB).
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	suffixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	if exp >= len(suffixes) {
		exp = len(suffixes) - 1
		div = 1
		for i := 0; i <= exp; i++ {
			div *= unit
		}
	}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), suffixes[exp])
}

// FormatRange renders an inclusive frame range, e.g. "[000050..000099] (50 frames)".
func FormatRange(start, end int) string {
	n := end - start + 1
	noun := "frames"
	if n == 1 {
		noun = "frame"
	}
	return fmt.Sprintf("[%06d..%06d] (%d %s)", start, end, n, noun)
}

// FormatRate returns frames per second for n frames encoded in d.
func FormatRate(n int, d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f fps", float64(n)/d.Seconds())
}

// FormatProgress renders done/total with a percentage; total <= 0 means unknown.
func FormatProgress(done, total int) string {
	if total <= 0 {
		return fmt.Sprintf("%d/?", done)
	}
	return fmt.Sprintf("%d/%d (%.1f%%)", done, total, float64(done)*100/float64(total))
}
