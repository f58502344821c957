package config

// This file binds CLI flags onto Config via pflag (cobra's flag library).
// Flags are grouped into paths, batching, settling, encoding and display.
// Negated flags (e.g. --no-audio) are applied in Finish so Config defaults
// hold unless the user passes the flag.

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// freshOnlyFlags are persisted in the resume state on the first run and may
// not be given again together with --resume.
var freshOnlyFlags = []string{
	"input", "output", "start", "batch-size", "poll",
	"total-frames", "pattern", "profile",
}

// Binder registers flags for a command and applies the post-parse fixups.
type Binder struct {
	cfg     *Config
	negated negatedFlags
	minFree string
}

// negatedFlags holds boolean flags that are applied after parsing.
type negatedFlags struct {
	noAudio    bool
	noWatch    bool
	forceColor bool
	noColor    bool
}

// NewBinder returns a Binder writing into cfg.
func NewBinder(cfg *Config) *Binder {
	return &Binder{cfg: cfg}
}

// BindGlobal registers the display flags shared by every command.
func (b *Binder) BindGlobal(fs *pflag.FlagSet) {
	cfg := b.cfg
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose output")
	fs.BoolVar(&b.negated.forceColor, "color", false, "Force colored logs")
	fs.BoolVar(&b.negated.noColor, "no-color", false, "Disable colored logs")
	fs.StringVarP(&cfg.LogFile, "log", "l", "", "Append logs to file")
}

// BindRun registers the merge flags: paths, batching, settling and encoding.
func (b *Binder) BindRun(fs *pflag.FlagSet) {
	cfg := b.cfg

	// Paths.
	fs.StringVarP(&cfg.InputPath, "input", "i", "", "Source video (frame rate, frame count and audio are read from it)")
	fs.StringVarP(&cfg.WorkDir, "work-dir", "w", "", "Directory the producer writes frames into")
	fs.StringVarP(&cfg.OutputPath, "output", "o", "", "Output video that batches are appended to")
	fs.StringVarP(&cfg.ResumeDir, "resume", "c", "", "Resume the merge saved in this work directory")

	// Batching.
	fs.IntVarP(&cfg.StartIndex, "start", "s", cfg.StartIndex, "Index of the first frame file")
	fs.IntVarP(&cfg.BatchSize, "batch-size", "n", cfg.BatchSize, "Frames per encode")
	fs.DurationVarP(&cfg.PollInterval, "poll", "p", cfg.PollInterval, "Wait between directory scans")
	fs.IntVar(&cfg.TotalFrames, "total-frames", 0, "Frames expected in total (default: frame count of the source)")
	fs.StringVar(&cfg.FramePattern, "pattern", cfg.FramePattern, "Frame file name pattern (zero-padded, e.g. %06d.png)")
	fs.DurationVar(&cfg.FlushIdle, "flush-idle", 0, "Merge an undersized tail after this long without new frames (0 = never)")

	// Settling.
	fs.Var(&settleModeValue{&cfg.SettleMode}, "settle", "Frame completeness check: mtime | stable | marker | successor")
	fs.DurationVar(&cfg.SettleTime, "settle-time", cfg.SettleTime, "Minimum frame age for the mtime check")
	fs.StringVar(&cfg.MarkerSuffix, "marker-suffix", cfg.MarkerSuffix, "Suffix of completion marker files for the marker check")
	fs.BoolVar(&b.negated.noWatch, "no-watch", false, "Do not wake early on file system events; poll only")

	// Encoding.
	fs.StringVar(&cfg.ProfilePath, "profile", "", "YAML encoder profile (codec, preset, crf, pix_fmt, ...)")
	fs.DurationVar(&cfg.EncodeTimeout, "encode-timeout", 0, "Abort a single encode after this long and retry (0 = no limit)")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Consecutive failed encodes before giving up (0 = never)")
	fs.BoolVar(&b.negated.noAudio, "no-audio", false, "Do not mux the source audio into the finished output")
	fs.StringVar(&b.minFree, "min-free", "", "Extra free space to keep on the output disk (e.g. 2GiB)")
	fs.StringVar(&cfg.FFmpegPath, "ffmpeg", cfg.FFmpegPath, "ffmpeg binary")
	fs.StringVar(&cfg.FFprobePath, "ffprobe", cfg.FFprobePath, "ffprobe binary")
}

// Finish applies negated flags, parses sized values, rejects fresh-only flags
// in resume mode and loads the encoder profile file when one was given.
func (b *Binder) Finish(fs *pflag.FlagSet) error {
	applyNegatedFlags(b.cfg, &b.negated)

	if b.minFree != "" {
		n, err := ParseSize(b.minFree)
		if err != nil {
			return err
		}
		b.cfg.MinFreeBytes = n
	}

	if err := CheckResumeConflicts(fs, b.cfg); err != nil {
		return err
	}

	if b.cfg.ProfilePath != "" {
		p, err := LoadProfile(b.cfg.ProfilePath, b.cfg.Encoder)
		if err != nil {
			return err
		}
		b.cfg.Encoder = p
	}
	return nil
}

// CheckResumeConflicts returns an error when --resume is combined with any
// flag whose value is owned by the saved state.
func CheckResumeConflicts(fs *pflag.FlagSet, cfg *Config) error {
	if cfg.Mode() != ModeResume {
		return nil
	}
	var conflicts []string
	for _, name := range freshOnlyFlags {
		if f := fs.Lookup(name); f != nil && f.Changed {
			conflicts = append(conflicts, "--"+name)
		}
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("--resume cannot be combined with %s (those values come from the saved state)",
			strings.Join(conflicts, ", "))
	}
	return nil
}

// applyNegatedFlags copies negated and override flag values into cfg.
func applyNegatedFlags(cfg *Config, n *negatedFlags) {
	if n.noAudio {
		cfg.MuxAudio = false
	}
	if n.noWatch {
		cfg.Watch = false
	}
	if n.noColor {
		cfg.ColorMode = ColorNever
	} else if n.forceColor {
		cfg.ColorMode = ColorAlways
	}
}

// pflag.Value adapter so the settle enum can be used with fs.Var.

type settleModeValue struct{ p *SettleMode }

func (s *settleModeValue) String() string { return string(*s.p) }
func (s *settleModeValue) Type() string   { return "mode" }
func (s *settleModeValue) Set(v string) error {
	switch SettleMode(strings.ToLower(v)) {
	case SettleMtime:
		*s.p = SettleMtime
	case SettleStable:
		*s.p = SettleStable
	case SettleMarker:
		*s.p = SettleMarker
	case SettleSuccessor:
		*s.p = SettleSuccessor
	default:
		return fmt.Errorf("invalid settle mode %q (use mtime, stable, marker or successor)", v)
	}
	return nil
}
