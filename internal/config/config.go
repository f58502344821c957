// Package config holds runtime configuration: defaults, CLI flag binding, the
// optional encoder profile file, and validation. Encoder defaults match the
// x264 arguments the merge script has always used.
package config

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/backmassage/framemerge/internal/naming"
)

// --- Enum types for validated string fields ---

// Mode selects between starting a new merge and continuing a persisted one.
type Mode string

const (
	ModeFresh  Mode = "fresh"  // New work directory; state must not exist.
	ModeResume Mode = "resume" // Continue from <workdir>/framemerge.json.
)

// SettleMode selects the completeness heuristic applied to frame files.
type SettleMode string

const (
	SettleMtime     SettleMode = "mtime"     // Modification time older than SettleTime (default).
	SettleStable    SettleMode = "stable"    // Size and mtime unchanged across two scans.
	SettleMarker    SettleMode = "marker"    // Sibling "<frame><MarkerSuffix>" exists.
	SettleSuccessor SettleMode = "successor" // The next frame file exists.
)

// ColorMode controls ANSI color output.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"   // Enable colors when stdout is a TTY (default).
	ColorAlways ColorMode = "always" // Force colors on.
	ColorNever  ColorMode = "never"  // Disable colors entirely.
)

// EncoderProfile carries the ffmpeg video encoding parameters used for every
// segment. All segments of one output must share a profile so that they can
// be joined with stream copy; the profile is therefore persisted in the
// resume state and never changed on resume.
type EncoderProfile struct {
	Codec       string   `yaml:"codec" json:"codec"`
	Preset      string   `yaml:"preset" json:"preset"`
	CRF         int      `yaml:"crf" json:"crf"`
	PixFmt      string   `yaml:"pix_fmt" json:"pix_fmt"`
	X264Params  string   `yaml:"x264_params" json:"x264_params,omitempty"`
	VideoFilter string   `yaml:"video_filter" json:"video_filter,omitempty"`
	VFRRate     int      `yaml:"vfr_rate" json:"vfr_rate"` // Output timebase rate for variable frame rate sources.
	ExtraArgs   []string `yaml:"extra_args" json:"extra_args,omitempty"`
}

// DefaultEncoderProfile returns the libx264 settings of the original merge
// script: visually lossless CRF, short closed GOPs, even dimensions.
func DefaultEncoderProfile() EncoderProfile {
	return EncoderProfile{
		Codec:       "libx264",
		Preset:      "slow",
		CRF:         17,
		PixFmt:      "yuv420p",
		X264Params:  "keyint=15:scenecut=0",
		VideoFilter: "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		VFRRate:     120,
	}
}

// Config holds all runtime settings. It is populated by [DefaultConfig] and
// then mutated by the flag [Binder] before being passed (by pointer) to
// packages that need it.
type Config struct {
	// Fresh-run paths.
	InputPath  string
	WorkDir    string
	OutputPath string

	// Resume-run path. Non-empty selects ModeResume.
	ResumeDir string

	// Batching (fresh run only; persisted in state).
	StartIndex   int           // Default: 0. Index of the first frame file.
	BatchSize    int           // Default: 1800 (one minute at 30 fps).
	PollInterval time.Duration // Default: 60s.
	TotalFrames  int           // Default: 0 = frame count of the source video.
	FramePattern string        // Default: "%06d.png".
	Encoder      EncoderProfile
	ProfilePath  string // Optional YAML file overriding Encoder fields.

	// Runtime knobs (allowed in both modes).
	FlushIdle     time.Duration // Default: 0 (disabled). Flush an undersized tail after this much producer inactivity.
	SettleMode    SettleMode    // Default: "mtime".
	SettleTime    time.Duration // Default: 3s.
	MarkerSuffix  string        // Default: ".done".
	EncodeTimeout time.Duration // Default: 0 (none).
	MaxRetries    int           // Default: 5 consecutive transient failures; 0 = unlimited.
	MuxAudio      bool          // Default: true. Cleared by --no-audio.
	MinFreeBytes  int64         // Default: 0. Extra headroom required beyond the estimated need.
	Watch         bool          // Default: true. Cleared by --no-watch.

	// External tools.
	FFmpegPath  string // Default: "ffmpeg".
	FFprobePath string // Default: "ffprobe".

	// Display and logging.
	Verbose   bool
	ColorMode ColorMode // Default: "auto".
	LogFile   string    // Optional log file path.
}

// DefaultConfig returns a Config with all defaults applied. Used as the base
// before flag binding applies CLI overrides.
func DefaultConfig() Config {
	return Config{
		StartIndex:   0,
		BatchSize:    1800,
		PollInterval: 60 * time.Second,
		FramePattern: "%06d.png",
		Encoder:      DefaultEncoderProfile(),
		SettleMode:   SettleMtime,
		SettleTime:   3 * time.Second,
		MarkerSuffix: ".done",
		MaxRetries:   5,
		MuxAudio:     true,
		Watch:        true,
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		ColorMode:    ColorAuto,
	}
}

// Mode reports which run mode the configuration selects.
func (c *Config) Mode() Mode {
	if c.ResumeDir != "" {
		return ModeResume
	}
	return ModeFresh
}

// StateDir returns the work directory for either mode.
func (c *Config) StateDir() string {
	if c.Mode() == ModeResume {
		return c.ResumeDir
	}
	return c.WorkDir
}

// Validate checks mode exclusivity, required paths for the selected mode and
// the numeric and enum fields. It performs no I/O.
func (c *Config) Validate() error {
	switch c.SettleMode {
	case SettleMtime, SettleStable, SettleMarker, SettleSuccessor:
		// valid
	default:
		return fmt.Errorf("invalid settle mode %q (use mtime, stable, marker or successor)", c.SettleMode)
	}
	switch c.ColorMode {
	case ColorAuto, ColorAlways, ColorNever:
		// valid
	default:
		return errors.New("invalid color mode (use 'auto', 'always' or 'never')")
	}
	if c.SettleTime < 0 {
		return errors.New("settle time must not be negative")
	}
	if c.FlushIdle < 0 {
		return errors.New("flush idle time must not be negative")
	}
	if c.EncodeTimeout < 0 {
		return errors.New("encode timeout must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if c.MinFreeBytes < 0 {
		return errors.New("minimum free space must not be negative")
	}
	if c.SettleMode == SettleMarker && strings.TrimSpace(c.MarkerSuffix) == "" {
		return errors.New("marker settle mode needs a marker suffix")
	}

	if c.Mode() == ModeResume {
		if c.InputPath != "" || c.OutputPath != "" {
			return errors.New("--resume takes only the work directory; input and output come from the saved state")
		}
		if c.WorkDir != "" && filepath.Clean(c.WorkDir) != filepath.Clean(c.ResumeDir) {
			return fmt.Errorf("--work-dir %q does not match --resume %q", c.WorkDir, c.ResumeDir)
		}
		return nil
	}

	if c.InputPath == "" || c.WorkDir == "" || c.OutputPath == "" {
		return errors.New("a fresh run needs --input, --work-dir and --output (or --resume <work-dir>)")
	}
	if filepath.Clean(c.InputPath) == filepath.Clean(c.OutputPath) {
		return errors.New("output must not be the input video")
	}
	if c.StartIndex < 0 {
		return errors.New("start index must not be negative")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	if c.PollInterval < 0 {
		return errors.New("poll interval must not be negative")
	}
	if c.TotalFrames < 0 {
		return errors.New("total frames must not be negative")
	}
	if _, err := naming.ParsePattern(c.FramePattern); err != nil {
		return err
	}
	return validateProfile(&c.Encoder)
}

func validateProfile(p *EncoderProfile) error {
	if strings.TrimSpace(p.Codec) == "" {
		return errors.New("encoder profile: codec must not be empty")
	}
	if p.CRF < 0 || p.CRF > 63 {
		return fmt.Errorf("encoder profile: crf %d out of range 0-63", p.CRF)
	}
	if p.VFRRate <= 0 {
		return errors.New("encoder profile: vfr_rate must be positive")
	}
	return nil
}

// ParseSize parses a byte size such as "512MB", "2GiB", "1.5G" or
// "1048576". Decimal units (k, MB, G) are powers of 1000, binary units
// (KiB, Mi, GiB) powers of 1024.
func ParseSize(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q (use e.g. 512MB or 2GiB): %w", raw, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size %q is too large", raw)
	}
	return int64(n), nil
}
