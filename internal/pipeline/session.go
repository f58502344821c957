package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/backmassage/framemerge/internal/check"
	"github.com/backmassage/framemerge/internal/config"
	"github.com/backmassage/framemerge/internal/display"
	"github.com/backmassage/framemerge/internal/encoder"
	"github.com/backmassage/framemerge/internal/ffmpeg"
	"github.com/backmassage/framemerge/internal/logging"
	"github.com/backmassage/framemerge/internal/naming"
	"github.com/backmassage/framemerge/internal/probe"
	"github.com/backmassage/framemerge/internal/settle"
	"github.com/backmassage/framemerge/internal/state"
	"github.com/backmassage/framemerge/internal/watch"
)

// SourceProber reads the metadata of the source video. probe.Prober
// implements it.
type SourceProber interface {
	Source(ctx context.Context, path string) (*probe.SourceInfo, error)
}

// Deps are the external collaborators of a merge. Nil fields are filled in
// from the configuration by NewDaemon.
type Deps struct {
	Prober    SourceProber
	Runner    encoder.CommandRunner
	Counter   encoder.FrameCounter
	FreeSpace check.SpaceFunc
	Settler   settle.Settler // Default: settle.FromConfig.
	Waker     watch.Waker    // Default: fsnotify watcher, or a plain sleeper with --no-watch.
}

// DefaultDeps wires the real ffmpeg, ffprobe and disk usage backends.
func DefaultDeps(cfg *config.Config) Deps {
	prober := probe.Prober{Bin: cfg.FFprobePath}
	return Deps{
		Prober:    prober,
		Runner:    &ffmpeg.Runner{Bin: cfg.FFmpegPath},
		Counter:   prober,
		FreeSpace: check.FreeSpace,
	}
}

func (d *Deps) fill(cfg *config.Config) {
	def := DefaultDeps(cfg)
	if d.Prober == nil {
		d.Prober = def.Prober
	}
	if d.Runner == nil {
		d.Runner = def.Runner
	}
	if d.Counter == nil {
		d.Counter = def.Counter
	}
	if d.FreeSpace == nil {
		d.FreeSpace = def.FreeSpace
	}
}

// Session is an opened merge: its persisted state, the frame naming pattern,
// the source metadata and the encoder bound to the output.
type Session struct {
	State   *state.State
	Pattern naming.Pattern
	Source  *probe.SourceInfo
	Encoder *encoder.FFmpeg
}

// Open starts a fresh merge or loads a persisted one, depending on
// cfg.Mode(). On resume it removes temp files of a killed run, reconciles
// the state with the frames actually present in the output, and deletes
// frames that were merged but never reclaimed. Setup problems are returned
// as *ConfigError before anything is written.
func Open(ctx context.Context, cfg *config.Config, log *logging.Logger, deps Deps) (*Session, error) {
	deps.fill(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}

	var (
		sess *Session
		err  error
	)
	if cfg.Mode() == config.ModeResume {
		sess, err = openResume(ctx, cfg, log, deps)
	} else {
		sess, err = openFresh(ctx, cfg, log, deps)
	}
	if err != nil {
		return nil, err
	}

	st := sess.State
	sess.Encoder = encoder.New(encoder.Options{
		Output:   st.OutputPath,
		FrameDir: st.WorkDir,
		Pattern:  sess.Pattern,
		Profile:  st.Encoder,
		Source: encoder.Source{
			Path:       st.SourcePath,
			FrameRate:  st.FrameRate,
			VFR:        st.VFR,
			Durations:  sess.Source.Durations,
			StartIndex: st.StartIndex,
			HasAudio:   sess.Source.HasAudio,
		},
		Runner:   deps.Runner,
		Counter:  deps.Counter,
		Timeout:  cfg.EncodeTimeout,
		MuxAudio: cfg.MuxAudio,
		Verbose:  log.Verbose(),
	})

	if cfg.Mode() == config.ModeResume {
		if err := resumeCleanup(ctx, cfg, log, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func openFresh(ctx context.Context, cfg *config.Config, log *logging.Logger, deps Deps) (*Session, error) {
	pattern, err := naming.ParsePattern(cfg.FramePattern)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if fi, err := os.Stat(cfg.InputPath); err != nil {
		return nil, configErrorf("input video: %w", err)
	} else if !fi.Mode().IsRegular() {
		return nil, configErrorf("input video %s is not a regular file", cfg.InputPath)
	}
	if _, err := os.Stat(state.Path(cfg.WorkDir)); err == nil {
		return nil, configErrorf("%s already holds a merge; continue it with --resume %s", cfg.WorkDir, cfg.WorkDir)
	}
	if _, err := os.Stat(cfg.OutputPath); err == nil {
		return nil, configErrorf("output %s already exists; remove it or choose another path", cfg.OutputPath)
	}
	if fi, err := os.Stat(filepath.Dir(cfg.OutputPath)); err != nil || !fi.IsDir() {
		return nil, configErrorf("output directory %s does not exist", filepath.Dir(cfg.OutputPath))
	}

	src, err := probeSource(ctx, deps.Prober, cfg.InputPath)
	if err != nil {
		return nil, err
	}
	digest, err := state.Digest(cfg.InputPath)
	if err != nil {
		return nil, fmt.Errorf("digest input: %w", err)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	st := state.New(cfg)
	st.SourceDigest = digest
	st.FrameRate = src.FrameRate
	st.VFR = src.VFR
	if st.TotalFrames == 0 {
		st.TotalFrames = src.FrameCount
	} else if src.FrameCount > 0 && st.TotalFrames > src.FrameCount {
		log.Warn("--total-frames %d is past the end of the source (%d frames)", st.TotalFrames, src.FrameCount)
	}
	if err := state.Create(st); err != nil {
		if errors.Is(err, state.ErrExists) {
			return nil, &ConfigError{Err: err}
		}
		return nil, err
	}

	log.Info("Started merge %s", st.RunID)
	log.Info("  Source: %s (%s fps%s, %d frames)", st.SourcePath, st.FrameRate, vfrLabel(st.VFR), src.FrameCount)
	log.Info("  Frames: %s/%s from index %d, batches of %d", st.WorkDir, st.FramePattern, st.StartIndex, st.BatchSize)
	log.Info("  Output: %s", st.OutputPath)
	return &Session{State: st, Pattern: pattern, Source: src}, nil
}

func openResume(ctx context.Context, cfg *config.Config, log *logging.Logger, deps Deps) (*Session, error) {
	st, err := state.Load(cfg.ResumeDir)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	pattern, err := naming.ParsePattern(st.FramePattern)
	if err != nil {
		return nil, configErrorf("state frame pattern: %w", err)
	}

	if !samePath(st.WorkDir, cfg.ResumeDir) {
		log.Warn("Work directory moved from %s to %s", st.WorkDir, cfg.ResumeDir)
		st.WorkDir = cfg.ResumeDir
	}

	if _, err := os.Stat(st.SourcePath); err != nil {
		return nil, configErrorf("source video: %w", err)
	}
	digest, err := state.Digest(st.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("digest source: %w", err)
	}
	if digest != st.SourceDigest {
		return nil, configErrorf("source %s changed since the merge started (digest %.12s, saved %.12s)",
			st.SourcePath, digest, st.SourceDigest)
	}

	src, err := probeSource(ctx, deps.Prober, st.SourcePath)
	if err != nil {
		return nil, err
	}

	log.Info("Resuming merge %s", st.RunID)
	log.Info("  Merged: %s, next frame %d", display.FormatProgress(st.Merged(), st.TotalFrames), st.NextIndex())
	log.Info("  Output: %s", st.OutputPath)
	return &Session{State: st, Pattern: pattern, Source: src}, nil
}

// resumeCleanup removes temp files, reconciles and reclaims leftovers.
func resumeCleanup(ctx context.Context, cfg *config.Config, log *logging.Logger, sess *Session) error {
	st := sess.State
	if removed, err := sess.Encoder.CleanTemps(); err != nil {
		log.Warn("Cannot remove temp files next to %s: %v", st.OutputPath, err)
	} else {
		for _, p := range removed {
			log.Debug("Removed stale temp file %s", p)
		}
	}

	if err := reconcile(ctx, st, sess.Encoder, log); err != nil {
		return err
	}

	n, err := ReclaimMerged(st.WorkDir, sess.Pattern, st.StartIndex, st.LastMergedIndex, cfg.MarkerSuffix)
	if n > 0 {
		log.Info("Deleted %d already merged frames", n)
	}
	var se *ScannerIOError
	if errors.As(err, &se) {
		return err
	}
	if err != nil {
		log.Warn("%v", err)
	}
	return nil
}

// reconcile compares the state with the output's frame count. A crash
// between an append and the state write leaves the output up to one batch
// ahead; that batch is adopted. Any other disagreement is an
// *InconsistencyError.
func reconcile(ctx context.Context, st *state.State, enc *encoder.FFmpeg, log *logging.Logger) error {
	n, err := enc.FrameCount(ctx)
	if err != nil {
		return fmt.Errorf("count output frames: %w", err)
	}
	derived := st.StartIndex + n - 1
	switch {
	case derived == st.LastMergedIndex:
		return nil
	case derived < st.LastMergedIndex:
		return &InconsistencyError{
			StateIndex:  st.LastMergedIndex,
			OutputIndex: derived,
			Detail:      fmt.Sprintf("output %s has %d frames", st.OutputPath, n),
		}
	case derived-st.LastMergedIndex > st.BatchSize:
		return &InconsistencyError{
			StateIndex:  st.LastMergedIndex,
			OutputIndex: derived,
			Detail:      fmt.Sprintf("more than one batch of %d ahead", st.BatchSize),
		}
	case st.FinalIndex() >= 0 && derived > st.FinalIndex():
		return &InconsistencyError{
			StateIndex:  st.LastMergedIndex,
			OutputIndex: derived,
			Detail:      fmt.Sprintf("past the final frame %d", st.FinalIndex()),
		}
	}

	var size int64
	if fi, err := os.Stat(st.OutputPath); err == nil {
		size = fi.Size()
	}
	log.Warn("Output holds frames %s that were never recorded; adopting them",
		display.FormatRange(st.NextIndex(), derived))
	if err := st.Advance(st.NextIndex(), derived, size); err != nil {
		return err
	}
	return st.Save()
}

func probeSource(ctx context.Context, p SourceProber, path string) (*probe.SourceInfo, error) {
	src, err := p.Source(ctx, path)
	if err == nil {
		return src, nil
	}
	if ffmpeg.IsMissingBinary(err) {
		return nil, &encoder.FatalError{Op: "probe source", Err: err}
	}
	return nil, configErrorf("cannot read source video %s: %w", path, err)
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}

func vfrLabel(vfr bool) string {
	if vfr {
		return ", variable"
	}
	return ""
}
